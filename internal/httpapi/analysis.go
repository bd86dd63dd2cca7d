package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"leelad/internal/engine"
	"leelad/internal/pool"
	"leelad/pkg/types"
)

const analysisTimeout = 2 * time.Minute

// handleAnalysis is the one-shot HTTP façade over the same pool and
// capture primitives the gateway uses: replay a position into a cached
// per-profile engine, capture around genmove, return the parsed result.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req types.AnalysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Moves) == 0 {
		writeError(w, http.StatusBadRequest, "moves are required")
		return
	}
	if req.Genmove != "B" && req.Genmove != "W" {
		writeError(w, http.StatusBadRequest, "genmove must be B or W")
		return
	}
	if req.Size <= 0 {
		req.Size = 19
	}
	if req.Komi == 0 {
		req.Komi = 6.5
	}

	h, err := s.analysisEngine(req.Engine)
	if err != nil {
		switch {
		case pool.IsUnknownProfile(err):
			writeError(w, http.StatusNotFound, err.Error())
		case pool.IsAtCapacity(err):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analysisTimeout)
	defer cancel()

	result, err := s.runAnalysis(ctx, h, req)
	if err != nil {
		// A dead cached engine is dropped so the next request respawns.
		s.dropAnalysisEngine(req.Engine, h)
		s.log.Error().Err(err).Str("engine", req.Engine).Msg("analysis failed")
		writeError(w, http.StatusBadGateway, "engine analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runAnalysis(ctx context.Context, h engine.Handle, req types.AnalysisRequest) (types.AnalysisResult, error) {
	// Position replay and capture assume exclusive use of the engine, so
	// analysis requests are serialized.
	s.analysisRun.Lock()
	defer s.analysisRun.Unlock()

	setup := []types.Command{
		engine.ClearBoard(),
		engine.Boardsize(req.Size),
		engine.Komi(req.Komi),
	}
	for _, mv := range req.Moves {
		setup = append(setup, engine.Play(mv[0], mv[1]))
	}
	for _, cmd := range setup {
		if _, err := h.Send(ctx, cmd); err != nil {
			return types.AnalysisResult{}, err
		}
	}

	h.StartCapture()
	resp, err := h.Send(ctx, engine.Genmove(req.Genmove))
	log := h.StopCapture()
	if err != nil {
		return types.AnalysisResult{}, err
	}
	return types.AnalysisResult{
		RespStr:    resp.String(),
		Variations: engine.ExtractVariations(log),
	}, nil
}

// analysisEngine returns the cached controller for the profile, acquiring
// a fresh one through the pool when none is live.
func (s *Server) analysisEngine(profile string) (engine.Handle, error) {
	s.analysisMu.Lock()
	defer s.analysisMu.Unlock()
	if h, ok := s.analysisEngines[profile]; ok && h.Alive() {
		return h, nil
	}
	h, err := s.pool.Acquire(profile)
	if err != nil {
		return nil, err
	}
	s.analysisEngines[profile] = h
	return h, nil
}

func (s *Server) dropAnalysisEngine(profile string, h engine.Handle) {
	s.analysisMu.Lock()
	if cached, ok := s.analysisEngines[profile]; ok && cached == h {
		delete(s.analysisEngines, profile)
	}
	s.analysisMu.Unlock()
	s.pool.Release(h)
}

package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"leelad/pkg/types"
)

// Diagnostic extraction: both helpers are pure functions over the text a
// Recorder captured around a single command. Malformed input never fails a
// command; it yields empty results.

var gridLine = regexp.MustCompile(`^\s*\d+(?:\s+\d+)*\s*$`)

// ExtractHeatmap finds the first run of grid-shaped lines (whitespace
// separated integers) in log and parses size rows into a size×size grid,
// rescaling every cell to 0..9 relative to the global maximum.
func ExtractHeatmap(log string, size int) [][]int {
	lines := strings.Split(log, "\n")
	start := len(lines)
	for i, l := range lines {
		if strings.TrimSpace(l) != "" && gridLine.MatchString(l) {
			start = i
			break
		}
	}
	end := start + size
	if end > len(lines) {
		end = len(lines)
	}

	var grid [][]int
	max := 0
	for _, l := range lines[start:end] {
		var row []int
		for _, tok := range strings.Fields(l) {
			v, err := strconv.Atoi(tok)
			if err != nil {
				continue
			}
			row = append(row, v)
			if v > max {
				max = v
			}
		}
		grid = append(grid, row)
	}
	if max <= 0 {
		return grid
	}
	for _, row := range grid {
		for i, v := range row {
			row[i] = int(math.Floor(float64(v) * 9.9 / float64(max)))
		}
	}
	return grid
}

// Markers that open the analysis section of genmove diagnostics. Leela
// prints "MC winrate", Leela Zero prints "NN eval".
var analysisMarkers = []string{"MC winrate", "NN eval"}

var statsGroup = regexp.MustCompile(`\(([^)]*)\)`)

// ExtractVariations scans genmove diagnostics for candidate-move rows.
// Everything from the first marker line on is analysis text; rows contain
// an arrow, e.g.
//
//	Q16 ->    3990 (V: 49.26%) (N:  5.79%) PV: Q16 D4 Q4 D16
//
// Visits sit between the arrow and the first parenthesis, stats are the
// parenthesized key/value groups, and the move sequence follows "PV:".
func ExtractVariations(log string) []types.Variation {
	lines := strings.Split(log, "\n")
	start := -1
	for i, l := range lines {
		for _, m := range analysisMarkers {
			if strings.Contains(l, m) {
				start = i
				break
			}
		}
		if start >= 0 {
			break
		}
	}
	variations := []types.Variation{}
	if start < 0 {
		return variations
	}
	for _, l := range lines[start:] {
		arrow := strings.Index(l, "->")
		if arrow < 0 {
			continue
		}
		v := types.Variation{Stats: map[string]string{}}

		rest := l[arrow+2:]
		if paren := strings.IndexByte(rest, '('); paren >= 0 {
			v.Visits, _ = strconv.Atoi(strings.TrimSpace(rest[:paren]))
		} else {
			v.Visits, _ = strconv.Atoi(strings.TrimSpace(rest))
		}

		for _, g := range statsGroup.FindAllStringSubmatch(l, -1) {
			kv := strings.SplitN(g[1], ":", 2)
			if len(kv) != 2 {
				continue
			}
			v.Stats[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}

		if pv := strings.Index(l, "PV:"); pv >= 0 {
			v.Variation = strings.Fields(l[pv+3:])
		}
		variations = append(variations, v)
	}
	return variations
}

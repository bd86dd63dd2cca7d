// leelactl is a small operator companion for leelad: run a one-shot
// position analysis against the HTTP endpoint, or watch CGOS games over
// the WebSocket bridge.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"leelad/pkg/types"
)

func main() {
	root := &cobra.Command{
		Use:           "leelactl",
		Short:         "Operator utilities for a running leelad",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildAnalyzeCmd(), buildWatchCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildAnalyzeCmd() *cobra.Command {
	var (
		server  string
		engine  string
		size    int
		komi    float64
		genmove string
		moves   string
	)
	cmd := &cobra.Command{
		Use:     "analyze",
		Short:   "Analyze a position via POST /analysis",
		Example: "  leelactl analyze --moves 'B Q16,W D4' --genmove B",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.AnalysisRequest{
				Engine:  engine,
				Size:    size,
				Komi:    komi,
				Genmove: genmove,
			}
			for _, m := range strings.Split(moves, ",") {
				fields := strings.Fields(m)
				if len(fields) != 2 {
					return fmt.Errorf("bad move %q, want e.g. 'B Q16'", m)
				}
				req.Moves = append(req.Moves, [2]string{fields[0], fields[1]})
			}

			body, _ := json.Marshal(req)
			resp, err := http.Post(server+"/analysis", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
			}

			var result types.AnalysisResult
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return err
			}
			fmt.Println(result.RespStr)
			for _, v := range result.Variations {
				fmt.Printf("%8d visits  %v  PV: %s\n", v.Visits, v.Stats, strings.Join(v.Variation, " "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:3301", "leelad base URL")
	cmd.Flags().StringVar(&engine, "engine", "", "Engine profile name (server default when empty)")
	cmd.Flags().IntVar(&size, "size", 19, "Board size")
	cmd.Flags().Float64Var(&komi, "komi", 6.5, "Komi")
	cmd.Flags().StringVar(&genmove, "genmove", "B", "Color to generate the move for (B or W)")
	cmd.Flags().StringVar(&moves, "moves", "", "Comma-separated moves, e.g. 'B Q16,W D4'")
	_ = cmd.MarkFlagRequired("moves")
	return cmd
}

func buildWatchCmd() *cobra.Command {
	var (
		server string
		game   string
	)
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Stream CGOS lines from the /cgos bridge",
		Example: "  leelactl watch --game 123456",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := websocket.DefaultDialer.Dial(server+"/cgos", nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			if game != "" {
				if err := conn.WriteMessage(websocket.TextMessage, []byte("observe "+game)); err != nil {
					return err
				}
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-stop
				conn.Close()
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return nil
				}
				fmt.Println(string(msg))
			}
		},
	}
	cmd.Flags().StringVar(&server, "server", "ws://localhost:3301", "leelad WebSocket base URL")
	cmd.Flags().StringVar(&game, "game", "", "Game id to observe (all matches when empty)")
	return cmd
}

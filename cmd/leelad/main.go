package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"leelad/internal/cgos"
	"leelad/internal/config"
	"leelad/internal/engine"
	"leelad/internal/httpapi"
	"leelad/internal/pool"
	"leelad/internal/review"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		maxEngines int
		cgosAddr   string
		redisAddr  string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "leelad",
		Short:         "Gateway between browser clients and GTP engines, with CGOS and review-room bridging",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}
			// Flags win over file values; unset fields fall to defaults.
			if listen != "" {
				cfg.Listen = listen
			}
			if maxEngines > 0 {
				cfg.MaxInstances = maxEngines
			}
			if cgosAddr != "" {
				cfg.CGOSAddr = cgosAddr
			}
			if redisAddr != "" {
				cfg.RedisAddr = redisAddr
			}
			applyDefaults(&cfg)
			return run(cfg, logLevel)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "Path to config file (.yaml/.json/.toml)")
	root.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default :3301)")
	root.Flags().IntVar(&maxEngines, "max-engines", 0, "Maximum live engine processes (default GOMAXPROCS)")
	root.Flags().StringVar(&cgosAddr, "cgos-addr", "", "Upstream CGOS address (default yss-aya.com:6819)")
	root.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for review rooms (default localhost:6379)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	return root
}

func applyDefaults(cfg *config.Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":3301"
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = runtime.NumCPU()
	}
	if cfg.DefaultEngine == "" {
		cfg.DefaultEngine = "leela"
	}
	if cfg.CGOSAddr == "" {
		cfg.CGOSAddr = "yss-aya.com:6819"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
}

func run(cfg config.Config, logLevel string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	profiles := make(map[string]engine.Profile, len(cfg.Engines))
	for name, p := range cfg.Engines {
		profiles[name] = engine.Profile{
			Name:     name,
			Exec:     p.Exec,
			Args:     p.Args,
			Weights:  p.Weights,
			Playouts: p.Playouts,
		}
	}
	if len(profiles) == 0 {
		log.Warn().Msg("no engine profiles configured; engine requests will be denied")
	}

	engines := pool.New(profiles, cfg.MaxInstances, cfg.DefaultEngine, log)
	store := review.NewRedisStore(cfg.RedisAddr)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	viewer := cgos.New(cfg.CGOSAddr, log)
	go viewer.Run(ctx)

	api := httpapi.New(engines, viewer, store, log)
	srv := &http.Server{Addr: cfg.Listen, Handler: api.Router()}

	go func() {
		log.Info().Str("listen", cfg.Listen).Int("max_engines", cfg.MaxInstances).Msg("leelad listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

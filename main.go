package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/parallel"
	"github.com/pthm-cable/flip/scene"
	"github.com/pthm-cable/flip/sim"
	"github.com/pthm-cable/flip/systems"
	"github.com/pthm-cable/flip/telemetry"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("flip failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:           "flip",
		Short:         "FLIP liquid simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Set up slog (JSON to stdout for structured logging)
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

			// Initialize config before anything else
			if err := config.Init(configPath); err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (empty = use defaults)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level")

	root.AddCommand(runCmd(), calibrateCmd(), defaultsCmd())
	return root
}

func runCmd() *cobra.Command {
	var (
		scenePath   string
		outputDir   string
		metricsAddr string
		seed        int64
		steps       int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()

			var f *scene.File
			var err error
			if scenePath == "" {
				f, err = scene.Parse(scene.ExampleFile)
			} else {
				f, err = scene.Load(scenePath)
			}
			if err != nil {
				return err
			}
			if seed != 0 {
				f.Scene.Seed = seed
			}

			sc, err := scene.Build(f, grid.NewDims(cfg.Domain.Resolution), cfg.LevelSet.BandWidth)
			if err != nil {
				return err
			}
			s, err := sim.New(cfg, sc)
			if err != nil {
				return err
			}
			defer s.Close()

			om, err := telemetry.NewOutputManager(outputDir)
			if err != nil {
				return err
			}
			defer om.Close()
			if err := om.WriteConfig(cfg); err != nil {
				return err
			}
			s.SetOutput(om)

			if metricsAddr != "" {
				srv := telemetry.ServeMetrics(metricsAddr)
				defer srv.Close()
				s.SetMetrics(true)
			}

			if err := s.Init(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("starting simulation",
				"scene", scenePath,
				"seed", f.Scene.Seed,
				"steps", steps,
				"workers", cfg.Parallel.Workers,
			)
			for steps == 0 || s.Timestep() < steps {
				if ctx.Err() != nil {
					slog.Info("interrupted", "step", s.Timestep())
					break
				}
				if _, err := s.Step(); err != nil {
					return err
				}
			}

			if outputDir != "" && s.Timestep() > 0 {
				if err := s.ExportSurface(om.FinalBase()); err != nil {
					return err
				}
			}
			slog.Info("simulation finished", "step", s.Timestep())
			return nil
		},
	}
	cmd.Flags().StringVar(&scenePath, "scene", "", "Path to a scene file (empty = built-in example)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory for CSV logs, config snapshot and surfaces")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Particle jitter seed (0 = use the scene's)")
	cmd.Flags().IntVar(&steps, "steps", 100, "Stop after N steps (0 = until interrupted)")
	return cmd
}

func calibrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Print the reference density for the configured grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()
			dims := grid.NewDims(cfg.Domain.Resolution)
			pool := parallel.NewPool(cfg.Parallel.Workers, cfg.Parallel.Threshold)
			defer pool.Close()

			maxd := systems.CalibrateDensity(dims, cfg.Domain.Density, pool)
			fmt.Fprintf(cmd.OutOrStdout(), "%s density=%g max_density=%g\n", dims, cfg.Domain.Density, maxd)
			return nil
		},
	}
}

func defaultsCmd() *cobra.Command {
	var sceneFile bool
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the default config, or the example scene file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if sceneFile {
				_, err := fmt.Fprintln(out, scene.ExampleFile)
				return err
			}
			_, err := out.Write(config.DefaultsYAML())
			return err
		},
	}
	cmd.Flags().BoolVar(&sceneFile, "scene", false, "Print the example scene file instead")
	return cmd
}

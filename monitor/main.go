package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/perfscope/monitor/api"
	"github.com/perfscope/monitor/appdynamics"
	"github.com/perfscope/monitor/collector"
	"github.com/perfscope/monitor/config"
	"github.com/perfscope/monitor/generator"
	"github.com/perfscope/monitor/storage"
	"github.com/perfscope/monitor/types"
)

var (
	logLevel       string
	storageCfgPath string
)

func main() {
	root := &cobra.Command{
		Use:   "perfscope",
		Short: "Load-test performance monitoring toolkit",
		Long: "perfscope polls an APM controller and a log-analytics backend during " +
			"a load-test run and stores the correlated metrics in PostgreSQL.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			logrus.SetLevel(level)
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&storageCfgPath, "storage-config", "", "Path to storage YAML configuration")

	root.AddCommand(
		newMonitorCmd(),
		newServeCmd(),
		newDiscoverCmd(),
		newMigrateCmd(),
		newRunsCmd(),
		newPruneCmd(),
	)

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("Command failed")
	}
}

// openStore connects to PostgreSQL using the storage configuration.
func openStore(ctx context.Context, log logrus.FieldLogger) (*storage.Database, error) {
	cfg, err := config.LoadStorageConfig(storageCfgPath, log)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	db := storage.NewDatabase(&cfg.PostgreSQL)
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func newMonitorCmd() *cobra.Command {
	var (
		configPath string
		runID      string
		duration   string
		serve      bool
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the metrics collection loop for one test run",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()

			cfg, err := config.LoadMonitorConfig(configPath)
			if err != nil {
				return err
			}
			if duration != "" {
				if _, err := time.ParseDuration(duration); err != nil {
					return fmt.Errorf("invalid duration %q: %w", duration, err)
				}
				cfg.Duration = duration
			}

			db, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			sources, err := collector.BuildSources(cfg, log)
			if err != nil {
				return err
			}
			coll := collector.New(cfg, db, sources, log)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var g run.Group
			g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
			g.Add(func() error {
				return coll.Run(ctx, runID)
			}, func(error) {
				cancel()
			})

			if serve {
				srv := api.NewServer(listenAddr, db, coll, log)
				g.Add(func() error {
					return srv.Start()
				}, func(error) {
					srv.Stop()
				})
			}

			err = g.Run()
			var sig run.SignalError
			if errors.As(err, &sig) {
				log.WithField("signal", sig.Signal).Info("Shutting down")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to monitor YAML configuration")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID to record metrics under (generated when empty)")
	cmd.Flags().StringVar(&duration, "duration", "", "Override the configured run duration")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the dashboard API while collecting")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Dashboard API listen address")
	cmd.MarkFlagRequired("config")

	return cmd
}

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API over stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()

			db, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			srv := api.NewServer(listenAddr, db, nil, log)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var g run.Group
			g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
			g.Add(func() error {
				return srv.Start()
			}, func(error) {
				srv.Stop()
			})

			err = g.Run()
			var sig run.SignalError
			if errors.As(err, &sig) {
				log.WithField("signal", sig.Signal).Info("Shutting down")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Dashboard API listen address")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var (
		configPath  string
		application string
		outputPath  string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Generate a monitoring description from the controller discovery API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()

			cfg, err := config.LoadMonitorConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Sources.AppDynamics.Enabled {
				return fmt.Errorf("appdynamics source must be enabled for discovery")
			}
			if application == "" {
				application = cfg.Sources.AppDynamics.Application
			}

			client := appdynamics.NewClient(&cfg.Sources.AppDynamics, log)
			gen := generator.New(client, cfg.Sources.AppDynamics.ControllerURL, log)

			return gen.WriteFile(cmd.Context(), application, outputPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to monitor YAML configuration")
	cmd.Flags().StringVar(&application, "application", "", "Application to describe (defaults to the configured one)")
	cmd.Flags().StringVar(&outputPath, "output", "discovery.json", "Output file path")
	cmd.MarkFlagRequired("config")

	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()

			db, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("Migrations applied")
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	var (
		testName string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored test runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()

			db, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), types.RunFilter{
				TestName: testName,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			for _, r := range runs {
				fmt.Printf("%s  %-24s %-10s %s\n",
					r.StartedAt.Format(time.RFC3339), r.TestName, r.Status, r.ID)
			}
			fmt.Printf("%d runs\n", len(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&testName, "test", "", "Filter by test name")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs to list")
	return cmd
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than the configured retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()

			cfg, err := config.LoadStorageConfig(storageCfgPath, log)
			if err != nil {
				return err
			}

			db, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
			count, err := db.DeleteOldRuns(cmd.Context(), cutoff)
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"cutoff":  cutoff.Format(time.RFC3339),
				"deleted": count,
			}).Info("Pruned old runs")
			return nil
		},
	}
}

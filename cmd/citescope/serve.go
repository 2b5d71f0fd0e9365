package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"citescope/internal/app"
	"citescope/internal/config"
	"citescope/internal/domain"
	"citescope/internal/engine"
	"citescope/internal/logger"
	"citescope/internal/scheduler"
	"citescope/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, webhook dispatcher and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				runner := server.NewRunner(a.Logger)
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Events:    a.Repo,
					BasePath:  basePath,
					Runner:    runner,
					Logger:    a.Logger.With(logger.String("component", "http")),
					Telemetry: a.Telemetry,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Repo, cfg.Webhooks, a.Logger, a.Telemetry)

				sched, err := scheduler.New(a.Engine, cfg.Schedules, scheduler.Options{
					Logger:    a.Logger.With(logger.String("component", "scheduler")),
					Telemetry: a.Telemetry,
				})
				if err != nil {
					return err
				}
				sched.Start()

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				errCh := make(chan error, 1)
				go func() {
					a.Logger.Info("serving citescope api",
						logger.String("addr", addr), logger.String("base_path", basePath))
					fmt.Printf("Serving citescope API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()

				select {
				case err := <-errCh:
					if err != nil {
						return err
					}
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				a.Logger.Info("shutting down")
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.Logger.Warn("http shutdown", logger.Error(err))
				}
				if err := sched.Stop(shutdownCtx); err != nil {
					a.Logger.Warn("scheduler shutdown", logger.Error(err))
				}
				if err := runner.Wait(shutdownCtx); err != nil {
					a.Logger.Warn("background runs still active at shutdown", logger.Error(err))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Inspect and trigger scheduled analyses"}
	cmd.AddCommand(scheduleListCmd(), scheduleRunCmd())
	return cmd
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules and their next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sched, err := scheduler.New(nopPipeline{}, cfg.Schedules, scheduler.Options{})
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop(context.Background())
			tw := newTable()
			tw.AppendHeader(table.Row{"Name", "Cron", "Domain", "Topic", "Next"})
			for _, s := range cfg.Schedules {
				tw.AppendRow(table.Row{s.Name, s.Cron, s.Domain, s.Topic, sched.Next(s.Name).Format(time.RFC3339)})
			}
			tw.Render()
			return nil
		},
	}
}

func scheduleRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Run a schedule now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sched, err := scheduler.New(a.Engine, a.Config.Schedules, scheduler.Options{
					Logger:    a.Logger,
					Telemetry: a.Telemetry,
				})
				if err != nil {
					return err
				}
				job, err := sched.Trigger(ctx, args[0])
				if job.ID == "" {
					return err
				}
				if perr := printJob(job); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage citescope.yml"}
	cmd.AddCommand(configInitCmd(), configShowCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default citescope.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config after env overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate citescope.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"valid": true})
			}
			fmt.Println("config is valid")
			return nil
		},
	}
}

// nopPipeline lets schedule list compute next runs without opening the workspace.
type nopPipeline struct{}

func (nopPipeline) CreateJob(context.Context, engine.CreateJobOptions) (domain.Job, error) {
	return domain.Job{}, errors.New("schedule list cannot run jobs")
}

func (nopPipeline) Run(context.Context, string) (domain.Job, error) {
	return domain.Job{}, errors.New("schedule list cannot run jobs")
}

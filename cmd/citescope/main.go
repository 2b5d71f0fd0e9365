package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"citescope/internal/app"
	"citescope/internal/config"
	"citescope/internal/engine"
	"citescope/internal/logger"
	citescopesdk "citescope/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "citescope",
	Short: "Citation probability analysis for answer engines",
	Long: `citescope estimates how likely a domain is to be cited by answer engines for a topic.
A job runs six stages in order:
- discovery: search query variants of the topic and collect the pages that get cited.
- extraction: fetch the top cited pages and the domain's own page and extract their structure.
- patterns: group competitors into archetypes, find the gaps and score the domain.
- research: ask the configured agent why competitors get cited (degrades when no agent is set).
- assets: draft remediation assets for the largest gaps.
- report: render the markdown, html or pdf report.
State lives in <workspace>/.citescope; settings in <workspace>/citescope.yml, overridable with CITESCOPE_* env vars.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		for _, name := range []string{".env.local", ".env"} {
			if err := godotenv.Load(filepath.Join(workspace, name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", name, err)
			}
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for errors caused by the caller's input and 1 otherwise.
func exitCode(err error) int {
	if engine.IsClientError(err) {
		return 2
	}
	var apiErr *citescopesdk.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return 2
	}
	return 1
}

func initConfig() {
	viper.SetEnvPrefix("CITESCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for _, key := range config.OverrideKeys() {
		_ = viper.BindEnv(key)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "", "talk to a running citescope API at this URL instead of the local workspace")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

// loadConfig reads citescope.yml (or the defaults) and applies env and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(viper.GetString); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	lc := cfg.Logging
	if len(lc.OutputPaths) == 0 {
		lc.OutputPaths = []string{"stderr"}
	}
	return logger.New(lc)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

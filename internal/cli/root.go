package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harun/actuator/internal/config"
	"github.com/harun/actuator/internal/logger"
	"github.com/harun/actuator/internal/observability"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "actuator",
	Short: "Actuator - streaming action orchestration",
	Long: `Actuator finds action requests inside a streamed agent response,
checks them against a permission profile, asks for approval, runs them one
at a time and renders the results for the next generation round.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.actuator/actuator.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging routes logs to the command's stderr and audit records to the
// configured audit file, or nowhere. The returned func closes both.
func setupLogging(cmd *cobra.Command, cfg *config.Config) (*logger.Logger, func(), error) {
	appLogger, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Console:    cmd.ErrOrStderr(),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxAgeDays: cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Redact:     cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	trail := observability.NewAuditTrail(io.Discard)
	if cfg.Logging.AuditFile != "" {
		trail, err = observability.OpenAuditTrail(cfg.Logging.AuditFile)
		if err != nil {
			appLogger.Close()
			return nil, nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
	}
	prev := observability.SetAuditTrail(trail)

	return appLogger, func() {
		observability.SetAuditTrail(prev)
		if err := trail.Close(); err != nil {
			appLogger.Warn().Err(err).Msg("Failed to close audit log")
		}
		appLogger.Close()
	}, nil
}

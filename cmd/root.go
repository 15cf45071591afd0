// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/htrap1211/GraphX-OSINT/internal/backend"
	"github.com/htrap1211/GraphX-OSINT/internal/config"
	"github.com/htrap1211/GraphX-OSINT/internal/metrics"
	"github.com/htrap1211/GraphX-OSINT/internal/observability"
)

type contextKey string

const configKey contextKey = "graphx-config"

// newBackendClient builds the backend client for a command. Tests replace it.
var newBackendClient = func(cfg *config.Config, logger *zap.Logger, recorder backend.Recorder) (backend.Backend, error) {
	return backend.NewHTTPClient(cfg.Backend, logger, backend.WithRecorder(recorder))
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// NewRootCommand creates the graphx command tree.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "graphx",
		Short:         "GraphX follows OSINT enrichment jobs and works their entity graphs.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "graphx"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting GraphX", zap.String("version", Version), zap.String("config", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "graphx version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./graphx.yaml, then ~/.graphx/graphx.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "backend base URL (overrides backend.base_url)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newPivotCmd())
	rootCmd.AddCommand(newTagCmd())
	rootCmd.AddCommand(newNoteCmd())
	rootCmd.AddCommand(newCasesCmd())
	return rootCmd
}

// initializeConfig loads the config file and the GRAPHX_ environment. A missing
// file is not an error.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to expand config path '%s': %w", cfgFile, err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName("graphx")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".graphx"))
		}
	}

	v.SetEnvPrefix("GRAPHX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// bindFlags maps persistent overrides onto their config keys.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	if f := cmd.Flags().Lookup("backend"); f != nil && f.Changed {
		v.Set("backend.base_url", f.Value.String())
	}
	return nil
}

// getConfig returns the configuration loaded by the root command.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// newClient builds the backend client, recording request telemetry into reg.
func newClient(cmd *cobra.Command, reg *metrics.Registry) (*config.Config, backend.Backend, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	client, err := newBackendClient(cfg, observability.GetLogger(), reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	return cfg, client, nil
}

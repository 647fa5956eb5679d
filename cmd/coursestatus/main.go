package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clientcmd "github.com/hari-yahoo/CourseStatus/internal/cmd/client"
	serverrun "github.com/hari-yahoo/CourseStatus/internal/cmd/server"
	cfgpkg "github.com/hari-yahoo/CourseStatus/internal/config"
)

const defaultAPI = "http://127.0.0.1:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFiles   []string
		addr       string
	)
	rootCmd := &cobra.Command{
		Use:   "coursestatus",
		Short: "Course status ingestion node and client",
		Long: "coursestatus runs the ingestion node (HTTP gateway, ordered queue, workers and dead-letter queue)\n" +
			"and provides client commands against a running node.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cfgpkg.LoadDotEnv(envFiles...)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("COURSESTATUS_CONFIG"), "Config file (yaml or json)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "Node HTTP base URL for client commands (default $COURSESTATUS_ADDR or "+defaultAPI+")")

	apiURL := func() string {
		if addr != "" {
			return addr
		}
		if v := os.Getenv("COURSESTATUS_ADDR"); v != "" {
			return v
		}
		return defaultAPI
	}
	resolve := func(cmd *cobra.Command) (cfgpkg.Config, error) {
		cfg, err := cfgpkg.Resolve(configPath)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		applyServerFlags(cmd, &cfg)
		return cfg, cfg.Validate()
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the ingestion node",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolve(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	f := serverStartCmd.Flags()
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("http", "", "HTTP listen address")
	f.String("grpc", "", "gRPC health listen address")
	f.String("fsync", "", "Fsync mode: always|interval|never")
	f.Int("retry-limit", 0, "Processing attempts before an update is dead-lettered")
	f.Int("workers", 0, "Concurrent deliveries")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Configuration commands"}
	configCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolve(cmd)
			if err != nil {
				return err
			}
			if cfg.Postgres.Password != "" {
				cfg.Postgres.Password = "***"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})
	rootCmd.AddCommand(configCmd)

	clientcmd.AddCommands(rootCmd, apiURL)
	return rootCmd
}

// applyServerFlags overlays explicitly set `server start` flags onto cfg.
// Commands without these flags leave cfg untouched.
func applyServerFlags(cmd *cobra.Command, cfg *cfgpkg.Config) {
	fs := cmd.Flags()
	str := func(name string, dst *string) {
		if fl := fs.Lookup(name); fl != nil && fl.Changed {
			*dst = fl.Value.String()
		}
	}
	num := func(name string, dst *int) {
		if fl := fs.Lookup(name); fl != nil && fl.Changed {
			if v, err := fs.GetInt(name); err == nil {
				*dst = v
			}
		}
	}
	str("data-dir", &cfg.DataDir)
	str("http", &cfg.HTTPAddr)
	str("grpc", &cfg.GRPCAddr)
	str("fsync", &cfg.Fsync)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	num("retry-limit", &cfg.RetryLimit)
	num("workers", &cfg.Workers)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/dalle-sse/internal/broker"
	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/common/config"
	"github.com/amoylab/dalle-sse/internal/core"
	"github.com/amoylab/dalle-sse/internal/imagegen"
	"github.com/amoylab/dalle-sse/pkg/helper"
	"github.com/amoylab/dalle-sse/pkg/logger"
	"github.com/amoylab/dalle-sse/pkg/metrics"
	"github.com/amoylab/dalle-sse/pkg/trace"
	"github.com/amoylab/dalle-sse/pkg/utils"
	"github.com/amoylab/dalle-sse/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	pidFile    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dalle-sse",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.CommandName, version.Get())
		},
	}
	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Test the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration %s is invalid: %w", cfgPath, err)
			}
			fmt.Printf("configuration %s is valid\n", cfgPath)
			return nil
		},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the server, same as the bare command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Ask a running dalle-sse to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm := utils.NewPIDManager(resolvePIDPath())
			if err := pm.Signal(syscall.SIGTERM); err != nil {
				return err
			}
			fmt.Printf("sent SIGTERM to the process in %s\n", pm.GetPIDFile())
			return nil
		},
	}
	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "DALL-E MCP server over SSE",
		Long:  `dalle-sse serves the generate_image MCP tool over HTTP+SSE, fanning replies out through Redis pub/sub so any instance can answer any session`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.DalleSSEYaml, "path to configuration file, like /etc/dalle-sse/dalle-sse.yaml")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pid", "p", "", "path to PID file, overrides the configured one")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
}

// loadConfig reads the configuration file, or the environment alone when there is none
func loadConfig() (*config.DalleSSEConfig, string, error) {
	if !helper.CfgExists(configPath) {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("failed to load configuration from environment: %w", err)
		}
		return cfg, "environment", nil
	}
	cfg, cfgPath, err := config.LoadConfig[config.DalleSSEConfig](configPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("failed to load configuration %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func resolvePIDPath() string {
	if pidFile != "" {
		return helper.GetPIDPath(pidFile)
	}
	if cfg, _, err := loadConfig(); err == nil && cfg.PID != "" {
		return helper.GetPIDPath(cfg.PID)
	}
	return helper.GetPIDPath("")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	lg.Info("Starting dalle-sse",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	if cfg.Tracing.Enabled {
		shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
		if err != nil {
			lg.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	pidPath := cfg.PID
	if pidFile != "" {
		pidPath = pidFile
	}
	pm := utils.NewPIDManager(helper.GetPIDPath(pidPath))
	if err := pm.WritePID(); err != nil {
		lg.Warn("failed to write PID file", zap.String("path", pm.GetPIDFile()), zap.Error(err))
	} else {
		defer func() { _ = pm.RemovePID() }()
	}

	b, err := broker.New(ctx, cfg.Broker, lg)
	if err != nil {
		lg.Fatal("failed to connect to broker", zap.String("type", cfg.Broker.Type), zap.Error(err))
	}

	opts := []core.Option{
		core.WithImageTool(
			imagegen.NewGenerator(cfg.OpenAI, lg),
			imagegen.NewProcessor(cfg.Image, lg),
		),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, core.WithMetrics(metrics.New(cfg.Metrics), cfg.Metrics.Path))
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, core.WithTracing(cfg.Tracing.ServiceName))
	}

	srv, err := core.NewServer(lg, cfg.Server, b, opts...)
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	srv.Start()

	<-ctx.Done()
	lg.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("failed to shutdown server", zap.Error(err))
		return err
	}
	lg.Info("Server shutdown completed")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

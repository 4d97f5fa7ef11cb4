package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/server"
	"github.com/victornm/livequiz/internal/telemetry"
)

const releaseVersion = "0.4.0"

func main() {
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "livequiz",
		Short:        "Serves a live multiplayer quiz session over websockets.",
		Args:         cobra.NoArgs,
		Version:      releaseVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return run(cmd.Context(), c)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"),
		"path to the YAML config file (env: CONFIG_PATH)")

	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("livequiz v{{.Version}}\n")

	return cmd
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()
	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}

func run(ctx context.Context, c server.Config) error {
	if err := telemetry.SetupLogger(c.Log, os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, fmt.Sprintf("livequiz v%s starting", releaseVersion),
		"http_port", c.HTTP.Port,
		"grpc_port", c.GRPC.Port,
		"quiz_dir", c.Game.QuizDir,
	)

	s, err := server.Init(ctx, c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	return s.Start(ctx)
}

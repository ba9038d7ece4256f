package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hua2014/VidMuse/internal/config"
	"github.com/hua2014/VidMuse/internal/music"
	"github.com/hua2014/VidMuse/internal/onnx"
	"github.com/hua2014/VidMuse/internal/server"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "vidmuse",
		Short: "Video-conditioned music generation command line",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newModelCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.ONNXManifest == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

// openSession builds the full ONNX generation pipeline from configuration.
// The returned close func releases the ORT sessions.
func openSession(cfg config.Config, opts ...music.Option) (*music.Session, func(), error) {
	engine, err := onnx.NewEngine(cfg.Paths.ONNXManifest, onnx.RunnerConfig{
		LibraryPath: cfg.Runtime.ORTLibraryPath,
		APIVersion:  cfg.Runtime.ORTAPIVersion,
	})
	if err != nil {
		return nil, nil, err
	}

	decoder, err := onnx.NewDecoder(engine, onnx.DecoderConfig{})
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	codec, err := onnx.NewCodec(engine)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	opts = append([]music.Option{music.WithParams(cfg.Generation.Params())}, opts...)

	session, err := music.NewSession(decoder, codec, opts...)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	return session, engine.Close, nil
}

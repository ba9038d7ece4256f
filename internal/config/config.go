package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hua2014/VidMuse/internal/music"
)

type Config struct {
	Paths      PathsConfig      `mapstructure:"paths"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Server     ServerConfig     `mapstructure:"server"`
	Generation GenerationConfig `mapstructure:"generation"`
	LogLevel   string           `mapstructure:"log_level"`
}

type PathsConfig struct {
	ONNXManifest string `mapstructure:"onnx_manifest"`
	ModelDir     string `mapstructure:"model_dir"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// GenerationConfig mirrors the session parameter surface.
type GenerationConfig struct {
	Duration     float64 `mapstructure:"duration"`
	ExtendStride float64 `mapstructure:"extend_stride"`
	UseSampling  bool    `mapstructure:"use_sampling"`
	TopK         int     `mapstructure:"top_k"`
	TopP         float64 `mapstructure:"top_p"`
	Temperature  float64 `mapstructure:"temperature"`
	CFGCoef      float64 `mapstructure:"cfg_coef"`
	TwoStepCFG   bool    `mapstructure:"two_step_cfg"`
}

// Params converts the configuration into session parameters.
func (g GenerationConfig) Params() music.Params {
	return music.Params{
		UseSampling:  g.UseSampling,
		TopK:         g.TopK,
		TopP:         g.TopP,
		Temperature:  g.Temperature,
		Duration:     g.Duration,
		CFGCoef:      g.CFGCoef,
		TwoStepCFG:   g.TwoStepCFG,
		ExtendStride: g.ExtendStride,
	}
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	p := music.DefaultParams()

	return Config{
		Paths: PathsConfig{
			ONNXManifest: "models/onnx/manifest.json",
			ModelDir:     "models",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTAPIVersion:  0,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Generation: GenerationConfig{
			Duration:     p.Duration,
			ExtendStride: p.ExtendStride,
			UseSampling:  p.UseSampling,
			TopK:         p.TopK,
			TopP:         p.TopP,
			Temperature:  p.Temperature,
			CFGCoef:      p.CFGCoef,
			TwoStepCFG:   p.TwoStepCFG,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-onnx-manifest", defaults.Paths.ONNXManifest, "Path to the ONNX bundle manifest")
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Directory for downloaded model bundles")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.Uint32("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime API version (0 selects the default)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Float64("generation-duration", defaults.Generation.Duration, "Seconds of audio to generate")
	fs.Float64("generation-extend-stride", defaults.Generation.ExtendStride, "Seconds committed per chunk beyond the decoder context")
	fs.Bool("generation-use-sampling", defaults.Generation.UseSampling, "Sample tokens instead of taking the argmax")
	fs.Int("generation-top-k", defaults.Generation.TopK, "Top-k sampling cutoff")
	fs.Float64("generation-top-p", defaults.Generation.TopP, "Nucleus sampling threshold (0 disables)")
	fs.Float64("generation-temperature", defaults.Generation.Temperature, "Sampling temperature")
	fs.Float64("generation-cfg-coef", defaults.Generation.CFGCoef, "Classifier-free guidance coefficient")
	fs.Bool("generation-two-step-cfg", defaults.Generation.TwoStepCFG, "Run guidance as two passes instead of one batched pass")
	fs.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("VIDMUSE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "VIDMUSE_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("vidmuse")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.onnx_manifest", c.Paths.ONNXManifest)
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("generation.duration", c.Generation.Duration)
	v.SetDefault("generation.extend_stride", c.Generation.ExtendStride)
	v.SetDefault("generation.use_sampling", c.Generation.UseSampling)
	v.SetDefault("generation.top_k", c.Generation.TopK)
	v.SetDefault("generation.top_p", c.Generation.TopP)
	v.SetDefault("generation.temperature", c.Generation.Temperature)
	v.SetDefault("generation.cfg_coef", c.Generation.CFGCoef)
	v.SetDefault("generation.two_step_cfg", c.Generation.TwoStepCFG)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.onnx_manifest", "paths-onnx-manifest")
	v.RegisterAlias("paths.model_dir", "paths-model-dir")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_api_version", "runtime-ort-api-version")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("generation.duration", "generation-duration")
	v.RegisterAlias("generation.extend_stride", "generation-extend-stride")
	v.RegisterAlias("generation.use_sampling", "generation-use-sampling")
	v.RegisterAlias("generation.top_k", "generation-top-k")
	v.RegisterAlias("generation.top_p", "generation-top-p")
	v.RegisterAlias("generation.temperature", "generation-temperature")
	v.RegisterAlias("generation.cfg_coef", "generation-cfg-coef")
	v.RegisterAlias("generation.two_step_cfg", "generation-two-step-cfg")
	v.RegisterAlias("log_level", "log-level")
}

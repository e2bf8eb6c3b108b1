package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"rforest/internal/common"
	"rforest/internal/forest"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	NClassifiers    int
	Workers         int
	Seed            uint64
	Seeded          bool
	PurityThreshold float64
	MinGiniDecrease float64
	ClassSet        string
	DataPath        string
	DatasetPath     string
	TestSize        float64
	ModelName       string
	MetricsPort     int
	ServerPort      int
	ServerURL       string
	RequestTimeout  time.Duration
	LogLevel        string
}

type ConfigFile struct {
	Forest struct {
		Classifiers     int     `yaml:"classifiers"`
		Workers         int     `yaml:"workers"`
		Seed            *uint64 `yaml:"seed"`
		PurityThreshold float64 `yaml:"purityThreshold"`
		MinGiniDecrease float64 `yaml:"minGiniDecrease"`
		ClassSet        string  `yaml:"classSet"`
	} `yaml:"forest"`

	Data struct {
		DataPath    string  `yaml:"dataPath"`
		DatasetPath string  `yaml:"datasetPath"`
		TestSize    float64 `yaml:"testSize"`
		ModelName   string  `yaml:"modelName"`
	} `yaml:"data"`

	Server struct {
		Port           int    `yaml:"port"`
		MetricsPort    int    `yaml:"metricsPort"`
		URL            string `yaml:"url"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// ForestOptions translates the forest settings into constructor options.
// Logging and metrics are left to the caller.
func (s Settings) ForestOptions() ([]forest.Option, error) {
	mode, err := forest.ParseClassSetMode(s.ClassSet)
	if err != nil {
		return nil, err
	}
	opts := []forest.Option{
		forest.WithClassifiers(s.NClassifiers),
		forest.WithWorkers(s.Workers),
		forest.WithStopRules(forest.StopRules{
			PurityThreshold: s.PurityThreshold,
			MinGiniDecrease: s.MinGiniDecrease,
		}),
		forest.WithClassSet(mode),
	}
	if s.Seeded {
		opts = append(opts, forest.WithSeed(s.Seed))
	}
	return opts, nil
}

// Load reads settings from an optional .env file, then from the YAML file
// named by CONFIG_FILE if set, otherwise from environment variables alone.
// Environment variables always override YAML values.
func Load() (Settings, error) {
	if err := loadDotEnv(getEnvOrDefault(common.EnvEnvFile, common.DefaultEnvFile)); err != nil {
		return Settings{}, err
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

// loadDotEnv populates unset environment variables from path. A missing
// file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = 5 * time.Second
	}

	seed, seeded := uint64(0), false
	if config.Forest.Seed != nil {
		seed, seeded = *config.Forest.Seed, true
	}
	if v := os.Getenv(common.EnvSeed); v != "" {
		s, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid %s %q: %w", common.EnvSeed, v, err)
		}
		seed, seeded = s, true
	}

	settings := Settings{
		NClassifiers:    getIntFromEnvOrConfig(common.EnvClassifiers, config.Forest.Classifiers, common.DefaultClassifiers),
		Workers:         getIntFromEnvOrConfig(common.EnvWorkers, config.Forest.Workers, 0),
		Seed:            seed,
		Seeded:          seeded,
		PurityThreshold: getFloatFromEnvOrConfig(common.EnvPurityThreshold, config.Forest.PurityThreshold, common.DefaultPurityThreshold),
		MinGiniDecrease: getFloatFromEnvOrConfig(common.EnvMinGiniDecrease, config.Forest.MinGiniDecrease, common.DefaultMinGiniDecrease),
		ClassSet:        getStringFromEnvOrConfig(common.EnvClassSet, config.Forest.ClassSet, common.DefaultClassSet),
		DataPath:        getStringFromEnvOrConfig(common.EnvDataPath, config.Data.DataPath, common.DefaultDataPath),
		DatasetPath:     getStringFromEnvOrConfig(common.EnvDatasetPath, config.Data.DatasetPath, common.DefaultDatasetPath),
		TestSize:        getFloatFromEnvOrConfig(common.EnvTestSize, config.Data.TestSize, common.DefaultTestSize),
		ModelName:       getStringFromEnvOrConfig(common.EnvModelName, config.Data.ModelName, common.DefaultModelName),
		MetricsPort:     getIntFromEnvOrConfig(common.EnvMetricsPort, config.Server.MetricsPort, common.DefaultMetricsPort),
		ServerPort:      getIntFromEnvOrConfig(common.EnvServerPort, config.Server.Port, common.DefaultServerPort),
		ServerURL:       getStringFromEnvOrConfig(common.EnvServerURL, config.Server.URL, common.DefaultServerURL),
		RequestTimeout:  getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		LogLevel:        getStringFromEnvOrConfig(common.EnvLogLevel, config.Log.Level, common.DefaultLogLevel),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	seed, seeded := uint64(0), false
	if v := os.Getenv(common.EnvSeed); v != "" {
		s, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid %s %q: %w", common.EnvSeed, v, err)
		}
		seed, seeded = s, true
	}

	settings := Settings{
		NClassifiers:    getIntOrDefault(common.EnvClassifiers, common.DefaultClassifiers),
		Workers:         getIntOrDefault(common.EnvWorkers, 0),
		Seed:            seed,
		Seeded:          seeded,
		PurityThreshold: getFloatOrDefault(common.EnvPurityThreshold, common.DefaultPurityThreshold),
		MinGiniDecrease: getFloatOrDefault(common.EnvMinGiniDecrease, common.DefaultMinGiniDecrease),
		ClassSet:        getEnvOrDefault(common.EnvClassSet, common.DefaultClassSet),
		DataPath:        getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		DatasetPath:     getEnvOrDefault(common.EnvDatasetPath, common.DefaultDatasetPath),
		TestSize:        getFloatOrDefault(common.EnvTestSize, common.DefaultTestSize),
		ModelName:       getEnvOrDefault(common.EnvModelName, common.DefaultModelName),
		MetricsPort:     getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		ServerPort:      getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		ServerURL:       getEnvOrDefault(common.EnvServerURL, common.DefaultServerURL),
		RequestTimeout:  getDurationOrDefault(common.EnvRequestTimeout, 5*time.Second),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getStringFromEnvOrConfig(key, configValue, defaultValue string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	if configValue != "" {
		return configValue
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate forest parameters
	if settings.NClassifiers < 1 || settings.NClassifiers > 10000 {
		return fmt.Errorf("number of classifiers must be between 1 and 10000, got %d", settings.NClassifiers)
	}
	if settings.Workers < 0 || settings.Workers > 1024 {
		return fmt.Errorf("workers must be between 0 (all CPUs) and 1024, got %d", settings.Workers)
	}
	if settings.PurityThreshold <= 0.5 || settings.PurityThreshold > 1 {
		return fmt.Errorf("purity threshold must be in (0.5, 1], got %f", settings.PurityThreshold)
	}
	if settings.MinGiniDecrease < 0 || settings.MinGiniDecrease > 0.5 {
		return fmt.Errorf("min gini decrease must be between 0 and 0.5, got %f", settings.MinGiniDecrease)
	}
	switch strings.ToLower(settings.ClassSet) {
	case "forest", "tree":
	default:
		return fmt.Errorf("class set must be forest or tree, got %q", settings.ClassSet)
	}

	// Validate data settings
	if settings.TestSize <= 0 || settings.TestSize >= 1 {
		return fmt.Errorf("test size must be between 0 and 1, got %f", settings.TestSize)
	}
	if settings.ModelName == "" || strings.Contains(settings.ModelName, "_") {
		return fmt.Errorf("model name must be non-empty and must not contain '_', got %q", settings.ModelName)
	}
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	// Validate server settings
	if settings.ServerPort < 1024 || settings.ServerPort > 65535 {
		return fmt.Errorf("server port must be between 1024 and 65535, got %d", settings.ServerPort)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.ServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 5m, got %v", settings.RequestTimeout)
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}

package common

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvEnvFile         = "ENV_FILE"
	EnvClassifiers     = "N_CLASSIFIERS"
	EnvWorkers         = "WORKERS"
	EnvSeed            = "SEED"
	EnvPurityThreshold = "PURITY_THRESHOLD"
	EnvMinGiniDecrease = "MIN_GINI_DECREASE"
	EnvClassSet        = "CLASS_SET"
	EnvDataPath        = "DATA_PATH"
	EnvDatasetPath     = "DATASET_PATH"
	EnvTestSize        = "TEST_SIZE"
	EnvModelName       = "MODEL_NAME"
	EnvMetricsPort     = "METRICS_PORT"
	EnvServerPort      = "SERVER_PORT"
	EnvServerURL       = "SERVER_URL"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvLogLevel        = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultEnvFile         = ".env"
	DefaultClassifiers     = 30
	DefaultPurityThreshold = 0.9
	DefaultMinGiniDecrease = 0.01
	DefaultClassSet        = "forest"
	DefaultDataPath        = "data"
	DefaultDatasetPath     = "dataset/waveform.data"
	DefaultTestSize        = 0.25
	DefaultModelName       = "rf"
	DefaultMetricsPort     = 9090
	DefaultServerPort      = 8080
	DefaultServerURL       = "http://localhost:8080"
	DefaultLogLevel        = "info"
)

// Storage
const (
	DBFileName     = "forest-data.db"
	VersionLayout  = "20060102-150405.000000000"
	MaxBatchRows   = 10000
	MaxRequestBody = 32 << 20
)

package common

import "time"

// Output layout
const (
	// ProbabilityColumn is appended to every scored dataset. Downstream readers locate
	// the churn probability by this name, so it must never change.
	ProbabilityColumn = "Churn.1"
)

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvTrainingSource   = "TRAINING_SOURCE"
	EnvTestingSource    = "TESTING_SOURCE"
	EnvOutputPath       = "OUTPUT_PATH"
	EnvDataPath         = "DATA_PATH"
	EnvServerPort       = "SERVER_PORT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvIDColumn         = "ID_COLUMN"
	EnvTargetColumn     = "TARGET_COLUMN"
	EnvModelFamily      = "MODEL_FAMILY"
	EnvModelSeed        = "MODEL_SEED"
	EnvTrees            = "FOREST_TREES"
	EnvMaxDepth         = "FOREST_MAX_DEPTH"
	EnvMinSamplesLeaf   = "FOREST_MIN_SAMPLES_LEAF"
	EnvMinPositive      = "MIN_POSITIVE"
	EnvMinNegative      = "MIN_NEGATIVE"
	EnvBackgroundSize   = "BACKGROUND_SIZE"
	EnvExplainMethod    = "EXPLAIN_METHOD"
	EnvPermutations     = "EXPLAIN_PERMUTATIONS"
	EnvExplainTolerance = "EXPLAIN_TOLERANCE"
	EnvScoringWorkers   = "SCORING_WORKERS"
	EnvLoadTimeout      = "LOAD_TIMEOUT"
	EnvTrainTimeout     = "TRAIN_TIMEOUT"
	EnvDriftThreshold   = "DRIFT_THRESHOLD"
	EnvEpochs           = "LOGISTIC_EPOCHS"
	EnvLearningRate     = "LOGISTIC_LEARNING_RATE"
	EnvMetricsEnabled   = "METRICS_ENABLED"
	EnvImportanceSample = "IMPORTANCE_SAMPLE"
	EnvMaxFeatures      = "FOREST_MAX_FEATURES"
	EnvL2               = "LOGISTIC_L2"
)

// Configuration defaults
const (
	DefaultIDColumn         = "Phone_No"
	DefaultTargetColumn     = "Churn?"
	DefaultOutputPath       = "data/working_data.csv"
	DefaultServerPort       = 8080
	DefaultLogLevel         = "info"
	DefaultModelFamily      = "forest"
	DefaultModelSeed        = 42
	DefaultTrees            = 60
	DefaultMaxDepth         = 8
	DefaultMinSamplesLeaf   = 5
	DefaultEpochs           = 400
	DefaultLearningRate     = 0.5
	DefaultL2               = 1e-3
	DefaultMinPositive      = 20
	DefaultMinNegative      = 20
	DefaultBackgroundSize   = 100
	DefaultExplainMethod    = "auto"
	DefaultPermutations     = 8
	DefaultExplainTolerance = 1e-4
	DefaultDriftThreshold   = 0.2
	DefaultImportanceSample = 200
	DefaultLoadTimeout      = 30 * time.Second
	DefaultTrainTimeout     = 10 * time.Minute
)

// Label vocabularies recognised for the binary target. Matching is case-insensitive.
var (
	DefaultPositiveLabels = []string{"1", "true", "true.", "yes", "y"}
	DefaultNegativeLabels = []string{"0", "false", "false.", "no", "n"}
)

// MissingTokens are raw cell values treated as absent.
var MissingTokens = []string{"", "na", "nan", "null", "none"}

// Validation constants
const (
	MinServerPort   = 1024
	MaxServerPort   = 65535
	MaxTrees        = 1000
	MaxDepthLimit   = 32
	MaxPermutations = 256
	MaxEpochs       = 100000
	MaxWorkers      = 1024
)

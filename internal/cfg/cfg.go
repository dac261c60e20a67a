package cfg

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"churn-engine/internal/common"
	"churn-engine/internal/ml"
	"churn-engine/internal/schema"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	// Data
	TrainingSource string
	TestingSource  string
	OutputPath     string
	DataPath       string
	LoadTimeout    time.Duration

	// Schema
	IDColumn       string
	TargetColumn   string
	Features       []schema.Column
	PositiveLabels []string
	NegativeLabels []string

	// Model
	ModelFamily    string
	Seed           int64
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int
	Epochs         int
	LearningRate   float64
	L2             float64
	MinPositive    int
	MinNegative    int
	BackgroundSize int
	TrainTimeout   time.Duration

	// Explanations and monitoring
	ExplainMethod    string
	Permutations     int
	ExplainTolerance float64
	ImportanceSample int
	DriftThreshold   float64

	// System
	ScoringWorkers int
	ServerPort     int
	LogLevel       string
	MetricsEnabled bool
}

type ConfigFile struct {
	Data struct {
		TrainingSource string `yaml:"trainingSource"`
		TestingSource  string `yaml:"testingSource"`
		OutputPath     string `yaml:"outputPath"`
		LoadTimeout    string `yaml:"loadTimeout"`
	} `yaml:"data"`

	Schema struct {
		IDColumn       string          `yaml:"idColumn"`
		TargetColumn   string          `yaml:"targetColumn"`
		Features       []schema.Column `yaml:"features"`
		PositiveLabels []string        `yaml:"positiveLabels"`
		NegativeLabels []string        `yaml:"negativeLabels"`
	} `yaml:"schema"`

	Model struct {
		Family         string  `yaml:"family"`
		Seed           int64   `yaml:"seed"`
		Trees          int     `yaml:"trees"`
		MaxDepth       int     `yaml:"maxDepth"`
		MinSamplesLeaf int     `yaml:"minSamplesLeaf"`
		MaxFeatures    int     `yaml:"maxFeatures"`
		Epochs         int     `yaml:"epochs"`
		LearningRate   float64 `yaml:"learningRate"`
		L2             float64 `yaml:"l2"`
		MinPositive    int     `yaml:"minPositive"`
		MinNegative    int     `yaml:"minNegative"`
		BackgroundSize int     `yaml:"backgroundSize"`
		TrainTimeout   string  `yaml:"trainTimeout"`
	} `yaml:"model"`

	Explain struct {
		Method           string  `yaml:"method"`
		Permutations     int     `yaml:"permutations"`
		Tolerance        float64 `yaml:"tolerance"`
		ImportanceSample int     `yaml:"importanceSample"`
		DriftThreshold   float64 `yaml:"driftThreshold"`
	} `yaml:"explain"`

	System struct {
		DataPath       string `yaml:"dataPath"`
		ScoringWorkers int    `yaml:"scoringWorkers"`
		ServerPort     int    `yaml:"serverPort"`
		LogLevel       string `yaml:"logLevel"`
		MetricsEnabled *bool  `yaml:"metricsEnabled"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
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

	// Parse durations
	loadTimeout, err := time.ParseDuration(config.Data.LoadTimeout)
	if err != nil {
		loadTimeout = common.DefaultLoadTimeout
	}
	trainTimeout, err := time.ParseDuration(config.Model.TrainTimeout)
	if err != nil {
		trainTimeout = common.DefaultTrainTimeout
	}

	metricsEnabled := true
	if config.System.MetricsEnabled != nil {
		metricsEnabled = *config.System.MetricsEnabled
	}

	settings := Settings{
		TrainingSource: getEnvOrDefault(common.EnvTrainingSource, config.Data.TrainingSource),
		TestingSource:  getEnvOrDefault(common.EnvTestingSource, config.Data.TestingSource),
		OutputPath:     getEnvOrDefault(common.EnvOutputPath, orString(config.Data.OutputPath, common.DefaultOutputPath)),
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		LoadTimeout:    getDurationOrDefault(common.EnvLoadTimeout, loadTimeout),

		IDColumn:       getEnvOrDefault(common.EnvIDColumn, orString(config.Schema.IDColumn, common.DefaultIDColumn)),
		TargetColumn:   getEnvOrDefault(common.EnvTargetColumn, orString(config.Schema.TargetColumn, common.DefaultTargetColumn)),
		Features:       config.Schema.Features,
		PositiveLabels: config.Schema.PositiveLabels,
		NegativeLabels: config.Schema.NegativeLabels,

		ModelFamily:    getEnvOrDefault(common.EnvModelFamily, orString(config.Model.Family, common.DefaultModelFamily)),
		Seed:           int64(getIntFromEnvOrConfig(common.EnvModelSeed, int(config.Model.Seed), common.DefaultModelSeed)),
		Trees:          getIntFromEnvOrConfig(common.EnvTrees, config.Model.Trees, common.DefaultTrees),
		MaxDepth:       getIntFromEnvOrConfig(common.EnvMaxDepth, config.Model.MaxDepth, common.DefaultMaxDepth),
		MinSamplesLeaf: getIntFromEnvOrConfig(common.EnvMinSamplesLeaf, config.Model.MinSamplesLeaf, common.DefaultMinSamplesLeaf),
		MaxFeatures:    getIntFromEnvOrConfig(common.EnvMaxFeatures, config.Model.MaxFeatures, 0),
		Epochs:         getIntFromEnvOrConfig(common.EnvEpochs, config.Model.Epochs, common.DefaultEpochs),
		LearningRate:   getFloatFromEnvOrConfig(common.EnvLearningRate, config.Model.LearningRate, common.DefaultLearningRate),
		L2:             getFloatFromEnvOrConfig(common.EnvL2, config.Model.L2, common.DefaultL2),
		MinPositive:    getIntFromEnvOrConfig(common.EnvMinPositive, config.Model.MinPositive, common.DefaultMinPositive),
		MinNegative:    getIntFromEnvOrConfig(common.EnvMinNegative, config.Model.MinNegative, common.DefaultMinNegative),
		BackgroundSize: getIntFromEnvOrConfig(common.EnvBackgroundSize, config.Model.BackgroundSize, common.DefaultBackgroundSize),
		TrainTimeout:   getDurationOrDefault(common.EnvTrainTimeout, trainTimeout),

		ExplainMethod:    getEnvOrDefault(common.EnvExplainMethod, orString(config.Explain.Method, common.DefaultExplainMethod)),
		Permutations:     getIntFromEnvOrConfig(common.EnvPermutations, config.Explain.Permutations, common.DefaultPermutations),
		ExplainTolerance: getFloatFromEnvOrConfig(common.EnvExplainTolerance, config.Explain.Tolerance, common.DefaultExplainTolerance),
		ImportanceSample: getIntFromEnvOrConfig(common.EnvImportanceSample, config.Explain.ImportanceSample, common.DefaultImportanceSample),
		DriftThreshold:   getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Explain.DriftThreshold, common.DefaultDriftThreshold),

		ScoringWorkers: getIntFromEnvOrConfig(common.EnvScoringWorkers, config.System.ScoringWorkers, runtime.NumCPU()),
		ServerPort:     getIntFromEnvOrConfig(common.EnvServerPort, config.System.ServerPort, common.DefaultServerPort),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orString(config.System.LogLevel, common.DefaultLogLevel)),
		MetricsEnabled: getBoolFromEnvOrConfig(common.EnvMetricsEnabled, metricsEnabled),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		TrainingSource: os.Getenv(common.EnvTrainingSource), // optional
		TestingSource:  os.Getenv(common.EnvTestingSource),  // optional
		OutputPath:     getEnvOrDefault(common.EnvOutputPath, common.DefaultOutputPath),
		DataPath:       os.Getenv(common.EnvDataPath), // optional, enables the model registry
		LoadTimeout:    getDurationOrDefault(common.EnvLoadTimeout, common.DefaultLoadTimeout),

		IDColumn:     getEnvOrDefault(common.EnvIDColumn, common.DefaultIDColumn),
		TargetColumn: getEnvOrDefault(common.EnvTargetColumn, common.DefaultTargetColumn),

		ModelFamily:    getEnvOrDefault(common.EnvModelFamily, common.DefaultModelFamily),
		Seed:           int64(getIntOrDefault(common.EnvModelSeed, common.DefaultModelSeed)),
		Trees:          getIntOrDefault(common.EnvTrees, common.DefaultTrees),
		MaxDepth:       getIntOrDefault(common.EnvMaxDepth, common.DefaultMaxDepth),
		MinSamplesLeaf: getIntOrDefault(common.EnvMinSamplesLeaf, common.DefaultMinSamplesLeaf),
		MaxFeatures:    getIntOrDefault(common.EnvMaxFeatures, 0), // 0 = sqrt(width)
		Epochs:         getIntOrDefault(common.EnvEpochs, common.DefaultEpochs),
		LearningRate:   getFloatOrDefault(common.EnvLearningRate, common.DefaultLearningRate),
		L2:             getFloatOrDefault(common.EnvL2, common.DefaultL2),
		MinPositive:    getIntOrDefault(common.EnvMinPositive, common.DefaultMinPositive),
		MinNegative:    getIntOrDefault(common.EnvMinNegative, common.DefaultMinNegative),
		BackgroundSize: getIntOrDefault(common.EnvBackgroundSize, common.DefaultBackgroundSize),
		TrainTimeout:   getDurationOrDefault(common.EnvTrainTimeout, common.DefaultTrainTimeout),

		ExplainMethod:    getEnvOrDefault(common.EnvExplainMethod, common.DefaultExplainMethod),
		Permutations:     getIntOrDefault(common.EnvPermutations, common.DefaultPermutations),
		ExplainTolerance: getFloatOrDefault(common.EnvExplainTolerance, common.DefaultExplainTolerance),
		ImportanceSample: getIntOrDefault(common.EnvImportanceSample, common.DefaultImportanceSample),
		DriftThreshold:   getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),

		ScoringWorkers: getIntOrDefault(common.EnvScoringWorkers, runtime.NumCPU()),
		ServerPort:     getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		MetricsEnabled: getBoolOrDefault(common.EnvMetricsEnabled, true),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// SchemaSpec returns the column configuration used to validate training data.
func (s *Settings) SchemaSpec() schema.Spec {
	return schema.Spec{
		IDColumn:       s.IDColumn,
		TargetColumn:   s.TargetColumn,
		Features:       s.Features,
		PositiveLabels: s.PositiveLabels,
		NegativeLabels: s.NegativeLabels,
	}
}

// TrainConfig returns the trainer configuration.
func (s *Settings) TrainConfig() ml.TrainConfig {
	return ml.TrainConfig{
		Family:         ml.Family(s.ModelFamily),
		Seed:           s.Seed,
		Trees:          s.Trees,
		MaxDepth:       s.MaxDepth,
		MinSamplesLeaf: s.MinSamplesLeaf,
		MaxFeatures:    s.MaxFeatures,
		Epochs:         s.Epochs,
		LearningRate:   s.LearningRate,
		L2:             s.L2,
		MinPositive:    s.MinPositive,
		MinNegative:    s.MinNegative,
		BackgroundSize: s.BackgroundSize,
	}
}

// ExplainConfig returns the explainer configuration. The method has already been
// validated, so a parse failure falls back to automatic selection.
func (s *Settings) ExplainConfig() ml.ExplainConfig {
	method, err := ml.ParseExplainMethod(s.ExplainMethod)
	if err != nil {
		method = ml.MethodAuto
	}
	return ml.ExplainConfig{
		Method:       method,
		Permutations: s.Permutations,
		Tolerance:    s.ExplainTolerance,
	}
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
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

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
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

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate schema columns
	if settings.IDColumn == "" || settings.TargetColumn == "" {
		return fmt.Errorf("identifier and target columns are required")
	}
	if settings.IDColumn == settings.TargetColumn {
		return fmt.Errorf("identifier and target columns must differ, both are %q", settings.IDColumn)
	}
	seen := make(map[string]bool, len(settings.Features))
	for _, c := range settings.Features {
		if c.Name == "" {
			return fmt.Errorf("declared feature with empty name")
		}
		if c.Type != schema.Numeric && c.Type != schema.Categorical {
			return fmt.Errorf("feature %s: type must be %q or %q, got %q", c.Name, schema.Numeric, schema.Categorical, c.Type)
		}
		if seen[c.Name] {
			return fmt.Errorf("feature %s declared twice", c.Name)
		}
		if c.Name == settings.IDColumn || c.Name == settings.TargetColumn {
			return fmt.Errorf("feature %s collides with the identifier or target column", c.Name)
		}
		seen[c.Name] = true
	}

	// Validate paths
	if settings.OutputPath == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	// Validate time durations
	if settings.LoadTimeout < time.Second || settings.LoadTimeout > 10*time.Minute {
		return fmt.Errorf("load timeout must be between 1s and 10m, got %v", settings.LoadTimeout)
	}
	if settings.TrainTimeout < time.Second || settings.TrainTimeout > 24*time.Hour {
		return fmt.Errorf("train timeout must be between 1s and 24h, got %v", settings.TrainTimeout)
	}

	// Validate model parameters
	if !ml.Family(settings.ModelFamily).Valid() {
		return fmt.Errorf("model family must be %q or %q, got %q", ml.FamilyForest, ml.FamilyLogistic, settings.ModelFamily)
	}
	if settings.Trees <= 0 || settings.Trees > common.MaxTrees {
		return fmt.Errorf("trees must be between 1 and %d, got %d", common.MaxTrees, settings.Trees)
	}
	if settings.MaxDepth <= 0 || settings.MaxDepth > common.MaxDepthLimit {
		return fmt.Errorf("max depth must be between 1 and %d, got %d", common.MaxDepthLimit, settings.MaxDepth)
	}
	if settings.MinSamplesLeaf <= 0 {
		return fmt.Errorf("min samples per leaf must be positive, got %d", settings.MinSamplesLeaf)
	}
	if settings.MaxFeatures < 0 {
		return fmt.Errorf("max features cannot be negative, got %d", settings.MaxFeatures)
	}
	if settings.Epochs <= 0 || settings.Epochs > common.MaxEpochs {
		return fmt.Errorf("epochs must be between 1 and %d, got %d", common.MaxEpochs, settings.Epochs)
	}
	if settings.LearningRate <= 0 || settings.LearningRate > 10 {
		return fmt.Errorf("learning rate must be between 0 and 10, got %f", settings.LearningRate)
	}
	if settings.L2 < 0 {
		return fmt.Errorf("L2 penalty cannot be negative, got %f", settings.L2)
	}
	if settings.MinPositive <= 0 || settings.MinNegative <= 0 {
		return fmt.Errorf("minimum class counts must be positive, got %d positive and %d negative", settings.MinPositive, settings.MinNegative)
	}
	if settings.BackgroundSize < 0 {
		return fmt.Errorf("background size cannot be negative, got %d", settings.BackgroundSize)
	}

	// Validate explanation parameters
	if _, err := ml.ParseExplainMethod(settings.ExplainMethod); err != nil {
		return err
	}
	if settings.Permutations <= 0 || settings.Permutations > common.MaxPermutations {
		return fmt.Errorf("permutations must be between 1 and %d, got %d", common.MaxPermutations, settings.Permutations)
	}
	if settings.ExplainTolerance <= 0 || settings.ExplainTolerance > 0.1 {
		return fmt.Errorf("explanation tolerance must be between 0 and 0.1, got %g", settings.ExplainTolerance)
	}
	if settings.ImportanceSample <= 0 {
		return fmt.Errorf("importance sample must be positive, got %d", settings.ImportanceSample)
	}
	if settings.DriftThreshold <= 0 || settings.DriftThreshold > 10 {
		return fmt.Errorf("drift threshold must be between 0 and 10, got %f", settings.DriftThreshold)
	}

	// Validate system parameters
	if settings.ScoringWorkers <= 0 || settings.ScoringWorkers > common.MaxWorkers {
		return fmt.Errorf("scoring workers must be between 1 and %d, got %d", common.MaxWorkers, settings.ScoringWorkers)
	}
	if settings.ServerPort < common.MinServerPort || settings.ServerPort > common.MaxServerPort {
		return fmt.Errorf("server port must be between %d and %d, got %d", common.MinServerPort, common.MaxServerPort, settings.ServerPort)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(settings.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}

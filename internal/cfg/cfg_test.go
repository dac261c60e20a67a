package cfg

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"churn-engine/internal/common"
	"churn-engine/internal/ml"
	"churn-engine/internal/schema"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.IDColumn != "Phone_No" {
					t.Errorf("expected default IDColumn 'Phone_No', got %s", settings.IDColumn)
				}
				if settings.TargetColumn != "Churn?" {
					t.Errorf("expected default TargetColumn 'Churn?', got %s", settings.TargetColumn)
				}
				if settings.ModelFamily != "forest" {
					t.Errorf("expected default family forest, got %s", settings.ModelFamily)
				}
				if settings.OutputPath != common.DefaultOutputPath {
					t.Errorf("expected default OutputPath, got %s", settings.OutputPath)
				}
				if settings.ScoringWorkers != runtime.NumCPU() {
					t.Errorf("expected one worker per CPU, got %d", settings.ScoringWorkers)
				}
				if settings.LoadTimeout != 30*time.Second {
					t.Errorf("expected default LoadTimeout 30s, got %v", settings.LoadTimeout)
				}
				if !settings.MetricsEnabled {
					t.Error("expected metrics to be enabled by default")
				}
				if settings.DataPath != "" {
					t.Errorf("expected no data path, got %s", settings.DataPath)
				}
			},
		},
		{
			name: "custom model and explanation settings",
			envVars: map[string]string{
				"MODEL_FAMILY":         "logistic",
				"MODEL_SEED":           "7",
				"FOREST_TREES":         "120",
				"LOGISTIC_EPOCHS":      "900",
				"EXPLAIN_METHOD":       "permutation",
				"EXPLAIN_PERMUTATIONS": "16",
				"SCORING_WORKERS":      "3",
				"SERVER_PORT":          "9090",
				"TRAIN_TIMEOUT":        "2m",
				"METRICS_ENABLED":      "false",
				"DATA_PATH":            "/var/lib/churn",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelFamily != "logistic" {
					t.Errorf("expected family logistic, got %s", settings.ModelFamily)
				}
				if settings.Seed != 7 {
					t.Errorf("expected Seed 7, got %d", settings.Seed)
				}
				if settings.Trees != 120 {
					t.Errorf("expected Trees 120, got %d", settings.Trees)
				}
				if settings.Epochs != 900 {
					t.Errorf("expected Epochs 900, got %d", settings.Epochs)
				}
				if settings.Permutations != 16 {
					t.Errorf("expected Permutations 16, got %d", settings.Permutations)
				}
				if settings.ScoringWorkers != 3 {
					t.Errorf("expected ScoringWorkers 3, got %d", settings.ScoringWorkers)
				}
				if settings.ServerPort != 9090 {
					t.Errorf("expected ServerPort 9090, got %d", settings.ServerPort)
				}
				if settings.TrainTimeout != 2*time.Minute {
					t.Errorf("expected TrainTimeout 2m, got %v", settings.TrainTimeout)
				}
				if settings.MetricsEnabled {
					t.Error("expected metrics to be disabled")
				}
				if settings.DataPath != "/var/lib/churn" {
					t.Errorf("expected DataPath /var/lib/churn, got %s", settings.DataPath)
				}
			},
		},
		{
			name:    "unknown model family",
			envVars: map[string]string{"MODEL_FAMILY": "svm"},
			wantErr: true,
		},
		{
			name:    "unknown explanation method",
			envVars: map[string]string{"EXPLAIN_METHOD": "lime"},
			wantErr: true,
		},
		{
			name:    "same identifier and target",
			envVars: map[string]string{"ID_COLUMN": "Churn?"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear all environment variables first
			clearTestEnv(t)

			// Set test environment variables
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "valid YAML config",
			yamlContent: `
data:
  trainingSource: "data/churn.csv"
  testingSource: "https://example.com/holdout.csv"
  outputPath: "/tmp/scored.csv"
  loadTimeout: "45s"

schema:
  idColumn: "Phone_No"
  targetColumn: "Churn?"
  features:
    - name: "State"
      type: "categorical"
    - name: "Total_Day_charge"
      type: "numeric"
  positiveLabels: ["True."]
  negativeLabels: ["False."]

model:
  family: "forest"
  trees: 200
  maxDepth: 10
  backgroundSize: 50
  trainTimeout: "20m"

explain:
  method: "tree"
  tolerance: 0.00001
  driftThreshold: 0.25

system:
  dataPath: "/custom/data"
  scoringWorkers: 6
  serverPort: 9090
  logLevel: "debug"
  metricsEnabled: false
`,
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.TrainingSource != "data/churn.csv" {
					t.Errorf("expected TrainingSource 'data/churn.csv', got %s", settings.TrainingSource)
				}
				if settings.LoadTimeout != 45*time.Second {
					t.Errorf("expected LoadTimeout 45s, got %v", settings.LoadTimeout)
				}
				if len(settings.Features) != 2 || settings.Features[0].Type != schema.Categorical {
					t.Errorf("expected two declared features, got %v", settings.Features)
				}
				if settings.Trees != 200 {
					t.Errorf("expected Trees 200, got %d", settings.Trees)
				}
				if settings.MinSamplesLeaf != common.DefaultMinSamplesLeaf {
					t.Errorf("expected default MinSamplesLeaf, got %d", settings.MinSamplesLeaf)
				}
				if settings.TrainTimeout != 20*time.Minute {
					t.Errorf("expected TrainTimeout 20m, got %v", settings.TrainTimeout)
				}
				if settings.ExplainConfig().Method != ml.MethodTree {
					t.Errorf("expected tree method, got %s", settings.ExplainConfig().Method)
				}
				if settings.DriftThreshold != 0.25 {
					t.Errorf("expected DriftThreshold 0.25, got %f", settings.DriftThreshold)
				}
				if settings.MetricsEnabled {
					t.Error("expected metrics to be disabled")
				}
				if settings.LogLevel != "debug" {
					t.Errorf("expected LogLevel debug, got %s", settings.LogLevel)
				}
			},
		},
		{
			name: "environment overrides YAML",
			yamlContent: `
model:
  family: "forest"
  trees: 80
system:
  serverPort: 9090
`,
			envOverrides: map[string]string{
				"MODEL_FAMILY": "logistic",
				"FOREST_TREES": "10",
				"SERVER_PORT":  "9191",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelFamily != "logistic" {
					t.Errorf("expected env to override family, got %s", settings.ModelFamily)
				}
				if settings.Trees != 10 {
					t.Errorf("expected env to override trees, got %d", settings.Trees)
				}
				if settings.ServerPort != 9191 {
					t.Errorf("expected env to override port, got %d", settings.ServerPort)
				}
				if !settings.MetricsEnabled {
					t.Error("expected metrics enabled when unset")
				}
			},
		},
		{
			name: "invalid declared feature type",
			yamlContent: `
schema:
  features:
    - name: "State"
      type: "text"
`,
			wantErr: true,
		},
		{
			name:        "malformed YAML",
			yamlContent: "model: [unclosed",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			settings, err := loadFromYAML(configPath)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("uses CONFIG_FILE when set", func(t *testing.T) {
		clearTestEnv(t)

		configPath := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(configPath, []byte("model:\n  trees: 33\n"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		t.Setenv("CONFIG_FILE", configPath)

		settings, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.Trees != 33 {
			t.Errorf("expected Trees 33 from file, got %d", settings.Trees)
		}
	})

	t.Run("missing CONFIG_FILE", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

		if _, err := Load(); err == nil {
			t.Error("expected error for missing config file")
		}
	})

	t.Run("falls back to environment", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("FOREST_TREES", "12")

		settings, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.Trees != 12 {
			t.Errorf("expected Trees 12, got %d", settings.Trees)
		}
	})
}

func TestSettings_Conversions(t *testing.T) {
	clearTestEnv(t)
	settings, err := loadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	settings.Features = []schema.Column{{Name: "State", Type: schema.Categorical}}

	spec := settings.SchemaSpec()
	if spec.IDColumn != "Phone_No" || spec.TargetColumn != "Churn?" || len(spec.Features) != 1 {
		t.Errorf("unexpected schema spec: %+v", spec)
	}

	train := settings.TrainConfig()
	if train != ml.DefaultTrainConfig() {
		t.Errorf("expected default train config, got %+v", train)
	}

	explain := settings.ExplainConfig()
	if explain.Method != ml.MethodAuto || explain.Permutations != common.DefaultPermutations {
		t.Errorf("unexpected explain config: %+v", explain)
	}
}

func clearTestEnv(t *testing.T) {
	envVars := []string{
		common.EnvConfigFile, common.EnvTrainingSource, common.EnvTestingSource, common.EnvOutputPath,
		common.EnvDataPath, common.EnvServerPort, common.EnvLogLevel, common.EnvIDColumn,
		common.EnvTargetColumn, common.EnvModelFamily, common.EnvModelSeed, common.EnvTrees,
		common.EnvMaxDepth, common.EnvMinSamplesLeaf, common.EnvMaxFeatures, common.EnvMinPositive,
		common.EnvMinNegative, common.EnvBackgroundSize, common.EnvExplainMethod, common.EnvPermutations,
		common.EnvExplainTolerance, common.EnvScoringWorkers, common.EnvLoadTimeout, common.EnvTrainTimeout,
		common.EnvDriftThreshold, common.EnvEpochs, common.EnvLearningRate, common.EnvL2,
		common.EnvMetricsEnabled, common.EnvImportanceSample,
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	seqprep "github.com/textforge/seqprep/seqprep"
)

// ErrConfiguration marks configuration failures detected before any
// expensive work (tokenization, training) starts. Callers test for it
// with errors.Is.
var ErrConfiguration = errors.New("invalid configuration")

// DatasetFileExt is the required extension for persisted encoded datasets.
const DatasetFileExt = ".pt"

// Config groups everything read from a config file or environment.
type Config struct {
	Databuilder DatabuilderConfig `mapstructure:"databuilder"`
	Training    TrainingConfig    `mapstructure:"training"`
}

// DatabuilderConfig holds every knob of the feature-encoding pipeline.
// The struct is passed by value into components; there is no process-wide
// default state.
type DatabuilderConfig struct {
	SourceMaxLength     int    `mapstructure:"source_max_length" json:"source_max_length"`
	TargetMaxLength     int    `mapstructure:"target_max_length" json:"target_max_length"`
	HighlightToken      string `mapstructure:"highlight_token" json:"highlight_token"`
	SeparationToken     string `mapstructure:"separation_token" json:"separation_token"`
	TokenizerNameOrPath string `mapstructure:"tokenizer_name_or_path" json:"tokenizer_name_or_path"`
	GlobalOutputDir     string `mapstructure:"global_output_dir" json:"global_output_dir"`
	TrainCSVPath        string `mapstructure:"train_csv_path" json:"train_csv_path"`
	ValidCSVPath        string `mapstructure:"valid_csv_path" json:"valid_csv_path"`
	TrainFilePath       string `mapstructure:"train_file_path" json:"train_file_path"`
	ValidFilePath       string `mapstructure:"valid_file_path" json:"valid_file_path"`
	SourceColumn        string `mapstructure:"source_column" json:"source_column"`
	TargetColumn        string `mapstructure:"target_column" json:"target_column"`
	ConfigPath          string `mapstructure:"config_path" json:"config_path"`
}

// TrainingConfig holds the training-loop configuration consumed by the
// step runner and the driver.
type TrainingConfig struct {
	ModelNameOrPath           string  `mapstructure:"model_name_or_path" json:"model_name_or_path"`
	LabelSmoothingRate        float64 `mapstructure:"label_smoothing_rate" json:"label_smoothing_rate"`
	OutputDir                 string  `mapstructure:"output_dir" json:"output_dir"`
	OverwriteOutputDir        bool    `mapstructure:"overwrite_output_dir" json:"overwrite_output_dir"`
	DoTrain                   bool    `mapstructure:"do_train" json:"do_train"`
	DoEval                    bool    `mapstructure:"do_eval" json:"do_eval"`
	Epochs                    int     `mapstructure:"epochs" json:"epochs"`
	BatchSize                 int     `mapstructure:"batch_size" json:"batch_size"`
	GradientAccumulationSteps int     `mapstructure:"gradient_accumulation_steps" json:"gradient_accumulation_steps"`
	LearningRate              float64 `mapstructure:"learning_rate" json:"learning_rate"`
	Seed                      int64   `mapstructure:"seed" json:"seed"`
	FP16                      bool    `mapstructure:"fp16" json:"fp16"`
	Device                    string  `mapstructure:"device" json:"device"`
	NGPU                      int     `mapstructure:"n_gpu" json:"n_gpu"`
}

// DefaultDatabuilderConfig returns the databuilder defaults.
func DefaultDatabuilderConfig() DatabuilderConfig {
	return DatabuilderConfig{
		SourceMaxLength:     512,
		TargetMaxLength:     30,
		HighlightToken:      "<hl>",
		SeparationToken:     "<sep>",
		TokenizerNameOrPath: filepath.Join(seqprep.DefaultModelDir, "vocab.txt"),
		GlobalOutputDir:     seqprep.DefaultModelDir,
		TrainCSVPath:        filepath.Join(seqprep.DefaultDataDir, "train.tsv"),
		ValidCSVPath:        filepath.Join(seqprep.DefaultDataDir, "valid.tsv"),
		TrainFilePath:       filepath.Join(seqprep.DefaultDataDir, "train.pt"),
		ValidFilePath:       filepath.Join(seqprep.DefaultDataDir, "valid.pt"),
		SourceColumn:        "source_text",
		TargetColumn:        "target_text",
		ConfigPath:          filepath.Join(seqprep.DefaultModelDir, "params.json"),
	}
}

// DefaultTrainingConfig returns the training defaults.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LabelSmoothingRate:        0.0,
		OutputDir:                 seqprep.DefaultModelDir,
		OverwriteOutputDir:        true,
		DoTrain:                   true,
		DoEval:                    true,
		Epochs:                    1,
		BatchSize:                 8,
		GradientAccumulationSteps: 1,
		LearningRate:              1e-3,
		Seed:                      42,
		Device:                    "cpu",
		NGPU:                      0,
	}
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(seqprep.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. databuilder.source_max_length becomes DATABUILDER_SOURCE_MAX_LENGTH

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	db := DefaultDatabuilderConfig()
	v.SetDefault("databuilder.source_max_length", db.SourceMaxLength)
	v.SetDefault("databuilder.target_max_length", db.TargetMaxLength)
	v.SetDefault("databuilder.highlight_token", db.HighlightToken)
	v.SetDefault("databuilder.separation_token", db.SeparationToken)
	v.SetDefault("databuilder.tokenizer_name_or_path", db.TokenizerNameOrPath)
	v.SetDefault("databuilder.global_output_dir", db.GlobalOutputDir)
	v.SetDefault("databuilder.train_csv_path", db.TrainCSVPath)
	v.SetDefault("databuilder.valid_csv_path", db.ValidCSVPath)
	v.SetDefault("databuilder.train_file_path", db.TrainFilePath)
	v.SetDefault("databuilder.valid_file_path", db.ValidFilePath)
	v.SetDefault("databuilder.source_column", db.SourceColumn)
	v.SetDefault("databuilder.target_column", db.TargetColumn)
	v.SetDefault("databuilder.config_path", db.ConfigPath)

	tr := DefaultTrainingConfig()
	v.SetDefault("training.label_smoothing_rate", tr.LabelSmoothingRate)
	v.SetDefault("training.output_dir", tr.OutputDir)
	v.SetDefault("training.overwrite_output_dir", tr.OverwriteOutputDir)
	v.SetDefault("training.do_train", tr.DoTrain)
	v.SetDefault("training.do_eval", tr.DoEval)
	v.SetDefault("training.epochs", tr.Epochs)
	v.SetDefault("training.batch_size", tr.BatchSize)
	v.SetDefault("training.gradient_accumulation_steps", tr.GradientAccumulationSteps)
	v.SetDefault("training.learning_rate", tr.LearningRate)
	v.SetDefault("training.seed", tr.Seed)
	v.SetDefault("training.device", tr.Device)
	v.SetDefault("training.n_gpu", tr.NGPU)
}

// Validate checks the databuilder configuration before any encoding work
// begins. Cheap validation precedes costly computation.
func (c DatabuilderConfig) Validate() error {
	if c.SourceMaxLength < 1 {
		return fmt.Errorf("%w: source_max_length must be >= 1, got %d", ErrConfiguration, c.SourceMaxLength)
	}
	if c.TargetMaxLength < 1 {
		return fmt.Errorf("%w: target_max_length must be >= 1, got %d", ErrConfiguration, c.TargetMaxLength)
	}
	if c.HighlightToken == "" || c.SeparationToken == "" {
		return fmt.Errorf("%w: highlight_token and separation_token cannot be empty", ErrConfiguration)
	}
	if c.SourceColumn == "" || c.TargetColumn == "" {
		return fmt.Errorf("%w: source_column and target_column cannot be empty", ErrConfiguration)
	}
	for _, path := range []string{c.TrainFilePath, c.ValidFilePath} {
		if filepath.Ext(path) != DatasetFileExt {
			return fmt.Errorf("%w: %s must be a %s file", ErrConfiguration, path, DatasetFileExt)
		}
	}
	return nil
}

// Validate checks the training configuration before the loop starts.
func (c TrainingConfig) Validate() error {
	if c.Epochs < 1 {
		return fmt.Errorf("%w: epochs must be >= 1, got %d", ErrConfiguration, c.Epochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1, got %d", ErrConfiguration, c.BatchSize)
	}
	if c.GradientAccumulationSteps < 1 {
		return fmt.Errorf("%w: gradient_accumulation_steps must be >= 1, got %d",
			ErrConfiguration, c.GradientAccumulationSteps)
	}
	if c.LabelSmoothingRate < 0 || c.LabelSmoothingRate >= 1 {
		return fmt.Errorf("%w: label_smoothing_rate must be in [0, 1), got %g",
			ErrConfiguration, c.LabelSmoothingRate)
	}
	return nil
}

// CheckOutputDir fails when the output directory already holds files and
// overwriting was not requested.
func (c TrainingConfig) CheckOutputDir() error {
	if !c.DoTrain || c.OverwriteOutputDir {
		return nil
	}
	entries, err := os.ReadDir(c.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect output directory %s: %w", c.OutputDir, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: output directory %s already exists and is not empty, use overwrite_output_dir to overcome",
			ErrConfiguration, c.OutputDir)
	}
	return nil
}

// ResolveModelName picks the model to load: the explicitly configured one
// when set, otherwise the tokenizer name.
func (c TrainingConfig) ResolveModelName(tokenizerNameOrPath string) string {
	if c.ModelNameOrPath != "" {
		return c.ModelNameOrPath
	}
	return tokenizerNameOrPath
}

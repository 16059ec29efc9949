package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
	tmpDir string
}

func (s *ConfigTestSuite) SetupTest() {
	s.tmpDir = s.T().TempDir()
}

func (s *ConfigTestSuite) TestLoadConfigDefaults() {
	cfg, err := LoadConfig("")
	s.Require().NoError(err)

	s.Equal(512, cfg.Databuilder.SourceMaxLength)
	s.Equal(30, cfg.Databuilder.TargetMaxLength)
	s.Equal("<hl>", cfg.Databuilder.HighlightToken)
	s.Equal("<sep>", cfg.Databuilder.SeparationToken)
	s.Equal("source_text", cfg.Databuilder.SourceColumn)
	s.Equal("target_text", cfg.Databuilder.TargetColumn)

	s.Equal(1, cfg.Training.Epochs)
	s.Equal(8, cfg.Training.BatchSize)
	s.Equal(1, cfg.Training.GradientAccumulationSteps)
	s.Equal(int64(42), cfg.Training.Seed)
	s.Equal("cpu", cfg.Training.Device)
}

func (s *ConfigTestSuite) TestLoadConfigFromFile() {
	path := filepath.Join(s.tmpDir, "config.yaml")
	content := `databuilder:
  source_max_length: 128
  highlight_token: "<mark>"
training:
  epochs: 3
  label_smoothing_rate: 0.15
`
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	s.Require().NoError(err)
	s.Equal(128, cfg.Databuilder.SourceMaxLength)
	s.Equal("<mark>", cfg.Databuilder.HighlightToken)
	s.Equal(3, cfg.Training.Epochs)
	s.InDelta(0.15, cfg.Training.LabelSmoothingRate, 1e-12)
	// Unset keys keep their defaults.
	s.Equal(30, cfg.Databuilder.TargetMaxLength)
}

func (s *ConfigTestSuite) TestDatabuilderValidate() {
	cases := []struct {
		name   string
		mutate func(*DatabuilderConfig)
		valid  bool
	}{
		{"defaults", func(*DatabuilderConfig) {}, true},
		{"zero source length", func(c *DatabuilderConfig) { c.SourceMaxLength = 0 }, false},
		{"negative target length", func(c *DatabuilderConfig) { c.TargetMaxLength = -1 }, false},
		{"empty highlight token", func(c *DatabuilderConfig) { c.HighlightToken = "" }, false},
		{"empty separation token", func(c *DatabuilderConfig) { c.SeparationToken = "" }, false},
		{"empty source column", func(c *DatabuilderConfig) { c.SourceColumn = "" }, false},
		{"wrong train extension", func(c *DatabuilderConfig) { c.TrainFilePath = "data/train.bin" }, false},
		{"wrong valid extension", func(c *DatabuilderConfig) { c.ValidFilePath = "data/valid.json" }, false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			cfg := DefaultDatabuilderConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.valid {
				s.NoError(err)
			} else {
				s.Require().Error(err)
				s.True(errors.Is(err, ErrConfiguration))
			}
		})
	}
}

func (s *ConfigTestSuite) TestTrainingValidate() {
	cases := []struct {
		name   string
		mutate func(*TrainingConfig)
		valid  bool
	}{
		{"defaults", func(*TrainingConfig) {}, true},
		{"zero epochs", func(c *TrainingConfig) { c.Epochs = 0 }, false},
		{"zero batch size", func(c *TrainingConfig) { c.BatchSize = 0 }, false},
		{"zero accumulation", func(c *TrainingConfig) { c.GradientAccumulationSteps = 0 }, false},
		{"negative smoothing", func(c *TrainingConfig) { c.LabelSmoothingRate = -0.1 }, false},
		{"smoothing of one", func(c *TrainingConfig) { c.LabelSmoothingRate = 1.0 }, false},
		{"smoothing in range", func(c *TrainingConfig) { c.LabelSmoothingRate = 0.99 }, true},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			cfg := DefaultTrainingConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.valid {
				s.NoError(err)
			} else {
				s.Require().Error(err)
				s.True(errors.Is(err, ErrConfiguration))
			}
		})
	}
}

func (s *ConfigTestSuite) TestCheckOutputDir() {
	cfg := DefaultTrainingConfig()
	cfg.OutputDir = s.tmpDir
	cfg.OverwriteOutputDir = false

	// Empty directory is fine.
	s.NoError(cfg.CheckOutputDir())

	s.Require().NoError(os.WriteFile(filepath.Join(s.tmpDir, "stale.bin"), []byte("x"), 0o644))
	err := cfg.CheckOutputDir()
	s.Require().Error(err)
	s.True(errors.Is(err, ErrConfiguration))

	// Overwriting or skipping training disables the check.
	cfg.OverwriteOutputDir = true
	s.NoError(cfg.CheckOutputDir())
	cfg.OverwriteOutputDir = false
	cfg.DoTrain = false
	s.NoError(cfg.CheckOutputDir())
}

func (s *ConfigTestSuite) TestCheckOutputDirMissingDirectory() {
	cfg := DefaultTrainingConfig()
	cfg.OutputDir = filepath.Join(s.tmpDir, "does-not-exist")
	cfg.OverwriteOutputDir = false
	s.NoError(cfg.CheckOutputDir())
}

func (s *ConfigTestSuite) TestResolveModelName() {
	cfg := DefaultTrainingConfig()
	s.Equal("model/vocab.txt", cfg.ResolveModelName("model/vocab.txt"))

	cfg.ModelNameOrPath = "model/checkpoint.bin"
	s.Equal("model/checkpoint.bin", cfg.ResolveModelName("model/vocab.txt"))
}

func (s *ConfigTestSuite) TestDatabuilderConfigRoundTrip() {
	cfg := DefaultDatabuilderConfig()
	cfg.SourceMaxLength = 256
	cfg.HighlightToken = "<mark>"
	cfg.TrainFilePath = "out/train.pt"

	path := filepath.Join(s.tmpDir, "model", "params.json")
	s.Require().NoError(cfg.Save(path))

	loaded, err := LoadDatabuilderConfig(path)
	s.Require().NoError(err)
	s.Equal(cfg, loaded)
}

func (s *ConfigTestSuite) TestLoadDatabuilderConfigMissingFile() {
	_, err := LoadDatabuilderConfig(filepath.Join(s.tmpDir, "nope.json"))
	s.Error(err)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	seqprep "github.com/textforge/seqprep/seqprep"
	"github.com/textforge/seqprep/seqprep/config"
	"github.com/textforge/seqprep/seqprep/databuilder"
	"github.com/textforge/seqprep/seqprep/model"
	"github.com/textforge/seqprep/seqprep/tokenizer"
	"github.com/textforge/seqprep/seqprep/training"
)

// embedDim is the width of the reference model.
const embedDim = 64

func main() {
	logger := seqprep.GetLogger()

	configPath := flag.String("config", "", "path to a config file (yaml/json)")
	paramsPath := flag.String("params", "", "path to a databuilder params.json record")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *paramsPath != "" {
		db, err := config.LoadDatabuilderConfig(*paramsPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load databuilder params")
		}
		cfg.Databuilder = db
	}

	tr := cfg.Training
	if err := tr.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid training configuration")
	}
	if err := tr.CheckOutputDir(); err != nil {
		logger.Fatal().Err(err).Msg("output directory check failed")
	}

	slog.Info("training parameters",
		"device", tr.Device,
		"n_gpu", tr.NGPU,
		"fp16", tr.FP16,
		"label_smoothing_rate", tr.LabelSmoothingRate,
		"gradient_accumulation_steps", tr.GradientAccumulationSteps,
		"seed", tr.Seed)

	loader, err := tokenizer.NewLoader()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tokenizer loader")
	}
	tok, err := loader.Get(cfg.Databuilder.GlobalOutputDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load tokenizer")
	}

	modelName := tr.ResolveModelName(cfg.Databuilder.TokenizerNameOrPath)
	var linear *model.Linear
	if _, statErr := os.Stat(modelName); statErr == nil && tr.ModelNameOrPath != "" {
		linear, err = model.LoadLinear(modelName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load model checkpoint")
		}
		slog.Info("model loaded", "path", modelName)
	} else {
		linear = model.NewLinear(tok.VocabSize(), embedDim, tok.PadID(), tr.Seed)
		slog.Info("model initialized", "vocab", tok.VocabSize(), "dim", embedDim)
	}

	// The vocabulary grew when special tokens were added; keep the
	// embedding table in sync.
	linear.ResizeVocab(tok.VocabSize())

	var mdl training.Model = linear
	if tr.NGPU > 1 {
		mdl = training.NewDataParallel(linear, tr.NGPU)
	}

	opt := model.NewSGD(linear, tr.LearningRate, 0)
	driver := training.NewDriver(tr, mdl, opt)
	ctx := context.Background()

	if tr.DoTrain {
		trainSet, err := databuilder.LoadEncodedDataset(cfg.Databuilder.TrainFilePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load training dataset")
		}
		slog.Info("dataset loaded", "path", cfg.Databuilder.TrainFilePath, "examples", trainSet.Len())

		if err := driver.Train(ctx, trainSet); err != nil {
			logger.Fatal().Err(err).Msg("training failed")
		}
		if _, err := driver.SaveCheckpoint(); err != nil {
			logger.Fatal().Err(err).Msg("failed to save checkpoint")
		}
	}

	if tr.DoEval {
		validSet, err := databuilder.LoadEncodedDataset(cfg.Databuilder.ValidFilePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load validation dataset")
		}
		slog.Info("dataset loaded", "path", cfg.Databuilder.ValidFilePath, "examples", validSet.Len())

		results, err := driver.Evaluate(ctx, validSet)
		if err != nil {
			logger.Fatal().Err(err).Msg("evaluation failed")
		}
		if err := driver.WriteEvalReport(results); err != nil {
			logger.Fatal().Err(err).Msg("failed to write evaluation report")
		}
	}
}

package main

import (
	"context"
	"flag"
	"log/slog"

	seqprep "github.com/textforge/seqprep/seqprep"
	"github.com/textforge/seqprep/seqprep/config"
	"github.com/textforge/seqprep/seqprep/databuilder"
	"github.com/textforge/seqprep/seqprep/tokenizer"
)

func main() {
	logger := seqprep.GetLogger()

	configPath := flag.String("config", "", "path to a config file (yaml/json)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	db := cfg.Databuilder
	if err := db.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid databuilder configuration")
	}

	slog.Info("building datasets",
		"train_csv", db.TrainCSVPath,
		"valid_csv", db.ValidCSVPath,
		"tokenizer", db.TokenizerNameOrPath,
		"source_max_length", db.SourceMaxLength,
		"target_max_length", db.TargetMaxLength)

	trainDS, err := databuilder.ReadTSV(db.TrainCSVPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load training data")
	}
	validDS, err := databuilder.ReadTSV(db.ValidCSVPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load validation data")
	}

	loader, err := tokenizer.NewLoader()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tokenizer loader")
	}
	tok, err := loader.Get(db.TokenizerNameOrPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load tokenizer")
	}

	// Vocabulary mutation happens exactly once, before any encoding call.
	added := tok.AddSpecialTokens(db.HighlightToken, db.SeparationToken)
	slog.Info("special tokens registered", "added", added)

	builder := databuilder.New(tok, db)
	ctx := context.Background()

	trainEncoded, err := builder.Encode(ctx, trainDS)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to encode training dataset")
	}
	validEncoded, err := builder.Encode(ctx, validDS)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to encode validation dataset")
	}

	if err := trainEncoded.Save(db.TrainFilePath); err != nil {
		logger.Fatal().Err(err).Msg("failed to save training dataset")
	}
	slog.Info("train dataset saved", "path", db.TrainFilePath, "examples", trainEncoded.Len())

	if err := validEncoded.Save(db.ValidFilePath); err != nil {
		logger.Fatal().Err(err).Msg("failed to save validation dataset")
	}
	slog.Info("validation dataset saved", "path", db.ValidFilePath, "examples", validEncoded.Len())

	if err := db.Save(db.ConfigPath); err != nil {
		logger.Fatal().Err(err).Msg("failed to persist databuilder config")
	}
	slog.Info("config saved", "path", db.ConfigPath)

	if wp, ok := tok.(*tokenizer.WordPiece); ok {
		if err := wp.SaveVocab(db.GlobalOutputDir); err != nil {
			logger.Fatal().Err(err).Msg("failed to save tokenizer")
		}
		slog.Info("tokenizer saved", "dir", db.GlobalOutputDir)
	}
}

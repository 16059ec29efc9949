package seqprep

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is the application name used for config discovery
	DefaultAppName    = "seqprep"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)

	// Default locations for built artifacts
	DefaultModelDir = "model"
	DefaultDataDir  = "data"
)

const (
	// EOSMarker is the end-of-sequence marker appended to every source and
	// target text before tokenization.
	EOSMarker = "</s>"

	// HighlightPlaceholder and SeparationPlaceholder are the literal
	// patterns substituted by the configured highlight/separation tokens
	// during preprocessing.
	HighlightPlaceholder  = "{hl_token}"
	SeparationPlaceholder = "{sep_token}"
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			// Last resort - use tmp directory
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

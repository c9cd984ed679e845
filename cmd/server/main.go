package main

import (
	"os"

	"github.com/vedran77/pulsedm/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Error().Err(err).Msg("pulsedm failed")
		os.Exit(1)
	}
}

package main

import (
	"errors"

	"go.uber.org/zap"
)

// newLogger builds the development logger at the level selected by the
// mutually exclusive verbosity flags.
func newLogger(verbose, quiet, silent bool) (*zap.Logger, error) {
	set := 0
	for _, v := range []bool{verbose, quiet, silent} {
		if v {
			set++
		}
	}
	if set > 1 {
		return nil, errors.New("--verbose, --quiet and --silent are mutually exclusive")
	}
	if silent {
		return zap.NewNop(), nil
	}

	cfg := zap.NewDevelopmentConfig()
	switch {
	case verbose:
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case quiet:
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

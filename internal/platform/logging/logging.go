// Package logging builds the zap loggers the commands write to.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewZap builds a production zap logger at level (debug, info, warn, error).
func NewZap(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

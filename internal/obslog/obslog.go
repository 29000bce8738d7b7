// Package obslog wraps go.uber.org/zap into the per-subsystem sugared
// loggers the background threads and admin surface use.
package obslog

import "go.uber.org/zap"

// New builds a production zap logger. An empty component returns the
// root logger; a non-empty one is tagged via a "component" field so
// trainer/GC/admin log lines can be filtered independently.
func New(component string) (*zap.SugaredLogger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	if component == "" {
		return base.Sugar(), nil
	}
	return base.Sugar().With("component", component), nil
}

// NewNop returns a logger that discards everything, for tests and for
// callers that haven't configured logging.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

package telemetry

import "go.uber.org/zap"

// NewLogger builds the process logger. Production wiring uses the
// zap production encoder (JSON, sampled); development wiring favors
// the readable console encoder. Components receive the *zap.Logger
// through their constructors; there is no package-level logger.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

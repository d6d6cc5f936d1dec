// Package logging provides structured logging using uber/zap.
//
// Production mode emits JSON for machine parsing; development mode emits
// colored console output. All runtime components receive a *Logger via
// constructor injection and derive named children (e.g. "session",
// "bridge") so log origin is always attributable.
//
// Example Usage:
//
//	logger := logging.NewDefault().Named("session")
//	logger.Info("Session started", zap.String("run_id", runID))
//	logger.Error("Manifest load failed", zap.Error(err))
package logging

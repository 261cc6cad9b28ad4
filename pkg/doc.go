// Package pkg provides shared utilities for the isostream USB stack.
//
// This package contains common functionality used by the HAL
// implementations and the streaming core, including:
//
//   - Structured logging via [github.com/sirupsen/logrus]
//   - Sentinel error types for startup, streaming and USB protocol errors
//   - Mapping of native completion status codes to [TransferStatus]
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps logrus with a component field and
// key/value arguments:
//
//	pkg.SetLogLevel(logrus.DebugLevel)
//	pkg.LogInfo(pkg.ComponentRing, "slot resubmitted", "slot", 1)
//
// # Errors
//
// Errors are defined as sentinel values and wrapped with context:
//
//	if errors.Is(err, pkg.ErrRingHalted) {
//	    // Recovery budget exhausted
//	}
package pkg

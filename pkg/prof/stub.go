//go:build !profile

package prof

import "net/http"

// Enabled reports whether the binary was built with the "profile" tag.
const Enabled = false

// Profiling errors (defined for API compatibility but never returned by stubs).
var (
	// ErrCPUProfileActive indicates CPU profiling is already active.
	ErrCPUProfileActive error

	// ErrInvalidProfile indicates an unknown snapshot profile name.
	ErrInvalidProfile error
)

// StartCPU is a no-op when built without the "profile" tag.
func StartCPU(_ string) error { return nil }

// StopCPU is a no-op when built without the "profile" tag.
func StopCPU() error { return nil }

// IsCPUActive always returns false when built without the "profile" tag.
func IsCPUActive() bool { return false }

// Write is a no-op when built without the "profile" tag.
func Write(_, _ string) error { return nil }

// Register is a no-op when built without the "profile" tag.
func Register(_ *http.ServeMux) {}

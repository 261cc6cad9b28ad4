// Package prof profiles the streamer on demand.
//
// It is conditionally compiled using the "profile" build tag:
//
//	go build -tags profile ./examples/linux-hal/tone-stream
//
// Without the tag every function is a no-op and [Enabled] is false, so the
// calls can stay in place at no cost.
//
// # CPU Profiling
//
//	prof.StartCPU("cpu.prof")
//	defer prof.StopCPU()
//
// Starting a second CPU profile returns [ErrCPUProfileActive].
//
// # HTTP Profiling
//
// [Register] mounts the [net/http/pprof] handlers on a mux. The tone-stream
// command does this on its metrics listener, next to /metrics.
package prof

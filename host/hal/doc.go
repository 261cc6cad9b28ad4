// Package hal defines the Hardware Abstraction Layer consumed by the
// isochronous streaming core.
//
// The HAL models the small slice of a host controller that a streaming
// client needs: allocating isochronous transfer descriptors, submitting
// them, processing completions on a dedicated goroutine, and a handful of
// device control requests.
//
// # Completion Model
//
// Completion is callback driven. [IsoTransfer.Submit] returns immediately;
// later, a goroutine blocked in [EventHandler.HandleEvents] invokes the
// transfer's [CompletionFunc]. The opaque value set with
// [IsoTransfer.SetUserData] is the only context carried across that
// boundary; Submit captures it and the callback receives the captured value.
// The native layer calls the callback exactly once for every successful
// Submit and never for a failed one.
//
// # Implementations
//
//   - [github.com/ardnew/isostream/host/hal/linux]: Linux usbfs (pure Go)
//   - [github.com/ardnew/isostream/host/hal/fifo]: in-memory controller for
//     tests and dry runs
package hal

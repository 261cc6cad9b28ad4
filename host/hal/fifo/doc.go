// Package fifo provides an in-memory host controller HAL.
//
// Submitted transfers wait in a first-in first-out queue. A test completes
// them one at a time, in any order and with any status, with
// [HAL.CompleteNext] or [HAL.Complete]; completion callbacks run on the
// calling goroutine, standing in for the native event thread. Alternatively,
// a goroutine calling [HAL.HandleEvents] completes transfers on its own after
// a configurable latency, which is how the dry-run mode streams without
// hardware.
//
// Hooks inject allocation, submit and alternate-setting failures. Every
// SetAlternateSetting call, interface claim and kernel driver detach is
// recorded for inspection.
//
// # Example
//
//	h := fifo.New(fifo.WithRecording())
//	x, _ := h.AllocIsoTransfer(0x04, 192, 10, func(x hal.IsoTransfer, _ uintptr) {
//	    fmt.Println("done", x.Status())
//	})
//	x.Submit()
//	h.CompleteNext(0)
package fifo

package pkg

import (
	"errors"
	"fmt"
)

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates a data overrun condition.
	ErrOverrun = errors.New("data overrun")

	// ErrUnderrun indicates a data underrun condition.
	ErrUnderrun = errors.New("data underrun")

	// ErrProtocol indicates a bus-level protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrAlreadyRunning indicates a start-once resource was started twice.
	ErrAlreadyRunning = errors.New("already running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Startup errors. These abort the process before streaming begins.
var (
	// ErrDeviceNotFound indicates no device matched the vendor/product filter.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrOpenFailed indicates the device node could not be opened.
	ErrOpenFailed = errors.New("device open failed")

	// ErrClaimFailed indicates the streaming interface could not be claimed.
	ErrClaimFailed = errors.New("interface claim failed")
)

// Streaming errors.
var (
	// ErrAllocationFailed indicates the native transfer descriptor could not
	// be allocated.
	ErrAllocationFailed = errors.New("transfer allocation failed")

	// ErrSubmitFailed indicates the native layer rejected a submit call.
	ErrSubmitFailed = errors.New("transfer submit failed")

	// ErrTransferStatus indicates a transfer completed with a nonzero status.
	ErrTransferStatus = errors.New("transfer completed with error status")

	// ErrProtocolViolation indicates broken buffer or completion ownership.
	// It is never expected in a correct build.
	ErrProtocolViolation = errors.New("ownership protocol violation")

	// ErrBufferBusy indicates a buffer was touched while its transfer is in
	// flight. It always wraps ErrProtocolViolation.
	ErrBufferBusy = fmt.Errorf("%w: buffer in flight", ErrProtocolViolation)

	// ErrRingHalted indicates the submission ring stopped after exhausting
	// its recovery budget.
	ErrRingHalted = errors.New("submission ring halted")
)

// TransferStatus represents the completion status of a USB transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusOverrun                         // Data overrun
	TransferStatusUnderrun                        // Data underrun
	TransferStatusNoDevice                        // Device went away
)

// Negated errno values reported by the kernel in a completed URB.
const (
	statusENOENT     = -2
	statusEPIPE      = -32
	statusENODEV     = -19
	statusETIME      = -62
	statusEOVERFLOW  = -75
	statusEREMOTEIO  = -121
	statusECONNRESET = -104
	statusESHUTDOWN  = -108
	statusETIMEDOUT  = -110
	statusECOMM      = -70
	statusENOSR      = -63
)

// StatusFromNative maps a native completion status code to a TransferStatus.
// Zero is success; the kernel reports failures as negated errno values. Codes
// without a more specific mapping, such as EXDEV, EPROTO and EILSEQ, are
// TransferStatusError.
func StatusFromNative(code int32) TransferStatus {
	switch code {
	case 0:
		return TransferStatusSuccess
	case statusEPIPE:
		return TransferStatusStall
	case statusETIME, statusETIMEDOUT:
		return TransferStatusTimeout
	case statusENOENT, statusECONNRESET:
		return TransferStatusCancelled
	case statusEOVERFLOW, statusECOMM:
		return TransferStatusOverrun
	case statusENOSR, statusEREMOTEIO:
		return TransferStatusUnderrun
	case statusENODEV, statusESHUTDOWN:
		return TransferStatusNoDevice
	default:
		return TransferStatusError
	}
}

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverrun:
		return "overrun"
	case TransferStatusUnderrun:
		return "underrun"
	case TransferStatusNoDevice:
		return "no device"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	case TransferStatusUnderrun:
		return ErrUnderrun
	case TransferStatusNoDevice:
		return ErrNoDevice
	default:
		return ErrProtocol
	}
}

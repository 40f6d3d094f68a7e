package core

import (
	"errors"
)

var (
	// ErrDeviceError is returned when the device rejects a call (object creation, submission).
	ErrDeviceError = errors.New("device error")
	// ErrDeviceLost means the device can no longer be used. Fatal.
	ErrDeviceLost = errors.New("device lost")
	// ErrFenceTimeout is returned when a fence wait exceeds its budget.
	ErrFenceTimeout = errors.New("fence wait timed out")
	// ErrSurfaceOutOfDate means the swapchain no longer matches the window and must be recreated.
	ErrSurfaceOutOfDate = errors.New("surface out of date")
	ErrSurfaceCreation  = errors.New("surface creation failed")
	// ErrConfiguration covers invalid sizes and settings, e.g. a minimised window.
	ErrConfiguration = errors.New("invalid configuration")
	ErrRecording     = errors.New("command recording failed")
	// ErrResourceInUse is returned when a GPU owned resource is touched before its fence signaled.
	ErrResourceInUse = errors.New("resource still in use by the GPU")
	ErrUnknown       = errors.New("unknown")
)

// IsRecoverable reports whether the frame loop can keep going after err.
// Recoverable errors cost at most one frame.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if IsFatal(err) {
		return false
	}
	return errors.Is(err, ErrSurfaceOutOfDate) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrRecording)
}

// IsFatal reports whether err must terminate the engine.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDeviceLost) ||
		errors.Is(err, ErrFenceTimeout) ||
		errors.Is(err, ErrDeviceError) ||
		errors.Is(err, ErrSurfaceCreation) ||
		errors.Is(err, ErrResourceInUse)
}

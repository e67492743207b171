package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCallback is returned synchronously when a required callback is nil.
	ErrInvalidCallback = errors.New("invalid callback")
	// ErrAlreadyScanning rejects a scan while another session is active.
	ErrAlreadyScanning = errors.New("already scanning")
	// ErrNoWindowOrHardware means no capture surface or device could be found.
	ErrNoWindowOrHardware = errors.New("no window or capture hardware available")
	// ErrNativeSession is the kind matched by every *NativeError.
	ErrNativeSession = errors.New("native session error")
	// ErrEncodeDataMissing rejects encode requests with empty data.
	ErrEncodeDataMissing = errors.New("Data to be encoded was not specified") //nolint:staticcheck // message matches the native plugins
	// ErrNotImplemented is reported where no encoder or path exists.
	ErrNotImplemented = errors.New("Not implemented yet") //nolint:staticcheck // message matches the native plugins
)

// NativeError carries an adapter failure. Error returns Reason unchanged so the
// caller sees exactly what the native layer reported.
type NativeError struct {
	Reason string
	Err    error // optional cause
}

func (e *NativeError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrNativeSession) hold for every NativeError.
func (e *NativeError) Is(target error) bool { return target == ErrNativeSession }

func (e *NativeError) Unwrap() error { return e.Err }

// nativeErrorf builds a NativeError from an adapter reason.
func nativeErrorf(format string, args ...any) *NativeError {
	return &NativeError{Reason: fmt.Sprintf(format, args...)}
}

// asNative converts an adapter error to the error delivered to callers. Errors that
// already carry a known kind pass through untouched.
func asNative(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoWindowOrHardware) || errors.Is(err, ErrNativeSession) ||
		errors.Is(err, ErrNotImplemented) {
		return err
	}
	return &NativeError{Reason: err.Error(), Err: err}
}

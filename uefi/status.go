// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
	"fmt"
)

// Status represents an EFI_STATUS value, error codes have the high bit of
// the native word set.
type Status uint64

const errorBit = 1 << 63

// EFI_STATUS codes
const (
	EFI_SUCCESS Status = 0

	EFI_LOAD_ERROR         Status = errorBit | 1
	EFI_INVALID_PARAMETER  Status = errorBit | 2
	EFI_UNSUPPORTED        Status = errorBit | 3
	EFI_BAD_BUFFER_SIZE    Status = errorBit | 4
	EFI_BUFFER_TOO_SMALL   Status = errorBit | 5
	EFI_NOT_READY          Status = errorBit | 6
	EFI_DEVICE_ERROR       Status = errorBit | 7
	EFI_OUT_OF_RESOURCES   Status = errorBit | 9
	EFI_VOLUME_CORRUPTED   Status = errorBit | 10
	EFI_NOT_FOUND          Status = errorBit | 14
	EFI_ALREADY_STARTED    Status = errorBit | 20
	EFI_ABORTED            Status = errorBit | 21
	EFI_SECURITY_VIOLATION Status = errorBit | 26
	EFI_NOT_AVAILABLE_YET  Status = errorBit | 32
)

// Status errors, suitable for errors.Is comparisons.
var (
	ErrLoadError         error = EFI_LOAD_ERROR
	ErrInvalidParameter  error = EFI_INVALID_PARAMETER
	ErrUnsupported       error = EFI_UNSUPPORTED
	ErrBadBufferSize     error = EFI_BAD_BUFFER_SIZE
	ErrBufferTooSmall    error = EFI_BUFFER_TOO_SMALL
	ErrNotReady          error = EFI_NOT_READY
	ErrDeviceError       error = EFI_DEVICE_ERROR
	ErrOutOfResources    error = EFI_OUT_OF_RESOURCES
	ErrVolumeCorrupted   error = EFI_VOLUME_CORRUPTED
	ErrNotFound          error = EFI_NOT_FOUND
	ErrAlreadyStarted    error = EFI_ALREADY_STARTED
	ErrAborted           error = EFI_ABORTED
	ErrSecurityViolation error = EFI_SECURITY_VIOLATION
	ErrNotAvailableYet   error = EFI_NOT_AVAILABLE_YET
)

var statusName = map[Status]string{
	EFI_SUCCESS:            "success",
	EFI_LOAD_ERROR:         "load error",
	EFI_INVALID_PARAMETER:  "invalid parameter",
	EFI_UNSUPPORTED:        "unsupported",
	EFI_BAD_BUFFER_SIZE:    "bad buffer size",
	EFI_BUFFER_TOO_SMALL:   "buffer too small",
	EFI_NOT_READY:          "not ready",
	EFI_DEVICE_ERROR:       "device error",
	EFI_OUT_OF_RESOURCES:   "out of resources",
	EFI_VOLUME_CORRUPTED:   "volume corrupted",
	EFI_NOT_FOUND:          "not found",
	EFI_ALREADY_STARTED:    "already started",
	EFI_ABORTED:            "aborted",
	EFI_SECURITY_VIOLATION: "security violation",
	EFI_NOT_AVAILABLE_YET:  "not available yet",
}

// IsError reports whether the status has the error bit set.
func (s Status) IsError() bool {
	return s&errorBit != 0
}

// Error implements the error interface.
func (s Status) Error() string {
	if name, ok := statusName[s]; ok {
		return name
	}

	return fmt.Sprintf("EFI_STATUS error %#x (%d)", uint64(s), s&0xff)
}

// StatusOf converts an error into its EFI_STATUS representation, errors
// which do not wrap a Status map to EFI_DEVICE_ERROR.
func StatusOf(err error) Status {
	var s Status

	switch {
	case err == nil:
		return EFI_SUCCESS
	case errors.As(err, &s):
		return s
	default:
		return EFI_DEVICE_ERROR
	}
}

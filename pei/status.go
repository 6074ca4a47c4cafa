// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pei

import (
	"fmt"

	"github.com/usbarmory/go-pei/uefi"
)

// StatusCodeType represents EFI_STATUS_CODE_TYPE.
type StatusCodeType uint32

// EFI_STATUS_CODE_TYPE values
const (
	EFI_PROGRESS_CODE StatusCodeType = 0x00000001
	EFI_ERROR_CODE    StatusCodeType = 0x00000002
	EFI_DEBUG_CODE    StatusCodeType = 0x00000003

	EFI_ERROR_MINOR      StatusCodeType = 0x40000000
	EFI_ERROR_MAJOR      StatusCodeType = 0x80000000
	EFI_ERROR_UNRECOVERD StatusCodeType = 0x90000000
)

// StatusCodeValue represents EFI_STATUS_CODE_VALUE.
type StatusCodeValue uint32

// EFI_STATUS_CODE_VALUE values reported by the core
const (
	EFI_SOFTWARE_PEI_CORE StatusCodeValue = 0x03020000

	EFI_SW_PC_INIT       StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0000
	EFI_SW_PC_LOAD       StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0001
	EFI_SW_PC_INIT_BEGIN StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0002
	EFI_SW_PC_INIT_END   StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0003

	EFI_SW_EC_LOAD_ERROR             StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0001
	EFI_SW_EC_INVALID_PARAMETER      StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0002
	EFI_SW_EC_ILLEGAL_SOFTWARE_STATE StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0007
	EFI_SW_EC_START_ERROR            StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x0009

	EFI_SW_PEI_CORE_EC_DXE_CORRUPT           StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x1000
	EFI_SW_PEI_CORE_EC_DXEIPL_NOT_FOUND      StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x1001
	EFI_SW_PEI_CORE_EC_MEMORY_NOT_INSTALLED  StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x1002
	EFI_SW_PEI_CORE_PC_ENTRY_POINT           StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x1000
	EFI_SW_PEI_CORE_PC_HANDOFF_TO_NEXT       StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x1001
	EFI_SW_PEI_CORE_PC_RETURN_TO_LAST        StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x1002
	EFI_SW_PEI_CORE_EC_PEIM_SECURITY_FAILURE StatusCodeValue = EFI_SOFTWARE_PEI_CORE | 0x1007
)

// StatusCode is the interface of the status code PPI.
type StatusCode interface {
	ReportStatusCode(ps *Services, t StatusCodeType, v StatusCodeValue, instance uint32, callerID *uefi.GUID, data []byte) error
}

// StatusCodeRecord represents a reported status code.
type StatusCodeRecord struct {
	Type     StatusCodeType
	Value    StatusCodeValue
	Instance uint32
	CallerID uefi.GUID
	Data     []byte
}

func (r *StatusCodeRecord) String() string {
	kind := "progress"

	switch r.Type & 0xff {
	case EFI_ERROR_CODE:
		kind = "error"
	case EFI_DEBUG_CODE:
		kind = "debug"
	}

	return fmt.Sprintf("%s %#08x caller:%s", kind, uint32(r.Value), r.CallerID)
}

// reportStatusCode forwards a status code to the status code PPI, when
// installed.
func (c *CoreInstance) reportStatusCode(t StatusCodeType, v StatusCodeValue, instance uint32, callerID *uefi.GUID, data []byte) error {
	r := StatusCodeRecord{
		Type:     t,
		Value:    v,
		Instance: instance,
		Data:     data,
	}

	if callerID != nil {
		r.CallerID = *callerID
	}

	if t&0xff == EFI_ERROR_CODE {
		c.Log.Info("status code", "code", r.String())
	} else {
		c.Log.V(1).Info("status code", "code", r.String())
	}

	d, err := c.Ppi.Locate(StatusCodePpiGuid, 0)

	if err != nil {
		return uefi.ErrNotAvailableYet
	}

	sc, ok := d.Interface.(StatusCode)

	if !ok {
		return fmt.Errorf("%w: invalid status code PPI", uefi.ErrUnsupported)
	}

	return sc.ReportStatusCode(c.Services, t, v, instance, callerID, data)
}

// report is a best effort status code report for the core own events.
func (c *CoreInstance) report(t StatusCodeType, v StatusCodeValue, callerID *uefi.GUID) {
	_ = c.reportStatusCode(t, v, 0, callerID, nil)
}

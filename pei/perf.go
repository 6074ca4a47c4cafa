// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pei

import (
	"time"

	"github.com/usbarmory/go-pei/uefi"
)

// PerfRecord represents a performance measurement.
type PerfRecord struct {
	// Name identifies the measured module
	Name uefi.GUID
	// Token identifies the measured activity
	Token string

	Start time.Time
	End   time.Time
}

// Duration returns the measured time, zero for open records.
func (r *PerfRecord) Duration() time.Duration {
	if r.End.IsZero() {
		return 0
	}

	return r.End.Sub(r.Start)
}

// Performance holds the performance records of a boot, it is shared across
// core instances.
type Performance struct {
	records []PerfRecord
}

func (p *Performance) start(name uefi.GUID, token string, now time.Time) int {
	p.records = append(p.records, PerfRecord{
		Name:  name,
		Token: token,
		Start: now,
	})

	return len(p.records) - 1
}

func (p *Performance) end(i int, now time.Time) {
	if i >= 0 && i < len(p.records) {
		p.records[i].End = now
	}
}

// Records returns a copy of the performance records, in start order.
func (p *Performance) Records() []PerfRecord {
	return append([]PerfRecord(nil), p.records...)
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcc

import (
	"fmt"
	"slices"

	"github.com/fido-device-onboard/go-fcc/status"
)

// Record is a diagnostic entry about one credential item.
type Record struct {
	// Name is the well-known name of the item.
	Name string

	// Code is the failure status of an error record and Success for a
	// warning.
	Code status.Code

	// Warning is set for records which did not fail verification.
	Warning bool

	Message string
}

func (r Record) String() string {
	if r.Warning {
		return fmt.Sprintf("warning: %s: %s", r.Name, r.Message)
	}
	return fmt.Sprintf("error: %s: %s", r.Name, r.Code)
}

// OutputInfo collects diagnostic records. A failure to record is reported
// to callers as status.OutputInfoError.
type OutputInfo interface {
	RecordError(name string, code status.Code) error
	RecordWarning(name, message string) error
	Reset()
	Records() []Record
}

// MemoryOutputInfo keeps diagnostic records in memory.
type MemoryOutputInfo struct {
	// Capacity bounds the number of records. Zero is unbounded.
	Capacity int

	records []Record
}

var _ OutputInfo = (*MemoryOutputInfo)(nil)

func (m *MemoryOutputInfo) add(r Record) error {
	if m.Capacity > 0 && len(m.records) >= m.Capacity {
		return fmt.Errorf("output info full (%d records)", m.Capacity)
	}
	m.records = append(m.records, r)
	return nil
}

// RecordError implements OutputInfo.
func (m *MemoryOutputInfo) RecordError(name string, code status.Code) error {
	return m.add(Record{Name: name, Code: code})
}

// RecordWarning implements OutputInfo.
func (m *MemoryOutputInfo) RecordWarning(name, message string) error {
	return m.add(Record{Name: name, Warning: true, Message: message})
}

// Reset implements OutputInfo.
func (m *MemoryOutputInfo) Reset() { m.records = nil }

// Records implements OutputInfo.
func (m *MemoryOutputInfo) Records() []Record { return slices.Clone(m.records) }

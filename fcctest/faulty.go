// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcctest

import (
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
)

// Op names a backend mutation or export for fault injection.
type Op string

// Faultable operations
const (
	OpGenerate Op = "generate"
	OpPublic   Op = "public"
	OpImport   Op = "import"
	OpDestroy  Op = "destroy"
)

// FailFunc returns the error an operation on the named item should fail
// with, or nil to let it proceed.
type FailFunc func(op Op, name string) error

// FaultyBackend wraps a key slot backend and fails operations chosen by
// Fail.
type FaultyBackend struct {
	keyslot.Backend
	Fail FailFunc
}

func (b *FaultyBackend) fail(op Op, name string) error {
	if b.Fail == nil {
		return nil
	}
	return b.Fail(op, name)
}

// Generate implements keyslot.Backend.
func (b *FaultyBackend) Generate(name string, scheme keyslot.Scheme, factory bool) error {
	if err := b.fail(OpGenerate, name); err != nil {
		return err
	}
	return b.Backend.Generate(name, scheme, factory)
}

// Public implements keyslot.Backend.
func (b *FaultyBackend) Public(name string) ([]byte, error) {
	if err := b.fail(OpPublic, name); err != nil {
		return nil, err
	}
	return b.Backend.Public(name)
}

// Import implements keyslot.Backend.
func (b *FaultyBackend) Import(name string, kind naming.Kind, raw []byte, factory bool) error {
	if err := b.fail(OpImport, name); err != nil {
		return err
	}
	return b.Backend.Import(name, kind, raw, factory)
}

// Destroy implements keyslot.Backend.
func (b *FaultyBackend) Destroy(name string) error {
	if err := b.fail(OpDestroy, name); err != nil {
		return err
	}
	return b.Backend.Destroy(name)
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package keyslot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// Slot is the persisted record of one key slot.
type Slot struct {
	Kind    naming.Kind `cbor:"1,keyasint"`
	Scheme  Scheme      `cbor:"2,keyasint"`
	Factory bool        `cbor:"3,keyasint,omitempty"`

	// Public is the raw public key.
	Public []byte `cbor:"4,keyasint"`

	// Private is backend specific private key material: a raw scalar for
	// software slots or a wrapped blob for hardware slots.
	Private []byte `cbor:"5,keyasint,omitempty"`

	// Extra holds any other backend specific data.
	Extra []byte `cbor:"6,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("keyslot: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("keyslot: CBOR decoder initialization failed: " + err.Error())
	}
}

// Table persists slot records in a secure store. Records are kept under
// reserved names, so they are removed by a store reset.
type Table struct {
	store  storage.Store
	prefix string
}

// NewTable returns a slot table whose records are named with prefix.
func NewTable(store storage.Store, prefix string) *Table {
	return &Table{store: store, prefix: prefix}
}

func (t *Table) key(name string) string { return naming.Reserved(t.prefix + name) }

// Get returns the slot bound to name.
func (t *Table) Get(name string) (*Slot, error) {
	data, err := t.store.Read(t.key(name))
	if err != nil {
		return nil, err
	}
	var slot Slot
	if err := decMode.Unmarshal(data, &slot); err != nil {
		return nil, status.Errorf(status.StorageError, "decoding slot %q: %w", name, err)
	}
	return &slot, nil
}

// Exists reports whether a slot is bound to name.
func (t *Table) Exists(name string) (bool, error) {
	switch _, err := t.store.Read(t.key(name)); status.Of(err) {
	case status.Success:
		return true, nil
	case status.ItemNotFound:
		return false, nil
	default:
		return false, err
	}
}

// Put binds a new slot to name. An existing slot is never replaced.
func (t *Table) Put(name string, slot *Slot) error {
	data, err := encMode.Marshal(slot)
	if err != nil {
		return fmt.Errorf("encoding slot %q: %w", name, err)
	}
	return t.store.Write(t.key(name), data, true)
}

// Delete removes the slot bound to name.
func (t *Table) Delete(name string) error {
	return t.store.Delete(t.key(name))
}

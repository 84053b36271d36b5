// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm

import (
	"crypto/ecdh"
	"log/slog"

	"github.com/google/go-tpm/tpm2"

	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// KeySlots is a key slot backend which keeps keys in a TPM.
//
// Generated keys are created under a storage root key in the owner
// hierarchy and only their wrapped blobs are persisted in the slot table.
// Imported keys cannot be wrapped without the TPM duplication protocol, so
// their material is kept in the slot table and loaded into the null
// hierarchy when opened. Handles are TPM transient object handles.
type KeySlots struct {
	TPM TPM

	table   *keyslot.Table
	srk     *tpm2.NamedHandle
	handles map[keyslot.Handle]struct{}
}

var _ keyslot.Backend = (*KeySlots)(nil)

// NewKeySlots returns a TPM backend persisting its slot table in store.
func NewKeySlots(t TPM, store storage.Store) *KeySlots {
	return &KeySlots{
		TPM:   t,
		table: keyslot.NewTable(store, "ksa.tpm."),
	}
}

// Init creates the storage root key.
func (k *KeySlots) Init() error {
	if k.srk != nil {
		return nil
	}
	resp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(srkTemplate),
	}.Execute(k.TPM)
	if err != nil {
		return status.Errorf(status.StorageError, "unable to create storage root key: %w", err)
	}
	k.srk = &tpm2.NamedHandle{
		Handle: resp.ObjectHandle,
		Name:   resp.Name,
	}
	k.handles = make(map[keyslot.Handle]struct{})
	return nil
}

// Finalize flushes the storage root key and all open handles.
func (k *KeySlots) Finalize() error {
	if k.srk == nil {
		return nil
	}
	var failed error
	for h := range k.handles {
		if err := flush(k.TPM, tpm2.TPMHandle(h)); err != nil {
			slog.Warn("tpm: flushing key handle", "handle", h, "error", err)
			failed = err
		}
	}
	if err := flush(k.TPM, k.srk.Handle); err != nil {
		failed = err
	}
	k.srk, k.handles = nil, nil
	if failed != nil {
		return status.Errorf(status.StorageError, "finalizing TPM key slots: %w", failed)
	}
	return nil
}

func flush(t TPM, h tpm2.TPMHandle) error {
	_, err := tpm2.FlushContext{FlushHandle: h}.Execute(t)
	return err
}

func (k *KeySlots) check() error {
	if k.srk == nil {
		return status.Errorf(status.NotInitialized, "TPM key slots")
	}
	return nil
}

// Exists implements keyslot.Backend.
func (k *KeySlots) Exists(name string) (bool, error) {
	if err := k.check(); err != nil {
		return false, err
	}
	return k.table.Exists(name)
}

// Import implements keyslot.Backend.
func (k *KeySlots) Import(name string, kind naming.Kind, raw []byte, factory bool) error {
	if err := k.check(); err != nil {
		return err
	}

	slot := &keyslot.Slot{Kind: kind, Scheme: keyslot.SchemeEC256, Factory: factory}
	switch kind {
	case naming.PrivateKey:
		key, err := ecdh.P256().NewPrivateKey(raw)
		if err != nil {
			return status.Errorf(status.InvalidParameter, "importing %q: %w", name, err)
		}
		slot.Private = key.Bytes()
		slot.Public = key.PublicKey().Bytes()

	case naming.PublicKey:
		if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
			return status.Errorf(status.InvalidParameter, "importing %q: %w", name, err)
		}
		slot.Public = raw

	default:
		return status.Errorf(status.InvalidParameter, "cannot import %s into a key slot", kind)
	}

	return k.table.Put(name, slot)
}

// Generate implements keyslot.Backend.
func (k *KeySlots) Generate(name string, scheme keyslot.Scheme, factory bool) error {
	if err := k.check(); err != nil {
		return err
	}
	if scheme != keyslot.SchemeEC256 {
		return status.Errorf(status.InvalidParameter, "unsupported scheme %s", scheme)
	}
	if ok, err := k.table.Exists(name); err != nil {
		return err
	} else if ok {
		return status.Errorf(status.ItemExists, "%q", name)
	}

	resp, err := tpm2.Create{
		ParentHandle: *k.srk,
		InPublic:     tpm2.New2B(generatedKeyTemplate()),
	}.Execute(k.TPM)
	if err != nil {
		return status.Errorf(status.StorageError, "unable to create key: %w", err)
	}
	pub, err := resp.OutPublic.Contents()
	if err != nil {
		return status.Errorf(status.StorageError, "unmarshaling public area: %w", err)
	}
	raw, err := rawPublic(pub)
	if err != nil {
		return status.Errorf(status.StorageError, "%w", err)
	}

	return k.table.Put(name, &keyslot.Slot{
		Kind:    naming.PrivateKey,
		Scheme:  scheme,
		Factory: factory,
		Public:  raw,
		Private: tpm2.Marshal(resp.OutPrivate),
		Extra:   tpm2.Marshal(resp.OutPublic),
	})
}

// Public implements keyslot.Backend.
func (k *KeySlots) Public(name string) ([]byte, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	slot, err := k.table.Get(name)
	if err != nil {
		return nil, err
	}
	return slot.Public, nil
}

// Destroy implements keyslot.Backend. Wrapped blobs are useless without
// their slot record, so nothing is evicted from the TPM.
func (k *KeySlots) Destroy(name string) error {
	if err := k.check(); err != nil {
		return err
	}
	return k.table.Delete(name)
}

// Open loads the key of a slot into the TPM.
func (k *KeySlots) Open(name string) (keyslot.Handle, error) {
	if err := k.check(); err != nil {
		return 0, err
	}
	slot, err := k.table.Get(name)
	if err != nil {
		return 0, err
	}

	var h tpm2.TPMHandle
	switch {
	case slot.Kind == naming.PrivateKey && len(slot.Extra) > 0:
		h, err = k.loadGenerated(slot)
	default:
		h, err = k.loadExternal(slot)
	}
	if err != nil {
		return 0, status.Errorf(status.StorageError, "loading %q: %w", name, err)
	}

	handle := keyslot.Handle(h)
	k.handles[handle] = struct{}{}
	return handle, nil
}

func (k *KeySlots) loadGenerated(slot *keyslot.Slot) (tpm2.TPMHandle, error) {
	priv, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](slot.Private)
	if err != nil {
		return 0, err
	}
	pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](slot.Extra)
	if err != nil {
		return 0, err
	}
	resp, err := tpm2.Load{
		ParentHandle: *k.srk,
		InPrivate:    *priv,
		InPublic:     *pub,
	}.Execute(k.TPM)
	if err != nil {
		return 0, err
	}
	return resp.ObjectHandle, nil
}

func (k *KeySlots) loadExternal(slot *keyslot.Slot) (tpm2.TPMHandle, error) {
	template, err := externalKeyTemplate(slot.Public)
	if err != nil {
		return 0, err
	}
	load := tpm2.LoadExternal{
		InPublic:  tpm2.New2B(template),
		Hierarchy: tpm2.TPMRHNull,
	}
	if slot.Kind == naming.PrivateKey {
		load.InPrivate = sensitive(slot.Private)
	}
	resp, err := load.Execute(k.TPM)
	if err != nil {
		return 0, err
	}
	return resp.ObjectHandle, nil
}

// Close flushes a loaded key.
func (k *KeySlots) Close(h keyslot.Handle) error {
	if err := k.check(); err != nil {
		return err
	}
	if _, ok := k.handles[h]; !ok {
		return status.Errorf(status.InvalidParameter, "unknown key handle %#x", uint32(h))
	}
	if err := flush(k.TPM, tpm2.TPMHandle(h)); err != nil {
		return status.Errorf(status.StorageError, "flushing key handle %#x: %w", uint32(h), err)
	}
	delete(k.handles, h)
	return nil
}

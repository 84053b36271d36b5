// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package keyslot

import (
	"crypto/ecdh"
	"io"
	"log/slog"

	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// Software is a key slot backend which keeps key material in a secure
// store. It is meant for devices without a secure element, where the store
// itself is encrypted.
type Software struct {
	table *Table
	rand  io.Reader

	initialized bool
	handles     map[Handle]string
	next        Handle
}

var _ Backend = (*Software)(nil)

// NewSoftware returns a software backend persisting slots in store and
// generating keys with entropy from rand.
func NewSoftware(store storage.Store, rand io.Reader) *Software {
	return &Software{
		table: NewTable(store, "ksa.sw."),
		rand:  rand,
	}
}

// Init implements Backend.
func (s *Software) Init() error {
	if s.initialized {
		return nil
	}
	s.handles = make(map[Handle]string)
	s.initialized = true
	return nil
}

// Finalize implements Backend.
func (s *Software) Finalize() error {
	if !s.initialized {
		return nil
	}
	if len(s.handles) > 0 {
		slog.Debug("key slots finalized with open handles", "count", len(s.handles))
	}
	s.handles = nil
	s.initialized = false
	return nil
}

func (s *Software) check() error {
	if !s.initialized {
		return status.Errorf(status.NotInitialized, "software key slots")
	}
	return nil
}

// Exists implements Backend.
func (s *Software) Exists(name string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.table.Exists(name)
}

// Import implements Backend.
func (s *Software) Import(name string, kind naming.Kind, raw []byte, factory bool) error {
	if err := s.check(); err != nil {
		return err
	}

	slot := &Slot{Kind: kind, Scheme: SchemeEC256, Factory: factory}
	switch kind {
	case naming.PrivateKey:
		key, err := ecdh.P256().NewPrivateKey(raw)
		if err != nil {
			return status.Errorf(status.InvalidParameter, "importing %q: %w", name, err)
		}
		slot.Private = key.Bytes()
		slot.Public = key.PublicKey().Bytes()

	case naming.PublicKey:
		key, err := ecdh.P256().NewPublicKey(raw)
		if err != nil {
			return status.Errorf(status.InvalidParameter, "importing %q: %w", name, err)
		}
		slot.Public = key.Bytes()

	default:
		return status.Errorf(status.InvalidParameter, "cannot import %s into a key slot", kind)
	}

	return s.table.Put(name, slot)
}

// Generate implements Backend.
func (s *Software) Generate(name string, scheme Scheme, factory bool) error {
	if err := s.check(); err != nil {
		return err
	}
	if scheme != SchemeEC256 {
		return status.Errorf(status.InvalidParameter, "unsupported scheme %s", scheme)
	}
	if ok, err := s.table.Exists(name); err != nil {
		return err
	} else if ok {
		return status.Errorf(status.ItemExists, "%q", name)
	}

	key, err := ecdh.P256().GenerateKey(s.rand)
	if err != nil {
		return status.Errorf(status.EntropyError, "generating key: %w", err)
	}
	return s.table.Put(name, &Slot{
		Kind:    naming.PrivateKey,
		Scheme:  scheme,
		Factory: factory,
		Public:  key.PublicKey().Bytes(),
		Private: key.Bytes(),
	})
}

// Public implements Backend.
func (s *Software) Public(name string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	slot, err := s.table.Get(name)
	if err != nil {
		return nil, err
	}
	return slot.Public, nil
}

// Destroy implements Backend.
func (s *Software) Destroy(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.table.Delete(name)
}

// Open implements Backend.
func (s *Software) Open(name string) (Handle, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if _, err := s.table.Get(name); err != nil {
		return 0, err
	}
	s.next++
	if s.next == 0 {
		s.next++
	}
	s.handles[s.next] = name
	return s.next, nil
}

// Close implements Backend.
func (s *Software) Close(h Handle) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.handles[h]; !ok {
		return status.Errorf(status.InvalidParameter, "unknown key handle %d", h)
	}
	delete(s.handles, h)
	return nil
}

// Name returns the slot name an open handle refers to.
func (s *Software) Name(h Handle) (string, bool) {
	name, ok := s.handles[h]
	return name, ok
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package keys

import (
	"github.com/fido-device-onboard/go-fcc/keycodec"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
)

// SlotStorage stores keys in a secure key slot backend. Keys are converted
// to the backend's raw encoding on the way in and public keys back to DER
// on the way out.
//
// Handles are issued by SlotStorage and mapped to backend handles, so a
// handle released by Finalize is never confused with one opened later.
type SlotStorage struct {
	backend     keyslot.Backend
	initialized bool

	handles map[Handle]keyslot.Handle
	next    Handle
}

var _ Storage = (*SlotStorage)(nil)

// NewSlotStorage returns key storage backed by b.
func NewSlotStorage(b keyslot.Backend) *SlotStorage {
	return &SlotStorage{backend: b}
}

// Init implements Storage.
func (s *SlotStorage) Init() error {
	if s.initialized {
		return nil
	}
	if err := s.backend.Init(); err != nil {
		return storageErr(err)
	}
	s.initialized = true
	return nil
}

// Finalize implements Storage.
func (s *SlotStorage) Finalize() error {
	if !s.initialized {
		return nil
	}
	s.initialized = false
	s.handles = nil
	return storageErr(s.backend.Finalize())
}

// Store implements Storage.
func (s *SlotStorage) Store(name string, kind naming.Kind, origin naming.Origin, data []byte, isFactory bool) error {
	key, err := checkStore(name, kind, origin, data, isFactory)
	if err != nil {
		return err
	}

	var raw []byte
	if kind == naming.PrivateKey {
		raw, err = keycodec.PrivateDERToRaw(data)
	} else {
		raw, err = keycodec.PublicDERToRaw(data)
	}
	if err != nil {
		return err
	}

	if err := s.Init(); err != nil {
		return err
	}
	if ok, err := s.backend.Exists(key); err != nil {
		return storageErr(err)
	} else if ok {
		return status.Errorf(status.ItemExists, "%q", key)
	}
	return storageErr(s.backend.Import(key, kind, raw, isFactory))
}

// Get implements Storage.
func (s *SlotStorage) Get(name string, kind naming.Kind, origin naming.Origin) ([]byte, error) {
	if kind != naming.PublicKey {
		return nil, status.Errorf(status.InvalidParameter, "only public keys can be fetched")
	}
	key, err := keyName(name, kind, origin)
	if err != nil {
		return nil, err
	}
	return s.public(key)
}

func (s *SlotStorage) public(key string) ([]byte, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	raw, err := s.backend.Public(key)
	if err != nil {
		return nil, storageErr(err)
	}
	return keycodec.PublicRawToDER(raw)
}

// Size implements Storage.
func (s *SlotStorage) Size(name string, kind naming.Kind, origin naming.Origin) (int, error) {
	return sizeOf(s.Get(name, kind, origin))
}

// Delete implements Storage.
func (s *SlotStorage) Delete(name string, kind naming.Kind, origin naming.Origin) error {
	key, err := keyName(name, kind, origin)
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	return storageErr(s.backend.Destroy(key))
}

// GenerateAndStore implements Storage.
func (s *SlotStorage) GenerateAndStore(scheme keyslot.Scheme, privName, pubName string, origin naming.Origin, isFactory bool) error {
	privKey, pubKey, err := checkGenerate(privName, pubName, origin, isFactory)
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	for _, key := range []string{privKey, pubKey} {
		if key == "" {
			continue
		}
		if ok, err := s.backend.Exists(key); err != nil {
			return storageErr(err)
		} else if ok {
			return status.Errorf(status.ItemExists, "%q", key)
		}
	}

	var t tx
	defer t.rollback()

	if err := s.backend.Generate(privKey, scheme, isFactory); err != nil {
		return storageErr(err)
	}
	t.onRollback("destroy "+privKey, func() error { return s.backend.Destroy(privKey) })

	if pubKey != "" {
		raw, err := s.backend.Public(privKey)
		if err != nil {
			return storageErr(err)
		}
		if err := s.backend.Import(pubKey, naming.PublicKey, raw, isFactory); err != nil {
			return storageErr(err)
		}
	}

	t.commit()
	return nil
}

// Handle implements Storage.
func (s *SlotStorage) Handle(name string, kind naming.Kind, origin naming.Origin) (Handle, error) {
	key, err := keyName(name, kind, origin)
	if err != nil {
		return 0, err
	}
	if err := s.Init(); err != nil {
		return 0, err
	}
	if ok, err := s.backend.Exists(key); err != nil {
		return 0, storageErr(err)
	} else if !ok {
		return 0, status.Errorf(status.ItemNotFound, "%q", key)
	}
	bh, err := s.backend.Open(key)
	if err != nil {
		return 0, storageErr(err)
	}
	if s.handles == nil {
		s.handles = make(map[Handle]keyslot.Handle)
	}
	s.next++
	if s.next == 0 {
		s.next++
	}
	s.handles[s.next] = bh
	return s.next, nil
}

// CloseHandle implements Storage.
func (s *SlotStorage) CloseHandle(h *Handle) error {
	if h == nil {
		return status.Errorf(status.InvalidParameter, "nil key handle")
	}
	if *h == 0 {
		return nil
	}
	bh, ok := s.handles[*h]
	switch {
	case ok:
		if err := s.backend.Close(bh); err != nil {
			return storageErr(err)
		}
		delete(s.handles, *h)
	case *h > s.next:
		return status.Errorf(status.InvalidParameter, "unknown key handle %d", *h)
	default:
		// Released when the backend was finalized
	}
	*h = 0
	return nil
}

// Exists implements Storage.
func (s *SlotStorage) Exists(name string, kind naming.Kind, origin naming.Origin) (bool, error) {
	key, err := keyName(name, kind, origin)
	if err != nil {
		return false, err
	}
	if err := s.Init(); err != nil {
		return false, err
	}
	ok, err := s.backend.Exists(key)
	return ok, storageErr(err)
}

// PublicOf implements Storage.
func (s *SlotStorage) PublicOf(privName string, origin naming.Origin) ([]byte, error) {
	key, err := naming.Build(naming.PrivateKey, origin, privName)
	if err != nil {
		return nil, err
	}
	return s.public(key)
}

// Copies the key into a scratch buffer sized for the largest supported key
// so an oversized value is caught rather than returned. der has already
// been read in full; backends bound their records, not this check.
func sizeOf(der []byte, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	var scratch [keycodec.MaxPublicKeySize]byte
	if len(der) > len(scratch) {
		return 0, status.Errorf(status.StorageError, "stored key is %d bytes, max is %d", len(der), len(scratch))
	}
	return copy(scratch[:], der), nil
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcc

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/fido-device-onboard/go-fcc/keycodec"
	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/pal"
	"github.com/fido-device-onboard/go-fcc/status"
)

// Session is an open provisioning session, obtained from Provisioner.Init.
// It is invalid once the Provisioner is finalized, after which every method
// returns status.NotInitialized.
type Session struct {
	p        *Provisioner
	id       uuid.UUID
	finished bool
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) check() error {
	if s == nil || s.finished {
		return status.Errorf(status.NotInitialized, "session finished")
	}
	return nil
}

// SetEntropy injects a device entropy seed of exactly pal.EntropySize bytes.
// Entropy can only be injected once.
func (s *Session) SetEntropy(buf []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(buf) != pal.EntropySize {
		return status.Errorf(status.InvalidParameter, "entropy must be %d bytes, got %d", pal.EntropySize, len(buf))
	}
	if err := s.p.platform.InjectEntropy(buf); err != nil {
		switch status.Of(err) {
		case status.EntropyError, status.InvalidParameter:
			return err
		default:
			return status.Errorf(status.EntropyError, "injecting entropy: %w", err)
		}
	}
	s.p.log.Debug("entropy injected", "session", s.id)
	return nil
}

// SetRootOfTrust sets the device root of trust, exactly pal.RoTSize bytes.
// An existing root of trust is never replaced.
func (s *Session) SetRootOfTrust(buf []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(buf) != pal.RoTSize {
		return status.Errorf(status.InvalidParameter, "root of trust must be %d bytes, got %d", pal.RoTSize, len(buf))
	}
	if err := s.p.platform.SetRoT(buf); err != nil {
		switch status.Of(err) {
		case status.ItemExists:
			return status.Errorf(status.RoTError, "root of trust already set: %w", err)
		case status.InvalidParameter:
			return err
		default:
			return status.Errorf(status.RoTError, "setting root of trust: %w", err)
		}
	}
	s.p.log.Debug("root of trust set", "session", s.id)
	return nil
}

// SetTime sets the strong time in seconds since the Unix epoch.
func (s *Session) SetTime(epoch uint64) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.p.platform.SetTime(epoch); err != nil {
		return status.Errorf(status.Error, "setting strong time: %w", err)
	}
	return nil
}

// IsFactoryDisabled reports whether factory provisioning was completed with
// SetFactoryDisabled.
func (s *Session) IsFactoryDisabled() (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	buf, err := s.p.store.Read(factoryDoneName)
	switch status.Of(err) {
	case status.Success:
	case status.ItemNotFound:
		return false, nil
	default:
		return false, storageErr(err)
	}
	if len(buf) != 8 {
		return false, status.Errorf(status.FactoryDisabledError, "factory flag is %d bytes", len(buf))
	}
	switch flag := int64(binary.LittleEndian.Uint64(buf)); flag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, status.Errorf(status.FactoryDisabledError, "invalid factory flag %d", flag)
	}
}

// SetFactoryDisabled marks factory provisioning complete. The flag is
// written once and is only cleared by FullReset.
func (s *Session) SetFactoryDisabled() error {
	if err := s.check(); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	switch err := s.p.store.Write(factoryDoneName, buf[:], true); status.Of(err) {
	case status.Success:
	case status.ItemExists:
		return status.Errorf(status.FactoryDisabledError, "factory already disabled")
	default:
		return storageErr(err)
	}

	got, err := s.p.store.Read(factoryDoneName)
	if err != nil {
		return status.Errorf(status.FactoryDisabledError, "confirming factory flag: %w", err)
	}
	if len(got) != len(buf) {
		return status.Errorf(status.FactoryDisabledError, "factory flag read back %d bytes", len(got))
	}
	s.p.log.Info("factory provisioning disabled", "session", s.id)
	return nil
}

// BindTrustAnchor binds the bootstrap server CA certificate as the trusted
// time server. It does nothing unless the device uses bootstrap mode. A
// binding is written once; an existing one is status.CAError.
func (s *Session) BindTrustAnchor() error {
	if err := s.check(); err != nil {
		return err
	}
	err := s.bindTrustAnchor()
	if err == nil {
		return nil
	}
	if rerr := s.p.out.RecordError(BootstrapServerCACertName, status.Of(err)); rerr != nil {
		return status.Errorf(status.OutputInfoError, "recording %s: %w", status.Of(err), rerr)
	}
	return err
}

func (s *Session) bindTrustAnchor() error {
	bootstrap, err := s.bootstrapMode()
	if err != nil || !bootstrap {
		return err
	}

	cert, err := s.read(BootstrapServerCACertName, naming.Certificate)
	if err != nil {
		return err
	}
	id, err := keycodec.CertificateKeyID(cert)
	if err != nil {
		return err
	}
	switch err := s.p.store.Write(trustedTimeSrvIDName, id, true); status.Of(err) {
	case status.Success:
		s.p.log.Info("trust anchor bound", "session", s.id, "key id", fmt.Sprintf("%x", id))
		return nil
	case status.ItemExists:
		return status.Errorf(status.CAError, "trust anchor already bound")
	default:
		return storageErr(err)
	}
}

// bootstrapMode reads the UseBootstrap item, a 32-bit little endian 0 or 1.
func (s *Session) bootstrapMode() (bool, error) {
	v, err := s.readUint32(UseBootstrapName)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, status.Errorf(status.InvalidValue, "%s is %d", UseBootstrapName, v)
	}
}

func (s *Session) readUint32(name string) (uint32, error) {
	buf, err := s.read(name, naming.Config)
	if err != nil {
		return 0, err
	}
	if len(buf) != 4 {
		return 0, status.Errorf(status.InvalidValue, "%s is %d bytes, expected 4", name, len(buf))
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// read returns a factory certificate or configuration value.
func (s *Session) read(name string, kind naming.Kind) ([]byte, error) {
	key, err := naming.Build(kind, naming.Factory, name)
	if err != nil {
		return nil, err
	}
	buf, err := s.p.store.Read(key)
	return buf, storageErr(err)
}

// Diagnostics returns the records collected by the last verification or
// trust anchor binding.
func (s *Session) Diagnostics() ([]Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.p.out.Records(), nil
}

// FullReset clears every provisioned item and internal record, including the
// factory flag. The steps are, in order: finalize key storage, reset the
// secure store and reset the hardware security lifecycle if there is one.
// The first failure aborts the reset with status.StorageError.
//
// The reset is not transactional. A lifecycle failure is reported although
// the secure store was already cleared.
//
// The session stays open and key storage is initialized again on next use.
func (s *Session) FullReset() error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.p.keys.Finalize(); err != nil {
		return status.Errorf(status.StorageError, "finalizing key storage: %w", err)
	}
	if err := s.p.store.Reset(); err != nil {
		return status.Errorf(status.StorageError, "resetting secure store: %w", err)
	}
	if s.p.lifecycle != nil {
		if err := s.p.lifecycle.Reset(); err != nil {
			s.p.log.Error("security lifecycle reset failed after secure store was cleared", "session", s.id, "error", err)
			return status.Errorf(status.StorageError, "resetting security lifecycle: %w", err)
		}
	}
	s.p.log.Info("device storage reset", "session", s.id)
	return nil
}

// StoreItem provisions a factory credential. Keys are stored in key storage,
// certificates and configuration values in the secure store. Items are
// write once: an existing item is status.ItemExists.
func (s *Session) StoreItem(name string, kind naming.Kind, data []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if kind.IsKey() {
		return s.p.keys.Store(name, kind, naming.Factory, data, true)
	}
	if len(data) == 0 {
		return status.Errorf(status.InvalidParameter, "empty value for %q", name)
	}
	key, err := naming.Build(kind, naming.Factory, name)
	if err != nil {
		return err
	}
	return storageErr(s.p.store.Write(key, data, true))
}

// Item returns a factory credential. Private keys cannot be read.
func (s *Session) Item(name string, kind naming.Kind) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if kind.IsKey() {
		return s.p.keys.Get(name, kind, naming.Factory)
	}
	return s.read(name, kind)
}

// DeleteItem removes a factory credential.
func (s *Session) DeleteItem(name string, kind naming.Kind) error {
	if err := s.check(); err != nil {
		return err
	}
	if kind.IsKey() {
		return s.p.keys.Delete(name, kind, naming.Factory)
	}
	key, err := naming.Build(kind, naming.Factory, name)
	if err != nil {
		return err
	}
	return storageErr(s.p.store.Delete(key))
}

// Keys returns the key storage, for generating keys and provisioning user
// keys. Like every other session method, it fails with
// status.NotInitialized once the session is finished, except that closing
// a handle always works.
func (s *Session) Keys() keys.Storage { return sessionKeys{s} }

// storageErr maps an error without a status to StorageError.
func storageErr(err error) error {
	if status.Of(err) == status.Error {
		return status.Wrap(status.StorageError, err)
	}
	return err
}

// sessionKeys gates key storage on the session being open.
type sessionKeys struct{ s *Session }

var _ keys.Storage = sessionKeys{}

func (k sessionKeys) Init() error {
	if err := k.s.check(); err != nil {
		return err
	}
	return k.s.p.keys.Init()
}

func (k sessionKeys) Finalize() error {
	if err := k.s.check(); err != nil {
		return err
	}
	return k.s.p.keys.Finalize()
}

func (k sessionKeys) Store(name string, kind naming.Kind, origin naming.Origin, data []byte, isFactory bool) error {
	if err := k.s.check(); err != nil {
		return err
	}
	return k.s.p.keys.Store(name, kind, origin, data, isFactory)
}

func (k sessionKeys) Get(name string, kind naming.Kind, origin naming.Origin) ([]byte, error) {
	if err := k.s.check(); err != nil {
		return nil, err
	}
	return k.s.p.keys.Get(name, kind, origin)
}

func (k sessionKeys) Size(name string, kind naming.Kind, origin naming.Origin) (int, error) {
	if err := k.s.check(); err != nil {
		return 0, err
	}
	return k.s.p.keys.Size(name, kind, origin)
}

func (k sessionKeys) Delete(name string, kind naming.Kind, origin naming.Origin) error {
	if err := k.s.check(); err != nil {
		return err
	}
	return k.s.p.keys.Delete(name, kind, origin)
}

func (k sessionKeys) GenerateAndStore(scheme keyslot.Scheme, privName, pubName string, origin naming.Origin, isFactory bool) error {
	if err := k.s.check(); err != nil {
		return err
	}
	return k.s.p.keys.GenerateAndStore(scheme, privName, pubName, origin, isFactory)
}

func (k sessionKeys) Handle(name string, kind naming.Kind, origin naming.Origin) (keys.Handle, error) {
	if err := k.s.check(); err != nil {
		return 0, err
	}
	return k.s.p.keys.Handle(name, kind, origin)
}

// CloseHandle is not gated: finalizing key storage releases every handle,
// and closing a released handle only zeroes it.
func (k sessionKeys) CloseHandle(h *keys.Handle) error {
	return k.s.p.keys.CloseHandle(h)
}

func (k sessionKeys) Exists(name string, kind naming.Kind, origin naming.Origin) (bool, error) {
	if err := k.s.check(); err != nil {
		return false, err
	}
	return k.s.p.keys.Exists(name, kind, origin)
}

func (k sessionKeys) PublicOf(privName string, origin naming.Origin) ([]byte, error) {
	if err := k.s.check(); err != nil {
		return nil, err
	}
	return k.s.p.keys.PublicOf(privName, origin)
}

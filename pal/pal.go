// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package pal implements the platform services the configurator depends on:
// secure store initialization, entropy injection, root of trust and strong
// time.
//
// Entropy, root of trust and strong time are persisted as reserved items in
// the secure store, so a full reset clears them. A root of trust may instead
// be kept in a dedicated store such as TPM NV memory.
package pal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// Sizes of injected secrets
const (
	EntropySize = 48
	RoTSize     = 16
)

var (
	entropyName = naming.Reserved("entropy")
	rotName     = naming.Reserved("rot")
	timeName    = naming.Reserved("time")
)

// RootOfTrustStore holds the device root of trust outside of the secure
// store. Read reports an unset root of trust with status.ItemNotFound and
// Write reports an existing one with status.ItemExists.
type RootOfTrustStore interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// Platform provides platform services backed by a secure store.
type Platform struct {
	// Store persists platform records. Required.
	Store storage.Store

	// RootOfTrust optionally holds the root of trust instead of Store.
	RootOfTrust RootOfTrustStore

	// HasTRNG is set if the device has a true random number generator, in
	// which case entropy is always considered seeded and injected entropy
	// is only mixed into Reader.
	HasTRNG bool

	initialized bool
}

// Init validates the secure store. Errors opening or validating the store
// wrap storage.ErrInit.
func (p *Platform) Init() error {
	if p.Store == nil {
		return fmt.Errorf("%w: no secure store", storage.ErrInit)
	}
	if checker, ok := p.Store.(storage.Checker); ok {
		if err := checker.Check(); err != nil {
			if !errors.Is(err, storage.ErrInit) {
				err = fmt.Errorf("%w: %w", storage.ErrInit, err)
			}
			return err
		}
	}
	p.initialized = true
	slog.Debug("platform initialized", "trng", p.HasTRNG, "external rot", p.RootOfTrust != nil)
	return nil
}

// Destroy releases the platform. Persisted records are kept.
func (p *Platform) Destroy() error {
	p.initialized = false
	return nil
}

func (p *Platform) check() error {
	if !p.initialized {
		return status.Errorf(status.NotInitialized, "platform")
	}
	return nil
}

// InjectEntropy persists a device entropy seed. Entropy can be injected
// once; a second injection is status.EntropyError.
func (p *Platform) InjectEntropy(buf []byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if len(buf) != EntropySize {
		return status.Errorf(status.InvalidParameter, "entropy must be %d bytes, got %d", EntropySize, len(buf))
	}
	switch err := p.Store.Write(entropyName, buf, true); status.Of(err) {
	case status.Success:
		return nil
	case status.ItemExists:
		return status.Errorf(status.EntropyError, "entropy already injected")
	default:
		return status.Wrap(status.EntropyError, err)
	}
}

// EntropySeeded reports whether random numbers can be generated, either
// from a TRNG or from injected entropy.
func (p *Platform) EntropySeeded() (bool, error) {
	if err := p.check(); err != nil {
		return false, err
	}
	if p.HasTRNG {
		return true, nil
	}
	switch _, err := p.Store.Read(entropyName); status.Of(err) {
	case status.Success:
		return true, nil
	case status.ItemNotFound:
		return false, nil
	default:
		return false, err
	}
}

// SetRoT persists the device root of trust. An existing root of trust is
// never replaced: status.ItemExists is returned.
func (p *Platform) SetRoT(buf []byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if len(buf) != RoTSize {
		return status.Errorf(status.InvalidParameter, "root of trust must be %d bytes, got %d", RoTSize, len(buf))
	}
	if p.RootOfTrust != nil {
		return p.RootOfTrust.Write(buf)
	}
	return p.Store.Write(rotName, buf, true)
}

// RoT returns the device root of trust.
func (p *Platform) RoT() ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.RootOfTrust != nil {
		return p.RootOfTrust.Read()
	}
	return p.Store.Read(rotName)
}

// SetTime persists the strong time as seconds since the Unix epoch. Unlike
// the root of trust, strong time may be updated.
func (p *Platform) SetTime(epoch uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	return p.Store.Write(timeName, buf[:], false)
}

// Time returns the strong time in seconds since the Unix epoch or zero if it
// was never set.
func (p *Platform) Time() (uint64, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	buf, err := p.Store.Read(timeName)
	switch status.Of(err) {
	case status.Success:
	case status.ItemNotFound:
		return 0, nil
	default:
		return 0, err
	}
	if len(buf) != 8 {
		return 0, status.Errorf(status.StorageError, "strong time record is %d bytes", len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}

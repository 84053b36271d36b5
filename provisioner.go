// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcc

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// Platform provides entropy, root of trust and strong time, and owns the
// initialization of the secure store. It is implemented by *pal.Platform.
type Platform interface {
	// Init prepares the platform. An error wrapping storage.ErrInit
	// reports a corrupt or incompatible secure store.
	Init() error
	Destroy() error

	InjectEntropy(buf []byte) error
	EntropySeeded() (bool, error)

	// SetRoT reports an existing root of trust with status.ItemExists.
	SetRoT(buf []byte) error

	SetTime(epoch uint64) error
	// Time returns zero if strong time was never set.
	Time() (uint64, error)
}

// Lifecycle is the security lifecycle of a hardware security module. Reset
// returns it to its empty state.
type Lifecycle interface {
	Reset() error
}

// Config holds the collaborators of a Provisioner.
type Config struct {
	// Store holds certificates, configuration values and internal
	// records. Required.
	Store storage.Store

	// Keys holds private and public keys. Required.
	Keys keys.Storage

	// Platform is required.
	Platform Platform

	// Lifecycle, if set, is reset as the last step of a full reset.
	Lifecycle Lifecycle

	// OutputInfo collects diagnostics. Defaults to an unbounded
	// MemoryOutputInfo.
	OutputInfo OutputInfo

	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Provisioner drives the configurator lifecycle: Uninitialized, then
// Initialized between a successful Init and Finalize.
type Provisioner struct {
	store     storage.Store
	keys      keys.Storage
	platform  Platform
	lifecycle Lifecycle
	out       OutputInfo
	log       *slog.Logger

	session  *Session
	finished bool
}

// New returns an uninitialized Provisioner.
func New(conf Config) (*Provisioner, error) {
	switch {
	case conf.Store == nil:
		return nil, status.Errorf(status.InvalidParameter, "missing secure store")
	case conf.Keys == nil:
		return nil, status.Errorf(status.InvalidParameter, "missing key storage")
	case conf.Platform == nil:
		return nil, status.Errorf(status.InvalidParameter, "missing platform")
	}
	out := conf.OutputInfo
	if out == nil {
		out = new(MemoryOutputInfo)
	}
	log := conf.Log
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{
		store:     conf.Store,
		keys:      conf.Keys,
		platform:  conf.Platform,
		lifecycle: conf.Lifecycle,
		out:       out,
		log:       log,
		finished:  true,
	}, nil
}

// Init initializes the platform and opens a session. If a session is already
// open, it is returned.
func (p *Provisioner) Init() (*Session, error) {
	if p.session != nil {
		return p.session, nil
	}

	if err := p.platform.Init(); err != nil {
		if errors.Is(err, storage.ErrInit) {
			return nil, status.Errorf(status.StorageError, "initializing secure storage: %w", err)
		}
		return nil, status.Errorf(status.Error, "initializing platform: %w", err)
	}
	p.out.Reset()

	p.session = &Session{p: p, id: uuid.New()}
	p.finished = false
	p.log.Info("provisioning session started", "session", p.session.id)
	return p.session, nil
}

// Finalize closes the session and releases the key storage and platform.
// Every step is attempted. A key storage failure is reported as status.Error
// after the remaining steps have run.
func (p *Provisioner) Finalize() error {
	if p.session == nil {
		return status.Errorf(status.NotInitialized, "finalize")
	}
	id := p.session.id

	var keysErr error
	if err := p.keys.Finalize(); err != nil {
		p.log.Error("finalizing key storage", "session", id, "error", err)
		keysErr = status.Errorf(status.Error, "finalizing key storage: %w", err)
	}

	p.out.Reset()

	if err := p.platform.Destroy(); err != nil {
		p.log.Warn("destroying platform", "session", id, "error", err)
	}

	p.session.finished = true
	p.session = nil
	p.finished = true
	p.log.Info("provisioning session finished", "session", id)
	return keysErr
}

// IsInitialized reports whether a session is open.
func (p *Provisioner) IsInitialized() bool { return p.session != nil }

// IsSessionFinished reports whether no session has been started since the
// last Finalize. It is true for a new Provisioner.
func (p *Provisioner) IsSessionFinished() bool { return p.finished }

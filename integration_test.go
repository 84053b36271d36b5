// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcc_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-tpm/tpm2/transport/simulator"

	"github.com/fido-device-onboard/go-fcc"
	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/pal"
	"github.com/fido-device-onboard/go-fcc/sqlite"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/tpm"
)

// Provisions and verifies a device whose keys live in a TPM and whose other
// items live in an encrypted SQLite store, then wipes it.
func TestTPMDevice(t *testing.T) {
	fcctest.SetDefaultLogger(t)

	sim, err := simulator.OpenSimulator()
	if err != nil {
		t.Fatalf("error opening TPM simulator: %v", err)
	}
	defer func() {
		if err := sim.Close(); err != nil {
			t.Error(err)
		}
	}()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "fcc.db"), "test_password")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	platform := &pal.Platform{Store: db, RootOfTrust: &tpm.RootOfTrust{TPM: sim}}
	p, err := fcc.New(fcc.Config{
		Store:     db,
		Keys:      keys.NewSlotStorage(tpm.NewKeySlots(sim, db)),
		Platform:  platform,
		Lifecycle: &tpm.Lifecycle{TPM: sim},
		Log:       fcctest.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.Init()
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetEntropy(bytes.Repeat([]byte{0x33}, pal.EntropySize)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRootOfTrust(bytes.Repeat([]byte{0x44}, pal.RoTSize)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTime(uint64(now.Unix())); err != nil {
		t.Fatal(err)
	}
	dev := newDevice(t, true)
	fcctest.Provision(t, s, dev.Items())

	if err := s.Verify(); err != nil {
		t.Fatalf("verify: %v (diagnostics %v)", err, diagnostics(t, s))
	}
	if err := s.BindTrustAnchor(); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFactoryDisabled(); err != nil {
		t.Fatal(err)
	}

	// Keys generated in the TPM can be opened
	if err := s.Keys().GenerateAndStore(0, "x", "", naming.User, false); status.Of(err) != status.InvalidParameter {
		t.Fatalf("expected unsupported scheme to be rejected, got %v", err)
	}
	h, err := s.Keys().Handle(fcc.BootstrapDevicePrivateKeyName, naming.PrivateKey, naming.Factory)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Keys().CloseHandle(&h); err != nil {
		t.Fatal(err)
	}

	if err := s.FullReset(); err != nil {
		t.Fatal(err)
	}
	if disabled, err := s.IsFactoryDisabled(); err != nil || disabled {
		t.Fatalf("expected factory flag to be cleared: %t, %v", disabled, err)
	}
	if _, err := platform.RoT(); status.Of(err) != status.ItemNotFound {
		t.Fatalf("expected TPM root of trust to be cleared, got %v", err)
	}
	if err := s.Verify(); status.Of(err) != status.EntropyError {
		t.Fatalf("expected a wiped device to fail verification, got %v", err)
	}

	if err := p.Finalize(); err != nil {
		t.Fatal(err)
	}
}

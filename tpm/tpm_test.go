// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm_test

import (
	"testing"

	"github.com/google/go-tpm/tpm2/transport/simulator"

	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/internal/memory"
	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/tpm"
)

func openSimulator(t *testing.T) tpm.Closer {
	t.Helper()
	sim, err := simulator.OpenSimulator()
	if err != nil {
		t.Fatalf("error opening TPM simulator: %v", err)
	}
	t.Cleanup(func() {
		if err := sim.Close(); err != nil {
			t.Error(err)
		}
	})
	return sim
}

func TestKeySlots(t *testing.T) {
	fcctest.RunBackendTestSuite(t, func(t *testing.T) keyslot.Backend {
		return tpm.NewKeySlots(openSimulator(t), memory.NewStore())
	})
}

func TestKeyStorage(t *testing.T) {
	fcctest.RunKeyStorageTestSuite(t, fcctest.KeyStorageConfig{
		New: func(t *testing.T, fail fcctest.FailFunc) keys.Storage {
			slots := tpm.NewKeySlots(openSimulator(t), memory.NewStore())
			s := keys.NewSlotStorage(&fcctest.FaultyBackend{Backend: slots, Fail: fail})
			t.Cleanup(func() { _ = s.Finalize() })
			return s
		},
		ExportFaults: true,
	})
}

func TestOpenSimulator(t *testing.T) {
	sim, err := tpm.Open(tpm.SimulatorPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := sim.Close(); err != nil {
			t.Error(err)
		}
	}()

	slots := tpm.NewKeySlots(sim, memory.NewStore())
	if err := slots.Init(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = slots.Finalize() }()

	if err := slots.Generate("key", keyslot.SchemeEC256, true); err != nil {
		t.Fatal(err)
	}
	h, err := slots.Open("key")
	if err != nil {
		t.Fatal(err)
	}
	if err := slots.Close(h); err != nil {
		t.Fatal(err)
	}
}

func TestOpenUnsupportedPath(t *testing.T) {
	if _, err := tpm.Open("/tmp/not-a-tpm"); err == nil {
		t.Fatal("expected error for unsupported device path")
	}
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm_test

import (
	"bytes"
	"crypto"
	"testing"

	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/tpm"
)

func TestRootOfTrust(t *testing.T) {
	sim := openSimulator(t)

	rot := &tpm.RootOfTrust{TPM: sim}
	if _, err := rot.Read(); status.Of(err) != status.ItemNotFound {
		t.Fatalf("expected item not found, got %v", err)
	}

	expect := bytes.Repeat([]byte{0xA5}, 16)
	if err := rot.Write(expect); err != nil {
		t.Fatal(err)
	}
	got, err := rot.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(expect, got) {
		t.Fatalf("expected %x, got %x", expect, got)
	}

	if err := rot.Write(bytes.Repeat([]byte{0x5A}, 16)); status.Of(err) != status.ItemExists {
		t.Fatalf("expected item exists, got %v", err)
	}

	lc := &tpm.Lifecycle{TPM: sim}
	if err := lc.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := rot.Read(); status.Of(err) != status.ItemNotFound {
		t.Fatalf("expected root of trust to be cleared, got %v", err)
	}
}

func TestRootOfTrustPolicy(t *testing.T) {
	const index = 0x0180000F

	t.Run("Bound PCRs", func(t *testing.T) {
		sim := openSimulator(t)

		pcrs := tpm.PCRList{crypto.SHA256: []int{1, 2, 3, 4}}
		expect := []byte("Hello world!")
		if err := (&tpm.RootOfTrust{TPM: sim, Index: index, PCRs: pcrs}).Write(expect); err != nil {
			t.Fatal(err)
		}

		got, err := (&tpm.RootOfTrust{TPM: sim, Index: index, PCRs: pcrs}).Read()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(expect, got) {
			t.Fatalf("expected %x, got %x", expect, got)
		}

		if _, err := (&tpm.RootOfTrust{TPM: sim, Index: index}).Read(); status.Of(err) != status.RoTError {
			t.Fatalf("expected a policy failure reading with the wrong PCR selection, got %v", err)
		}
	})

	t.Run("Default index is untouched", func(t *testing.T) {
		sim := openSimulator(t)

		if err := (&tpm.RootOfTrust{TPM: sim, Index: index}).Write([]byte{1}); err != nil {
			t.Fatal(err)
		}
		if _, err := (&tpm.RootOfTrust{TPM: sim}).Read(); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		sim := openSimulator(t)

		rot := &tpm.RootOfTrust{TPM: sim, Index: index}
		if err := rot.Write(nil); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected invalid parameter, got %v", err)
		}
		if _, err := rot.Read(); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected nothing to be defined, got %v", err)
		}
	})
}

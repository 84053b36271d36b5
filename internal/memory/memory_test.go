// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package memory_test

import (
	"errors"
	"testing"

	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/internal/memory"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

func TestStore(t *testing.T) {
	fcctest.RunStoreTestSuite(t, func(t *testing.T) storage.Store { return memory.NewStore() })
}

func TestFail(t *testing.T) {
	s := memory.NewStore()
	s.Fail = func(op, name string) error {
		if op == "write" {
			return errors.New("disk full")
		}
		return nil
	}
	if err := s.Write("a", []byte{1}, false); status.Of(err) != status.StorageError {
		t.Fatalf("expected storage error, got %v", err)
	}
	if err := s.Check(); err != nil {
		t.Fatal(err)
	}

	s.Fail = func(op, _ string) error {
		if op == "check" {
			return errors.New("corrupt")
		}
		return nil
	}
	if err := s.Check(); !errors.Is(err, storage.ErrInit) {
		t.Fatalf("expected init error, got %v", err)
	}
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/fido-device-onboard/go-fcc"
	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/status"
)

func testContext(t *testing.T, db, keyStorage string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("fcc", flag.ContinueOnError)
	set.String(flagDB.Name, db, "")
	set.String(flagPassword.Name, "test_password", "")
	set.String(flagTPM.Name, "", "")
	set.String(flagKeyStorage.Name, keyStorage, "")
	return cli.NewContext(nil, set, nil)
}

func TestSetupLogging(t *testing.T) {
	defaultLogger := slog.Default()
	t.Cleanup(func() { slog.SetDefault(defaultLogger) })

	for _, debug := range []bool{false, true} {
		set := flag.NewFlagSet("fcc", flag.ContinueOnError)
		set.Bool(flagDebug.Name, debug, "")
		if err := setupLogging(cli.NewContext(nil, set, nil)); err != nil {
			t.Fatal(err)
		}
		if got := slog.Default().Enabled(context.Background(), slog.LevelDebug); got != debug {
			t.Fatalf("debug=%t: expected debug logging enabled to be %t, got %t", debug, debug, got)
		}
		if !slog.Default().Enabled(context.Background(), slog.LevelInfo) {
			t.Fatalf("debug=%t: expected info logging enabled", debug)
		}
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	fcctest.SetDefaultLogger(t)
	db := filepath.Join(t.TempDir(), "fcc.db")

	for _, keyStorage := range []string{"slot", "store"} {
		t.Run(keyStorage, func(t *testing.T) {
			cCtx := testContext(t, filepath.Join(t.TempDir(), "fcc.db"), keyStorage)
			m := deviceManifest(t)
			m.Disable = true
			if err := withSession(cCtx, m.apply); err != nil {
				t.Fatal(err)
			}

			// Items persist across sessions
			if err := withSession(cCtx, func(s *fcc.Session) error {
				if err := s.Verify(); err != nil {
					return err
				}
				disabled, err := s.IsFactoryDisabled()
				if err == nil && !disabled {
					t.Error("expected factory configuration to be disabled")
				}
				return err
			}); err != nil {
				t.Fatal(err)
			}

			if err := withSession(cCtx, func(s *fcc.Session) error { return s.FullReset() }); err != nil {
				t.Fatal(err)
			}
			err := withSession(cCtx, func(s *fcc.Session) error { return s.Verify() })
			if status.Of(err) != status.EntropyError {
				t.Fatalf("expected a reset device to fail verification, got %v", err)
			}
		})
	}

	if err := withSession(testContext(t, db, "hsm"), func(*fcc.Session) error { return nil }); err == nil {
		t.Fatal("expected unsupported key storage to fail")
	}
}

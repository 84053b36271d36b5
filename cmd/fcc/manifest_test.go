// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"bytes"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fido-device-onboard/go-fcc"
	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/internal/memory"
	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/pal"
	"github.com/fido-device-onboard/go-fcc/status"
)

var now = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestParseManifest(t *testing.T) {
	m, err := parseManifest(strings.NewReader(`
entropy: "00ff"
time: "2026-03-01T12:00:00Z"
items:
  - name: mbed.EndpointName
    kind: config
    value: device-0001
  - name: mbed.UseBootstrap
    kind: config
    uint32: 1
  - name: mbed.BootstrapServerCACert
    kind: certificate
    file: ca.pem
generate:
  - private: attestation
    public: attestation
    origin: user
bind: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Items) != 3 || len(m.Generate) != 1 || !m.Bind || m.Disable {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if m.Items[1].Uint32 == nil || *m.Items[1].Uint32 != 1 {
		t.Fatalf("expected uint32 item, got %+v", m.Items[1])
	}
	if epoch, err := m.epoch(time.Now); err != nil || epoch != uint64(now.Unix()) {
		t.Fatalf("expected %d, got %d, %v", now.Unix(), epoch, err)
	}

	for name, doc := range map[string]string{
		"unknown field":       "entropi: 00",
		"unknown kind":        "items: [{name: a, kind: secret, value: x}]",
		"no source":           "items: [{name: a, kind: config}]",
		"two sources":         "items: [{name: a, kind: config, value: x, hex: '00'}]",
		"missing private key": "generate: [{public: a}]",
		"unknown origin":      "generate: [{private: a, origin: oem}]",
		"invalid time":        "time: yesterday",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := parseManifest(strings.NewReader(doc)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestManifestEpoch(t *testing.T) {
	clock := func() time.Time { return now }
	for in, want := range map[string]uint64{
		"":                     0,
		"now":                  uint64(now.Unix()),
		"1700000000":           1700000000,
		"2026-03-01T12:00:00Z": uint64(now.Unix()),
	} {
		m := Manifest{Time: in}
		if got, err := m.epoch(clock); err != nil || got != want {
			t.Errorf("time %q: expected %d, got %d, %v", in, want, got, err)
		}
	}
}

func TestManifestItemData(t *testing.T) {
	dir := t.TempDir()
	der := []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	if err := os.WriteFile(filepath.Join(dir, "cert.pem"), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cert.der"), der, 0o600); err != nil {
		t.Fatal(err)
	}

	seven := uint32(7)
	for _, test := range []struct {
		item ManifestItem
		want []byte
	}{
		{ManifestItem{Value: "abc"}, []byte("abc")},
		{ManifestItem{Hex: "0a0b"}, []byte{0x0a, 0x0b}},
		{ManifestItem{Uint32: &seven}, []byte{7, 0, 0, 0}},
		{ManifestItem{File: "cert.pem"}, der},
		{ManifestItem{File: filepath.Join(dir, "cert.der")}, der},
	} {
		got, err := test.item.data(dir)
		if err != nil {
			t.Fatalf("%+v: %v", test.item, err)
		}
		if !bytes.Equal(got, test.want) {
			t.Errorf("%+v: expected %x, got %x", test.item, test.want, got)
		}
	}

	if _, err := (ManifestItem{File: "missing.pem"}).data(dir); err == nil {
		t.Fatal("expected missing file to fail")
	}
}

func newSession(t *testing.T) *fcc.Session {
	t.Helper()
	fcctest.SetDefaultLogger(t)

	store := memory.NewStore()
	platform := &pal.Platform{Store: store}
	p, err := fcc.New(fcc.Config{
		Store:    store,
		Keys:     keys.NewSlotStorage(keyslot.NewSoftware(store, platform.Reader())),
		Platform: platform,
		Log:      fcctest.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.Init()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := p.Finalize(); err != nil {
			t.Error(err)
		}
	})
	return s
}

// deviceManifest returns a manifest holding every item of a device.
func deviceManifest(t *testing.T) *Manifest {
	t.Helper()
	dev := fcctest.NewDevice(t, "device-0001", true, now.Add(-24*time.Hour), now.Add(365*24*time.Hour))
	m := &Manifest{
		Entropy: hex.EncodeToString(bytes.Repeat([]byte{0x5a}, pal.EntropySize)),
		RoT:     hex.EncodeToString(bytes.Repeat([]byte{0xa5}, pal.RoTSize)),
		Time:    now.Format(time.RFC3339),
	}
	for _, item := range dev.Items() {
		m.Items = append(m.Items, ManifestItem{
			Name: item.Name,
			Kind: kindName(t, item.Kind),
			Hex:  hex.EncodeToString(item.Data),
		})
	}
	return m
}

func kindName(t *testing.T, kind naming.Kind) string {
	for name, k := range itemKinds {
		if k == kind {
			return name
		}
	}
	t.Fatalf("no manifest kind for %s", kind)
	return ""
}

func TestManifestApply(t *testing.T) {
	s := newSession(t)
	m := deviceManifest(t)
	m.Generate = []ManifestKey{{Private: "attestation", Public: "attestation"}}
	m.Bind, m.Disable = true, true

	if err := m.apply(s); err != nil {
		t.Fatal(err)
	}
	if disabled, err := s.IsFactoryDisabled(); err != nil || !disabled {
		t.Fatalf("expected factory configuration to be disabled: %t, %v", disabled, err)
	}
	if ok, err := s.Keys().Exists("attestation", naming.PublicKey, naming.Factory); err != nil || !ok {
		t.Fatalf("expected generated public key: %t, %v", ok, err)
	}
	if err := s.BindTrustAnchor(); status.Of(err) != status.CAError {
		t.Fatalf("expected trust anchor to be bound once, got %v", err)
	}
}

func TestManifestApplyUnverified(t *testing.T) {
	s := newSession(t)
	m := deviceManifest(t)
	m.Disable = true
	for i, item := range m.Items {
		if item.Name == fcc.EndpointName {
			m.Items = append(m.Items[:i], m.Items[i+1:]...)
			break
		}
	}

	err := m.apply(s)
	if status.Of(err) != status.ItemNotFound {
		t.Fatalf("expected missing endpoint name, got %v", err)
	}
	if !strings.Contains(err.Error(), fcc.EndpointName) {
		t.Errorf("expected diagnostics in %q", err)
	}
	if disabled, err := s.IsFactoryDisabled(); err != nil || disabled {
		t.Fatalf("expected factory configuration to stay enabled: %t, %v", disabled, err)
	}
}

func TestManifestApplyInvalidEntropy(t *testing.T) {
	s := newSession(t)
	m := &Manifest{Entropy: "00"}
	if err := m.apply(s); status.Of(err) != status.InvalidParameter {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

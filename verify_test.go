// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcc_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/fido-device-onboard/go-fcc"
	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/pal"
	"github.com/fido-device-onboard/go-fcc/status"
)

const dayLen = 24 * time.Hour

var now = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// configured returns a session on a device holding every item in items, with
// entropy injected and strong time set to now.
func configured(t *testing.T, items []fcctest.Item) (*env, *fcc.Session) {
	t.Helper()
	e := newEnv(t, nil)
	s := e.init(t)
	if err := s.SetEntropy(bytes.Repeat([]byte{0x5A}, pal.EntropySize)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTime(uint64(now.Unix())); err != nil {
		t.Fatal(err)
	}
	fcctest.Provision(t, s, items)
	return e, s
}

func newDevice(t *testing.T, bootstrap bool) *fcctest.Device {
	return fcctest.NewDevice(t, "device-0001", bootstrap, now.Add(-30*dayLen), now.Add(365*dayLen))
}

func without(items []fcctest.Item, names ...string) []fcctest.Item {
	return slices.DeleteFunc(slices.Clone(items), func(item fcctest.Item) bool {
		return slices.Contains(names, item.Name)
	})
}

func replace(items []fcctest.Item, name string, data []byte) []fcctest.Item {
	items = slices.Clone(items)
	for i := range items {
		if items[i].Name == name {
			items[i].Data = data
		}
	}
	return items
}

func diagnostics(t *testing.T, s *fcc.Session) []fcc.Record {
	t.Helper()
	records, err := s.Diagnostics()
	if err != nil {
		t.Fatal(err)
	}
	return records
}

func expectRecords(t *testing.T, s *fcc.Session, expect ...fcc.Record) {
	t.Helper()
	got := diagnostics(t, s)
	if len(got) != len(expect) {
		t.Fatalf("expected diagnostics %v, got %v", expect, got)
	}
	for i := range got {
		if got[i].Name != expect[i].Name || got[i].Code != expect[i].Code || got[i].Warning != expect[i].Warning {
			t.Fatalf("expected diagnostics %v, got %v", expect, got)
		}
	}
}

func TestVerify(t *testing.T) {
	for _, bootstrap := range []bool{true, false} {
		name := "lwm2m"
		if bootstrap {
			name = "bootstrap"
		}
		t.Run(name, func(t *testing.T) {
			_, s := configured(t, newDevice(t, bootstrap).Items())
			if err := s.Verify(); err != nil {
				t.Fatalf("verify: %v (diagnostics %v)", err, diagnostics(t, s))
			}
			expectRecords(t, s)
		})
	}
}

func TestVerifyMissingFirmwareTrust(t *testing.T) {
	dev := newDevice(t, true)
	_, s := configured(t, without(dev.Items(), fcc.UpdateAuthCertName, fcc.ClassIDName, fcc.VendorIDName))

	if err := s.Verify(); status.Of(err) != status.ItemNotFound {
		t.Fatalf("expected item not found, got %v", err)
	}
	expectRecords(t, s, fcc.Record{Name: fcc.UpdateAuthCertName, Code: status.ItemNotFound})
}

func TestVerifyFailures(t *testing.T) {
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	otherKeyDER, err := x509.MarshalPKCS8PrivateKey(otherKey)
	if err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		name      string
		bootstrap bool
		items     func(*fcctest.Device) []fcctest.Item
		code      status.Code
		record    string
	}{
		{
			name:   "bootstrap mode missing",
			items:  func(d *fcctest.Device) []fcctest.Item { return without(d.Items(), fcc.UseBootstrapName) },
			code:   status.ItemNotFound,
			record: fcc.UseBootstrapName,
		},
		{
			name:   "bootstrap mode out of range",
			items:  func(d *fcctest.Device) []fcctest.Item { return replace(d.Items(), fcc.UseBootstrapName, fcctest.Uint32(2)) },
			code:   status.InvalidValue,
			record: fcc.UseBootstrapName,
		},
		{
			name:   "endpoint name missing",
			items:  func(d *fcctest.Device) []fcctest.Item { return without(d.Items(), fcc.EndpointName) },
			code:   status.ItemNotFound,
			record: fcc.EndpointName,
		},
		{
			name:   "first to claim out of range",
			items:  func(d *fcctest.Device) []fcctest.Item { return replace(d.Items(), fcc.FirstToClaimName, fcctest.Uint32(5)) },
			code:   status.InvalidValue,
			record: fcc.FirstToClaimName,
		},
		{
			name:   "serial number missing",
			items:  func(d *fcctest.Device) []fcctest.Item { return without(d.Items(), fcc.SerialNumberName) },
			code:   status.ItemNotFound,
			record: fcc.SerialNumberName,
		},
		{
			name:   "memory size malformed",
			items:  func(d *fcctest.Device) []fcctest.Item { return replace(d.Items(), fcc.MemoryTotalKBName, []byte("512")) },
			code:   status.InvalidValue,
			record: fcc.MemoryTotalKBName,
		},
		{
			name:      "server CA malformed",
			bootstrap: true,
			items: func(d *fcctest.Device) []fcctest.Item {
				return replace(d.Items(), fcc.BootstrapServerCACertName, []byte("not a certificate"))
			},
			code:   status.InvalidCertificate,
			record: fcc.BootstrapServerCACertName,
		},
		{
			name: "server URI scheme",
			items: func(d *fcctest.Device) []fcctest.Item {
				return replace(d.Items(), fcc.LwM2MServerURIName, []byte("https://lwm2m.example.com"))
			},
			code:   status.InvalidValue,
			record: fcc.LwM2MServerURIName,
		},
		{
			name:   "server URI missing",
			items:  func(d *fcctest.Device) []fcctest.Item { return without(d.Items(), fcc.LwM2MServerURIName) },
			code:   status.ItemNotFound,
			record: fcc.LwM2MServerURIName,
		},
		{
			name:   "CRL malformed",
			items:  func(d *fcctest.Device) []fcctest.Item { return replace(d.Items(), fcc.LwM2MServerCRLName, []byte{0x30, 0x00}) },
			code:   status.InvalidCertificate,
			record: fcc.LwM2MServerCRLName,
		},
		{
			name: "device certificate for another endpoint",
			items: func(d *fcctest.Device) []fcctest.Item {
				return replace(d.Items(), fcc.EndpointName, []byte("device-0002"))
			},
			code:   status.InvalidValue,
			record: fcc.LwM2MDeviceCertName,
		},
		{
			name:   "device private key missing",
			items:  func(d *fcctest.Device) []fcctest.Item { return without(d.Items(), fcc.LwM2MDevicePrivateKeyName) },
			code:   status.ItemNotFound,
			record: fcc.LwM2MDevicePrivateKeyName,
		},
		{
			name:      "device private key mismatch",
			bootstrap: true,
			items: func(d *fcctest.Device) []fcctest.Item {
				return replace(d.Items(), fcc.BootstrapDevicePrivateKeyName, otherKeyDER)
			},
			code:   status.KeyMismatch,
			record: fcc.BootstrapDevicePrivateKeyName,
		},
		{
			name:   "vendor id malformed",
			items:  func(d *fcctest.Device) []fcctest.Item { return replace(d.Items(), fcc.VendorIDName, []byte("vendor")) },
			code:   status.InvalidValue,
			record: fcc.VendorIDName,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, s := configured(t, test.items(newDevice(t, test.bootstrap)))
			if err := s.Verify(); status.Of(err) != test.code {
				t.Fatalf("expected %s, got %v", test.code, err)
			}
			expectRecords(t, s, fcc.Record{Name: test.record, Code: test.code})
		})
	}
}

func TestVerifyEntropy(t *testing.T) {
	e := newEnv(t, nil)
	s := e.init(t)
	fcctest.Provision(t, s, newDevice(t, false).Items())
	if err := s.Verify(); status.Of(err) != status.EntropyError {
		t.Fatalf("expected entropy error, got %v", err)
	}
	expectRecords(t, s, fcc.Record{Name: fcc.EntropyName, Code: status.EntropyError})
}

func TestVerifyWarnings(t *testing.T) {
	t.Run("time not set", func(t *testing.T) {
		e := newEnv(t, nil)
		s := e.init(t)
		if err := s.SetEntropy(make([]byte, pal.EntropySize)); err != nil {
			t.Fatal(err)
		}
		fcctest.Provision(t, s, newDevice(t, false).Items())
		if err := s.Verify(); err != nil {
			t.Fatal(err)
		}
		expectRecords(t, s, fcc.Record{Name: fcc.CurrentTimeName, Warning: true})
	})

	t.Run("account id missing", func(t *testing.T) {
		_, s := configured(t, without(newDevice(t, false).Items(), fcc.AccountIDName))
		if err := s.Verify(); err != nil {
			t.Fatal(err)
		}
		expectRecords(t, s, fcc.Record{Name: fcc.AccountIDName, Warning: true})
	})

	t.Run("expired certificates", func(t *testing.T) {
		dev := fcctest.NewDevice(t, "device-0001", true, now.Add(-365*dayLen), now.Add(-dayLen))
		_, s := configured(t, dev.Items())
		if err := s.Verify(); err != nil {
			t.Fatal(err)
		}
		expectRecords(t, s,
			fcc.Record{Name: fcc.BootstrapServerCACertName, Warning: true},
			fcc.Record{Name: fcc.BootstrapDeviceCertName, Warning: true},
			fcc.Record{Name: fcc.UpdateAuthCertName, Warning: true},
		)
	})
}

func TestVerifyClearsDiagnostics(t *testing.T) {
	dev := newDevice(t, false)
	_, s := configured(t, without(dev.Items(), fcc.UpdateAuthCertName, fcc.ClassIDName, fcc.VendorIDName))

	for range 2 {
		if err := s.Verify(); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
		expectRecords(t, s, fcc.Record{Name: fcc.UpdateAuthCertName, Code: status.ItemNotFound})
	}

	fcctest.Provision(t, s, dev.FirmwareItems())
	if err := s.Verify(); err != nil {
		t.Fatal(err)
	}
	expectRecords(t, s)
}

type fullOutputInfo struct{ fcc.MemoryOutputInfo }

func (*fullOutputInfo) RecordError(string, status.Code) error { return errors.New("full") }
func (*fullOutputInfo) RecordWarning(string, string) error    { return errors.New("full") }

func TestVerifyOutputInfoError(t *testing.T) {
	e := newEnv(t, nil)
	p, err := fcc.New(fcc.Config{
		Store:      e.store,
		Keys:       e.keys,
		Platform:   e.platform,
		OutputInfo: new(fullOutputInfo),
		Log:        fcctest.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.Init()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetTime(uint64(now.Unix())); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEntropy(make([]byte, pal.EntropySize)); err != nil {
		t.Fatal(err)
	}

	dev := newDevice(t, false)
	fcctest.Provision(t, s, without(dev.Items(), fcc.ClassIDName))
	if err := s.Verify(); status.Of(err) != status.OutputInfoError {
		t.Fatalf("expected output info error, got %v", err)
	}

	// Success records nothing, so a broken collector cannot fail it
	fcctest.Provision(t, s, []fcctest.Item{{Name: fcc.ClassIDName, Kind: naming.Config, Data: dev.ClassID[:]}})
	if err := s.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestBindTrustAnchor(t *testing.T) {
	t.Run("bootstrap", func(t *testing.T) {
		dev := newDevice(t, true)
		e, s := configured(t, dev.Items())
		if err := s.BindTrustAnchor(); err != nil {
			t.Fatal(err)
		}
		cert, err := x509.ParseCertificate(dev.CACert)
		if err != nil {
			t.Fatal(err)
		}
		expect := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
		got, err := e.store.Read(naming.Reserved("trusted_time_srv_id"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(expect[:], got) {
			t.Fatalf("expected key id %x, got %x", expect, got)
		}
		expectRecords(t, s)

		if err := s.BindTrustAnchor(); status.Of(err) != status.CAError {
			t.Fatalf("expected CA error, got %v", err)
		}
		expectRecords(t, s, fcc.Record{Name: fcc.BootstrapServerCACertName, Code: status.CAError})
	})

	t.Run("lwm2m", func(t *testing.T) {
		e, s := configured(t, newDevice(t, false).Items())
		if err := s.BindTrustAnchor(); err != nil {
			t.Fatal(err)
		}
		if _, err := e.store.Read(naming.Reserved("trusted_time_srv_id")); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected no binding outside bootstrap mode, got %v", err)
		}
		expectRecords(t, s)
	})

	t.Run("CA missing", func(t *testing.T) {
		_, s := configured(t, without(newDevice(t, true).Items(), fcc.BootstrapServerCACertName))
		if err := s.BindTrustAnchor(); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
		expectRecords(t, s, fcc.Record{Name: fcc.BootstrapServerCACertName, Code: status.ItemNotFound})
	})
}

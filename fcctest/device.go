// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcctest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fido-device-onboard/go-fcc"
	"github.com/fido-device-onboard/go-fcc/naming"
)

// Item is a factory credential item.
type Item struct {
	Name string
	Kind naming.Kind
	Data []byte
}

// Device is a complete set of factory credentials for one device.
type Device struct {
	Endpoint  string
	Bootstrap bool

	CAKey      *ecdsa.PrivateKey
	CACert     []byte
	CRL        []byte
	DeviceKey  []byte
	DeviceCert []byte
	UpdateCert []byte
	ClassID    uuid.UUID
	VendorID   uuid.UUID
}

// NewDevice generates credentials for a device connecting to a bootstrap
// server if bootstrap is set, else to an LwM2M server. Certificates are
// valid from notBefore to notAfter.
func NewDevice(t *testing.T, endpoint string, bootstrap bool, notBefore, notAfter time.Time) *Device {
	t.Helper()

	caKey := newKey(t)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Server CA"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caCert := createCert(t, caTemplate, caTemplate, caKey.Public(), caKey)
	ca, err := x509.ParseCertificate(caCert)
	if err != nil {
		t.Fatal(err)
	}

	crl, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: notBefore,
		NextUpdate: notAfter,
	}, ca, caKey)
	if err != nil {
		t.Fatal(err)
	}

	deviceKey := newKey(t)
	deviceCert := createCert(t, &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: endpoint},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, ca, deviceKey.Public(), caKey)
	deviceDER, err := x509.MarshalPKCS8PrivateKey(deviceKey)
	if err != nil {
		t.Fatal(err)
	}

	updateKey := newKey(t)
	updateTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Update Authority"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	updateCert := createCert(t, updateTemplate, updateTemplate, updateKey.Public(), updateKey)

	return &Device{
		Endpoint:   endpoint,
		Bootstrap:  bootstrap,
		CAKey:      caKey,
		CACert:     caCert,
		CRL:        crl,
		DeviceKey:  deviceDER,
		DeviceCert: deviceCert,
		UpdateCert: updateCert,
		ClassID:    uuid.New(),
		VendorID:   uuid.New(),
	}
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func createCert(t *testing.T, template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) []byte {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

// Uint32 encodes a 32-bit configuration value.
func Uint32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

// Items returns every item a configured device holds.
func (d *Device) Items() []Item {
	var useBootstrap uint32
	objs := [5]string{
		fcc.LwM2MServerCACertName,
		fcc.LwM2MServerCRLName,
		fcc.LwM2MServerURIName,
		fcc.LwM2MDeviceCertName,
		fcc.LwM2MDevicePrivateKeyName,
	}
	if d.Bootstrap {
		useBootstrap = 1
		objs = [5]string{
			fcc.BootstrapServerCACertName,
			fcc.BootstrapServerCRLName,
			fcc.BootstrapServerURIName,
			fcc.BootstrapDeviceCertName,
			fcc.BootstrapDevicePrivateKeyName,
		}
	}

	items := []Item{
		{fcc.UseBootstrapName, naming.Config, Uint32(useBootstrap)},
		{fcc.EndpointName, naming.Config, []byte(d.Endpoint)},
		{fcc.AccountIDName, naming.Config, []byte("0158a1b2c3d4e5f60000000000000000")},
		{fcc.FirstToClaimName, naming.Config, Uint32(0)},
		{fcc.ManufacturerName, naming.Config, []byte("Test Manufacturer")},
		{fcc.ModelNumberName, naming.Config, []byte("TM-1")},
		{fcc.DeviceTypeName, naming.Config, []byte("sensor")},
		{fcc.HardwareVersionName, naming.Config, []byte("1.0")},
		{fcc.MemoryTotalKBName, naming.Config, Uint32(512)},
		{fcc.SerialNumberName, naming.Config, []byte("SN-0001")},
		{objs[0], naming.Certificate, d.CACert},
		{objs[1], naming.Certificate, d.CRL},
		{objs[2], naming.Config, []byte("coaps://bootstrap.example.com:5684")},
		{objs[3], naming.Certificate, d.DeviceCert},
		{objs[4], naming.PrivateKey, d.DeviceKey},
	}
	return append(items, d.FirmwareItems()...)
}

// FirmwareItems returns the firmware update trust items.
func (d *Device) FirmwareItems() []Item {
	return []Item{
		{fcc.UpdateAuthCertName, naming.Certificate, d.UpdateCert},
		{fcc.ClassIDName, naming.Config, d.ClassID[:]},
		{fcc.VendorIDName, naming.Config, d.VendorID[:]},
	}
}

// Provision stores every item in items, failing the test on error.
func Provision(t *testing.T, s *fcc.Session, items []Item) {
	t.Helper()
	for _, item := range items {
		if err := s.StoreItem(item.Name, item.Kind, item.Data); err != nil {
			t.Fatalf("storing %s: %v", item.Name, err)
		}
	}
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcc

import (
	"bytes"
	"crypto/x509"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
)

// Verify checks that the device is completely configured. Categories are
// checked in order and the first failure is returned:
//
//  1. Entropy is seeded
//  2. Strong time is readable (unset time is a warning)
//  3. Bootstrap mode is readable
//  4. General info
//  5. Meta-data
//  6. Security objects of the bootstrap or LwM2M server
//  7. Firmware update trust
//
// Diagnostics from previous calls are cleared first. Each failure is recorded
// against the offending item before Verify returns. If recording fails,
// status.OutputInfoError is returned instead.
func (s *Session) Verify() error {
	if err := s.check(); err != nil {
		return err
	}
	s.p.out.Reset()

	v := &verifier{s: s}
	for _, check := range []struct {
		category string
		run      func() error
	}{
		{"entropy", v.entropy},
		{"time", v.time},
		{"bootstrap mode", v.bootstrapMode},
		{"general info", v.generalInfo},
		{"meta-data", v.metaData},
		{"security objects", v.securityObjects},
		{"firmware update", v.firmwareUpdate},
	} {
		if err := check.run(); err != nil {
			s.p.log.Warn("device verification failed", "session", s.id, "category", check.category, "error", err)
			return err
		}
	}
	s.p.log.Info("device verified", "session", s.id, "bootstrap", v.bootstrap)
	return nil
}

type verifier struct {
	s *Session

	// Set by earlier checks
	now       time.Time
	bootstrap bool
	endpoint  string
}

// fail records err against name and returns it.
func (v *verifier) fail(name string, err error) error {
	if rerr := v.s.p.out.RecordError(name, status.Of(err)); rerr != nil {
		return status.Errorf(status.OutputInfoError, "recording %s for %s: %w", status.Of(err), name, rerr)
	}
	return err
}

func (v *verifier) warn(name, msg string) error {
	if err := v.s.p.out.RecordWarning(name, msg); err != nil {
		return status.Errorf(status.OutputInfoError, "recording warning for %s: %w", name, err)
	}
	return nil
}

// require reads a non-empty item.
func (v *verifier) require(name string, kind naming.Kind) ([]byte, error) {
	buf, err := v.s.read(name, kind)
	if err != nil {
		return nil, v.fail(name, err)
	}
	if len(buf) == 0 {
		return nil, v.fail(name, status.Errorf(status.InvalidValue, "%s is empty", name))
	}
	return buf, nil
}

// optional reads an item which may be absent.
func (v *verifier) optional(name string, kind naming.Kind) ([]byte, bool, error) {
	buf, err := v.s.read(name, kind)
	switch status.Of(err) {
	case status.Success:
		return buf, true, nil
	case status.ItemNotFound:
		return nil, false, nil
	default:
		return nil, false, v.fail(name, err)
	}
}

func (v *verifier) entropy() error {
	ok, err := v.s.p.platform.EntropySeeded()
	if err != nil {
		return v.fail(EntropyName, status.Wrap(status.EntropyError, err))
	}
	if !ok {
		return v.fail(EntropyName, status.Errorf(status.EntropyError, "entropy not seeded"))
	}
	return nil
}

func (v *verifier) time() error {
	epoch, err := v.s.p.platform.Time()
	if err != nil {
		return v.fail(CurrentTimeName, err)
	}
	if epoch == 0 {
		return v.warn(CurrentTimeName, "strong time is not set")
	}
	v.now = time.Unix(int64(epoch), 0)
	return nil
}

func (v *verifier) bootstrapMode() error {
	bootstrap, err := v.s.bootstrapMode()
	if err != nil {
		return v.fail(UseBootstrapName, err)
	}
	v.bootstrap = bootstrap
	return nil
}

func (v *verifier) generalInfo() error {
	endpoint, err := v.require(EndpointName, naming.Config)
	if err != nil {
		return err
	}
	v.endpoint = string(endpoint)

	if _, ok, err := v.optional(AccountIDName, naming.Config); err != nil {
		return err
	} else if !ok {
		if err := v.warn(AccountIDName, "account id is not set"); err != nil {
			return err
		}
	}

	if _, ok, err := v.optional(FirstToClaimName, naming.Config); err != nil {
		return err
	} else if ok {
		claim, err := v.s.readUint32(FirstToClaimName)
		if err == nil && claim > 1 {
			err = status.Errorf(status.InvalidValue, "%s is %d", FirstToClaimName, claim)
		}
		if err != nil {
			return v.fail(FirstToClaimName, err)
		}
	}
	return nil
}

func (v *verifier) metaData() error {
	for _, name := range []string{
		ManufacturerName,
		ModelNumberName,
		DeviceTypeName,
		HardwareVersionName,
		MemoryTotalKBName,
		SerialNumberName,
	} {
		if _, err := v.require(name, naming.Config); err != nil {
			return err
		}
	}
	if _, err := v.s.readUint32(MemoryTotalKBName); err != nil {
		return v.fail(MemoryTotalKBName, err)
	}
	return nil
}

// certificate reads and parses a required certificate, warning if it is not
// valid at the strong time.
func (v *verifier) certificate(name string) (*x509.Certificate, error) {
	der, err := v.require(name, naming.Certificate)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, v.fail(name, status.Errorf(status.InvalidCertificate, "%s: %w", name, err))
	}
	if v.now.IsZero() {
		return cert, nil
	}
	switch {
	case v.now.After(cert.NotAfter):
		return cert, v.warn(name, "certificate expired at "+cert.NotAfter.UTC().Format(time.RFC3339))
	case v.now.Before(cert.NotBefore):
		return cert, v.warn(name, "certificate not valid before "+cert.NotBefore.UTC().Format(time.RFC3339))
	}
	return cert, nil
}

func (v *verifier) securityObjects() error {
	objs := lwm2mObjects
	if v.bootstrap {
		objs = bootstrapObjects
	}

	if _, err := v.certificate(objs.CACert); err != nil {
		return err
	}

	uri, err := v.require(objs.URI, naming.Config)
	if err != nil {
		return err
	}
	if u, err := url.Parse(string(uri)); err != nil {
		return v.fail(objs.URI, status.Errorf(status.InvalidValue, "%s: %w", objs.URI, err))
	} else if u.Scheme != "coaps" || u.Hostname() == "" {
		return v.fail(objs.URI, status.Errorf(status.InvalidValue, "%s must be a coaps URI with a host", objs.URI))
	}

	if crl, ok, err := v.optional(objs.CRL, naming.Certificate); err != nil {
		return err
	} else if ok {
		if _, err := x509.ParseRevocationList(crl); err != nil {
			return v.fail(objs.CRL, status.Errorf(status.InvalidCertificate, "%s: %w", objs.CRL, err))
		}
	}

	cert, err := v.certificate(objs.DeviceCert)
	if err != nil {
		return err
	}
	if cert.Subject.CommonName != v.endpoint {
		return v.fail(objs.DeviceCert, status.Errorf(status.InvalidValue,
			"%s common name %q does not match endpoint name %q", objs.DeviceCert, cert.Subject.CommonName, v.endpoint))
	}

	keys := v.s.p.keys
	if ok, err := keys.Exists(objs.PrivateKey, naming.PrivateKey, naming.Factory); err != nil {
		return v.fail(objs.PrivateKey, err)
	} else if !ok {
		return v.fail(objs.PrivateKey, status.Errorf(status.ItemNotFound, "%s", objs.PrivateKey))
	}
	pub, err := keys.PublicOf(objs.PrivateKey, naming.Factory)
	if err != nil {
		return v.fail(objs.PrivateKey, err)
	}
	if !bytes.Equal(pub, cert.RawSubjectPublicKeyInfo) {
		return v.fail(objs.PrivateKey, status.Errorf(status.KeyMismatch, "%s does not match %s", objs.PrivateKey, objs.DeviceCert))
	}
	return nil
}

func (v *verifier) firmwareUpdate() error {
	if _, err := v.certificate(UpdateAuthCertName); err != nil {
		return err
	}
	for _, name := range []string{ClassIDName, VendorIDName} {
		id, err := v.require(name, naming.Config)
		if err != nil {
			return err
		}
		if _, err := uuid.FromBytes(id); err != nil {
			return v.fail(name, status.Errorf(status.InvalidValue, "%s: %w", name, err))
		}
	}
	return nil
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fido-device-onboard/go-fcc"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
)

// Manifest describes everything written to a device on the production line.
//
// Example YAML:
//
//	entropy: 3f9a...   # 48 bytes, hex
//	rot: 00112233...   # 16 bytes, hex
//	time: now
//	items:
//	  - name: mbed.EndpointName
//	    kind: config
//	    value: device-0001
//	  - name: mbed.UseBootstrap
//	    kind: config
//	    uint32: 1
//	  - name: mbed.BootstrapServerCACert
//	    kind: certificate
//	    file: certs/bootstrap-ca.pem
//	generate:
//	  - private: attestation
//	    public: attestation
//	bind: true
//	disable: true
type Manifest struct {
	// Entropy seeds the device random number generator.
	Entropy string `yaml:"entropy"`

	// RoT is the device root of trust.
	RoT string `yaml:"rot"`

	// Time is "now", an RFC 3339 timestamp or seconds since the Unix epoch.
	Time string `yaml:"time"`

	Items    []ManifestItem `yaml:"items"`
	Generate []ManifestKey  `yaml:"generate"`

	// Bind records the trust anchor of the provisioned server CA.
	Bind bool `yaml:"bind"`

	// Disable ends factory configuration once everything is applied and
	// the device verifies.
	Disable bool `yaml:"disable"`

	// dir resolves relative file paths
	dir string
}

// ManifestItem is one credential item. Exactly one of Value, Hex, Uint32 and
// File is set. PEM files are decoded to DER.
type ManifestItem struct {
	Name   string  `yaml:"name"`
	Kind   string  `yaml:"kind"`
	Value  string  `yaml:"value"`
	Hex    string  `yaml:"hex"`
	Uint32 *uint32 `yaml:"uint32"`
	File   string  `yaml:"file"`
}

// ManifestKey is an EC P-256 key generated on the device.
type ManifestKey struct {
	Private string `yaml:"private"`
	Public  string `yaml:"public"`
	Origin  string `yaml:"origin"`
}

var itemKinds = map[string]naming.Kind{
	"private-key": naming.PrivateKey,
	"public-key":  naming.PublicKey,
	"certificate": naming.Certificate,
	"config":      naming.Config,
}

var origins = map[string]naming.Origin{
	"":        naming.Factory,
	"factory": naming.Factory,
	"user":    naming.User,
}

func loadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	m, err := parseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

func parseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("error decoding manifest: %w", err)
	}
	for i, item := range m.Items {
		if _, ok := itemKinds[item.Kind]; !ok {
			return nil, fmt.Errorf("item %d (%s): unknown kind %q", i, item.Name, item.Kind)
		}
		if n := item.sources(); n != 1 {
			return nil, fmt.Errorf("item %d (%s): expected exactly one of value, hex, uint32 or file, got %d", i, item.Name, n)
		}
	}
	for i, key := range m.Generate {
		if key.Private == "" {
			return nil, fmt.Errorf("generate %d: missing private key name", i)
		}
		if _, ok := origins[key.Origin]; !ok {
			return nil, fmt.Errorf("generate %d (%s): unknown origin %q", i, key.Private, key.Origin)
		}
	}
	if _, err := m.epoch(time.Now); err != nil {
		return nil, err
	}
	return &m, nil
}

func (item ManifestItem) sources() (n int) {
	for _, set := range []bool{item.Value != "", item.Hex != "", item.Uint32 != nil, item.File != ""} {
		if set {
			n++
		}
	}
	return n
}

func (item ManifestItem) data(dir string) ([]byte, error) {
	switch {
	case item.Value != "":
		return []byte(item.Value), nil
	case item.Hex != "":
		return hex.DecodeString(item.Hex)
	case item.Uint32 != nil:
		return binary.LittleEndian.AppendUint32(nil, *item.Uint32), nil
	}

	path := item.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	buf, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(buf); block != nil {
		return block.Bytes, nil
	}
	return buf, nil
}

// epoch returns the strong time to set, or zero if none is configured.
func (m *Manifest) epoch(now func() time.Time) (uint64, error) {
	switch m.Time {
	case "":
		return 0, nil
	case "now":
		return uint64(now().Unix()), nil
	}
	if t, err := time.Parse(time.RFC3339, m.Time); err == nil {
		return uint64(t.Unix()), nil
	}
	secs, err := strconv.ParseUint(m.Time, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: must be now, RFC 3339 or seconds since the epoch", m.Time)
	}
	return secs, nil
}

// apply writes the manifest to a device. Bind and Disable run after the
// device verifies.
func (m *Manifest) apply(s *fcc.Session) error {
	if m.Entropy != "" {
		buf, err := hex.DecodeString(m.Entropy)
		if err != nil {
			return fmt.Errorf("entropy: %w", err)
		}
		if err := s.SetEntropy(buf); err != nil {
			return fmt.Errorf("entropy: %w", err)
		}
	}
	if m.RoT != "" {
		buf, err := hex.DecodeString(m.RoT)
		if err != nil {
			return fmt.Errorf("root of trust: %w", err)
		}
		if err := s.SetRootOfTrust(buf); err != nil {
			return fmt.Errorf("root of trust: %w", err)
		}
	}
	epoch, err := m.epoch(time.Now)
	if err != nil {
		return err
	}
	if epoch != 0 {
		if err := s.SetTime(epoch); err != nil {
			return fmt.Errorf("time: %w", err)
		}
	}

	for _, item := range m.Items {
		data, err := item.data(m.dir)
		if err != nil {
			return fmt.Errorf("%s: %w", item.Name, err)
		}
		if err := s.StoreItem(item.Name, itemKinds[item.Kind], data); err != nil {
			return fmt.Errorf("%s: %w", item.Name, err)
		}
	}
	for _, key := range m.Generate {
		origin := origins[key.Origin]
		if err := s.Keys().GenerateAndStore(keyslot.SchemeEC256, key.Private, key.Public, origin, origin == naming.Factory); err != nil {
			return fmt.Errorf("generating %s: %w", key.Private, err)
		}
	}

	if !m.Bind && !m.Disable {
		return nil
	}
	if err := s.Verify(); err != nil {
		return errors.Join(fmt.Errorf("device verification failed: %w", err), diagnostics(s))
	}
	if m.Bind {
		if err := s.BindTrustAnchor(); err != nil {
			return fmt.Errorf("binding trust anchor: %w", err)
		}
	}
	if m.Disable {
		if err := s.SetFactoryDisabled(); err != nil {
			return fmt.Errorf("disabling factory configuration: %w", err)
		}
	}
	return nil
}

// diagnostics joins the error records of the last verification.
func diagnostics(s *fcc.Session) error {
	records, err := s.Diagnostics()
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range records {
		if !r.Warning {
			errs = append(errs, errors.New(r.String()))
		}
	}
	return errors.Join(errs...)
}

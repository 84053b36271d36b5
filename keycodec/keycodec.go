// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package keycodec converts between the DER key encodings credentials are
// provisioned in and the raw encodings key slot backends hold.
//
// Only NIST P-256 keys are supported. The raw private key is the 32-byte
// scalar and the raw public key is the 65-byte uncompressed point.
package keycodec

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"

	"github.com/fido-device-onboard/go-fcc/status"
)

// Key sizes
const (
	RawPrivateKeySize = 32
	RawPublicKeySize  = 65

	// MaxPublicKeySize is the largest DER public key (SubjectPublicKeyInfo)
	// returned by this package.
	MaxPublicKeySize = 91
)

// PrivateDERToRaw parses a PKCS#8 or SEC 1 encoded P-256 private key and
// returns its raw scalar.
func PrivateDERToRaw(der []byte) ([]byte, error) {
	key, err := parsePrivate(der)
	if err != nil {
		return nil, err
	}
	ecdhKey, err := key.ECDH()
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "converting private key: %w", err)
	}
	return ecdhKey.Bytes(), nil
}

// PrivateRawToDER encodes a raw P-256 scalar as PKCS#8.
func PrivateRawToDER(raw []byte) ([]byte, error) {
	ecdhKey, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "raw private key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(ecdhKey)
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "encoding private key: %w", err)
	}
	return der, nil
}

// PublicDERToRaw parses a PKIX encoded P-256 public key and returns its
// uncompressed point.
func PublicDERToRaw(der []byte) ([]byte, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "parsing public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, status.Errorf(status.InvalidParameter, "unsupported public key type %T", key)
	}
	ecdhKey, err := pub.ECDH()
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "converting public key: %w", err)
	}
	return ecdhKey.Bytes(), nil
}

// PublicRawToDER encodes an uncompressed P-256 point as a PKIX public key.
func PublicRawToDER(raw []byte) ([]byte, error) {
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "raw public key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "encoding public key: %w", err)
	}
	return der, nil
}

// PublicFromPrivateDER returns the PKIX encoded public half of a DER
// private key.
func PublicFromPrivateDER(der []byte) ([]byte, error) {
	key, err := parsePrivate(der)
	if err != nil {
		return nil, err
	}
	pub, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "encoding public key: %w", err)
	}
	return pub, nil
}

// CertificateKeyID returns the identifier of a certificate's subject key,
// the SHA-256 digest of its SubjectPublicKeyInfo.
func CertificateKeyID(der []byte) ([]byte, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, status.Errorf(status.InvalidCertificate, "%w", err)
	}
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return sum[:], nil
}

func parsePrivate(der []byte) (*ecdsa.PrivateKey, error) {
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		if key.Curve != elliptic.P256() {
			return nil, status.Errorf(status.InvalidParameter, "unsupported curve %s", key.Curve.Params().Name)
		}
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, status.Errorf(status.InvalidParameter, "parsing private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, status.Errorf(status.InvalidParameter, "unsupported private key type %T", parsed)
	}
	return key, nil
}

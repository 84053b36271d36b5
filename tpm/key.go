// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm

import (
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

const coordSize = 32

// The storage root key wraps every generated key slot. It is a primary key,
// so the same owner seed and template always produce the same key and it
// never needs to be persisted.
var srkTemplate = tpm2.TPMTPublic{
	Type:    tpm2.TPMAlgRSA,
	NameAlg: tpm2.TPMAlgSHA256,
	ObjectAttributes: tpm2.TPMAObject{
		FixedTPM:            true,
		FixedParent:         true,
		SensitiveDataOrigin: true,
		UserWithAuth:        true,
		NoDA:                true,
		Restricted:          true,
		Decrypt:             true,
	},
	Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgRSA,
		&tpm2.TPMSRSAParms{
			Symmetric: tpm2.TPMTSymDefObject{
				Algorithm: tpm2.TPMAlgAES,
				KeyBits:   tpm2.NewTPMUSymKeyBits(tpm2.TPMAlgAES, tpm2.TPMKeyBits(128)),
				Mode:      tpm2.NewTPMUSymMode(tpm2.TPMAlgAES, tpm2.TPMAlgCFB),
			},
			Scheme:  tpm2.TPMTRSAScheme{Scheme: tpm2.TPMAlgNull},
			KeyBits: 2048,
		},
	),
}

func eccParms() tpm2.TPMUPublicParms {
	return tpm2.NewTPMUPublicParms(tpm2.TPMAlgECC,
		&tpm2.TPMSECCParms{
			Symmetric: tpm2.TPMTSymDefObject{Algorithm: tpm2.TPMAlgNull},
			Scheme:    tpm2.TPMTECCScheme{Scheme: tpm2.TPMAlgNull},
			CurveID:   tpm2.TPMECCNistP256,
			KDF:       tpm2.TPMTKDFScheme{Scheme: tpm2.TPMAlgNull},
		},
	)
}

// Template of keys generated in the TPM. They can never leave it.
func generatedKeyTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgECC,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true, // Key can never be duplicated
			FixedParent:         true, // Key can never be changed to a new parent
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			SignEncrypt:         true,
		},
		Parameters: eccParms(),
	}
}

// Template of keys loaded from outside the TPM, with the public point
// filled in.
func externalKeyTemplate(raw []byte) (tpm2.TPMTPublic, error) {
	if len(raw) != 1+2*coordSize || raw[0] != 0x04 {
		return tpm2.TPMTPublic{}, fmt.Errorf("expected an uncompressed P-256 point")
	}
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgECC,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			UserWithAuth: true,
			SignEncrypt:  true,
		},
		Parameters: eccParms(),
		Unique: tpm2.NewTPMUPublicID(tpm2.TPMAlgECC,
			&tpm2.TPMSECCPoint{
				X: tpm2.TPM2BECCParameter{Buffer: raw[1 : 1+coordSize]},
				Y: tpm2.TPM2BECCParameter{Buffer: raw[1+coordSize:]},
			},
		),
	}, nil
}

// Reads the uncompressed point of an ECC public area.
func rawPublic(pub *tpm2.TPMTPublic) ([]byte, error) {
	detail, err := pub.Parameters.ECCDetail()
	if err != nil {
		return nil, fmt.Errorf("ECC params: %w", err)
	}
	if detail.CurveID != tpm2.TPMECCNistP256 {
		return nil, fmt.Errorf("unsupported curve %#x", detail.CurveID)
	}
	point, err := pub.Unique.ECC()
	if err != nil {
		return nil, fmt.Errorf("ECC pubkey: %w", err)
	}
	if len(point.X.Buffer) > coordSize || len(point.Y.Buffer) > coordSize {
		return nil, fmt.Errorf("invalid ECC point size")
	}

	// Coordinates may have had leading zeros trimmed
	raw := make([]byte, 1+2*coordSize)
	raw[0] = 0x04
	copy(raw[1+coordSize-len(point.X.Buffer):1+coordSize], point.X.Buffer)
	copy(raw[1+2*coordSize-len(point.Y.Buffer):], point.Y.Buffer)
	return raw, nil
}

func sensitive(scalar []byte) tpm2.TPM2BSensitive {
	return tpm2.New2B(tpm2.TPMTSensitive{
		SensitiveType: tpm2.TPMAlgECC,
		Sensitive: tpm2.NewTPMUSensitiveComposite(tpm2.TPMAlgECC,
			&tpm2.TPM2BECCParameter{Buffer: scalar},
		),
	})
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package pal

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/fido-device-onboard/go-fcc/status"
)

// Largest HKDF-SHA256 output
const maxExpand = 255 * sha256.Size

var drbgInfo = []byte("fcc entropy")

// Reader returns a source of random bytes for key generation. Once entropy
// has been injected, output is expanded with HKDF-SHA256 from the injected
// seed and a fresh salt from the system source per read, so neither source
// alone determines it. Without injected entropy Reader is the system source.
func (p *Platform) Reader() io.Reader { return drbg{p} }

type drbg struct{ p *Platform }

func (d drbg) Read(b []byte) (int, error) {
	seed, err := d.p.Store.Read(entropyName)
	switch status.Of(err) {
	case status.Success:
	case status.ItemNotFound:
		return rand.Read(b)
	default:
		return 0, fmt.Errorf("reading entropy seed: %w", err)
	}

	for n := 0; n < len(b); {
		chunk := min(len(b)-n, maxExpand)
		var salt [sha256.Size]byte
		if _, err := rand.Read(salt[:]); err != nil {
			return n, err
		}
		if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt[:], drbgInfo), b[n:n+chunk]); err != nil {
			return n, err
		}
		n += chunk
	}
	return len(b), nil
}

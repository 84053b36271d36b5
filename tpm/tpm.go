// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package tpm implements a TPM 2.0 key slot backend, root of trust storage in
// TPM NV memory and the TPM security lifecycle reset used by a full factory
// reset.
package tpm

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxtpm"
)

// TPM is a TPM command transport.
type TPM = transport.TPM

// Closer is a TPM command transport which must be closed.
type Closer = transport.TPMCloser

// SimulatorPath selects an in-process TPM simulator in Open.
const SimulatorPath = "simulator"

// Open will open a TPM device at the given path or, if path is
// SimulatorPath, start a TPM simulator with a fixed seed.
//
// Clients should use /dev/tpmrm0 because using /dev/tpm0 requires more
// extensive resource management that the kernel already handles for us
// when using the kernel resource manager.
func Open(path string) (Closer, error) {
	switch {
	case path == SimulatorPath:
		slog.Warn("using an insecure TPM simulator, key material is not protected")
		sim, err := simulator.GetWithFixedSeedInsecure(8086)
		if err != nil {
			return nil, fmt.Errorf("error starting TPM simulator: %w", err)
		}
		return transport.FromReadWriteCloser(sim), nil
	case strings.HasPrefix(path, "/dev/tpmrm"):
		return linuxtpm.Open(path)
	case strings.HasPrefix(path, "/dev/tpm"):
		slog.Warn("direct use of the TPM can lead to resource exhaustion, use a TPM resource manager instead")
		return linuxtpm.Open(path)
	default:
		return nil, fmt.Errorf("unsupported TPM device path: %s", path)
	}
}

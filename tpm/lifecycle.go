// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm

import (
	"fmt"
	"log/slog"

	"github.com/google/go-tpm/tpm2"
)

// Lifecycle returns a TPM to its empty state with TPM2_Clear. This changes
// the owner seed, so every key wrapped by the storage root key and every
// owner NV index, including the root of trust, is lost.
type Lifecycle struct {
	TPM TPM

	// Auth is the lockout hierarchy password. It is empty on a fresh TPM.
	Auth []byte
}

// Reset clears the TPM.
func (l *Lifecycle) Reset() error {
	slog.Info("tpm: clearing owner hierarchy")
	if _, err := (tpm2.Clear{
		AuthHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHLockout,
			Auth:   tpm2.PasswordAuth(l.Auth),
		},
	}).Execute(l.TPM); err != nil {
		return fmt.Errorf("error calling TPM2_Clear: %w", err)
	}
	return nil
}

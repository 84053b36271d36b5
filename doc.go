// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package fcc implements a factory configurator client: it provisions the
// credentials an embedded device needs before it can connect to a device
// management service and verifies that the device is completely configured.
//
// A [Provisioner] is built from its collaborators with [New]. [Provisioner.Init]
// returns a [Session], which carries every provisioning operation, so an
// operation cannot be called before initialization. A session ends with
// [Provisioner.Finalize]; [Session.FullReset] clears all provisioned state.
//
// Credentials are addressed by the well-known names in this package. Keys are
// routed to a [keys.Storage] and certificates and configuration values to a
// [storage.Store]. [Session.Verify] checks them in a fixed order and stops at
// the first failing category, leaving per item diagnostics behind that are
// returned by [Session.Diagnostics].
//
// Nothing in this package is safe for concurrent use. Callers serialize
// access to a Provisioner and its Session.
package fcc

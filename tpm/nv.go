// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm

import (
	"crypto"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/google/go-tpm/tpm2"

	"github.com/fido-device-onboard/go-fcc/status"
)

// RootOfTrustIndex is the default owner NV index of the device root of
// trust.
const RootOfTrustIndex = 0x01800FCC

// RootOfTrust stores the device root of trust in TPM NV memory, bound to a
// PCR policy. The index is written once; only a TPM clear removes it.
type RootOfTrust struct {
	TPM TPM

	// Index defaults to RootOfTrustIndex.
	Index uint32

	// PCRs defaults to the secure boot state in PCR 7.
	PCRs PCRList
}

func (r *RootOfTrust) pcrs() PCRList {
	if len(r.PCRs) == 0 {
		return PCRList{crypto.SHA256: []int{7}}
	}
	return r.PCRs
}

func (r *RootOfTrust) index() tpm2.TPMHandle {
	if r.Index == 0 {
		return RootOfTrustIndex
	}
	return tpm2.TPMHandle(r.Index)
}

// Read returns the root of trust. An undefined index is reported as
// [status.ItemNotFound] and a PCR policy failure as [status.RoTError].
func (r *RootOfTrust) Read() ([]byte, error) {
	pub, err := readPublicNV(r.TPM, r.index())
	if err != nil {
		return nil, status.Errorf(status.ItemNotFound, "NV index %#x: %w", uint32(r.index()), err)
	}

	auth, done, err := r.pcrs().policy(r.TPM)
	if err != nil {
		return nil, status.Errorf(status.RoTError, "%w", err)
	}
	defer func() { _ = done() }()

	nv, err := namedNV(pub)
	if err != nil {
		return nil, status.Errorf(status.RoTError, "%w", err)
	}
	rsp, err := tpm2.NVRead{
		AuthHandle: tpm2.AuthHandle{Handle: nv.Handle, Name: nv.Name, Auth: auth},
		NVIndex:    nv,
		Size:       pub.DataSize,
	}.Execute(r.TPM)
	if err != nil {
		return nil, status.Errorf(status.RoTError, "error calling TPM2_NV_Read: %w", err)
	}
	return rsp.Data.Buffer, nil
}

// Write defines the NV index and stores the root of trust in it. If the
// index is already defined, it fails with [status.ItemExists].
func (r *RootOfTrust) Write(data []byte) error {
	if len(data) == 0 || len(data) > math.MaxUint16 {
		return status.Errorf(status.InvalidParameter, "root of trust is %d bytes", len(data))
	}
	if _, err := readPublicNV(r.TPM, r.index()); err == nil {
		return status.Errorf(status.ItemExists, "NV index %#x", uint32(r.index()))
	}

	auth, done, err := r.pcrs().policy(r.TPM)
	if err != nil {
		return status.Errorf(status.RoTError, "%w", err)
	}
	defer func() { _ = done() }()

	digest, err := tpm2.PolicyGetDigest{PolicySession: auth.Handle()}.Execute(r.TPM)
	if err != nil {
		return status.Errorf(status.RoTError, "error calling TPM2_PolicyGetDigest: %w", err)
	}
	pub := &tpm2.TPMSNVPublic{
		NVIndex:    r.index(),
		NameAlg:    tpm2.TPMAlgSHA256,
		Attributes: nvAttr,
		AuthPolicy: digest.PolicyDigest,
		DataSize:   uint16(len(data)),
	}
	if _, err := (tpm2.NVDefineSpace{
		AuthHandle: tpm2.TPMRHOwner,
		PublicInfo: tpm2.New2B(*pub),
	}).Execute(r.TPM); err != nil {
		return status.Errorf(status.RoTError, "error calling TPM2_NV_DefineSpace: %w", err)
	}

	if err := writeNV(r.TPM, pub, auth, data); err != nil {
		// An empty index would block every later write
		if uerr := undefineNV(r.TPM, pub); uerr != nil {
			return status.Errorf(status.RoTError, "%w (undefine: %w)", err, uerr)
		}
		return status.Errorf(status.RoTError, "%w", err)
	}
	return nil
}

var nvAttr = tpm2.TPMANV{
	OwnerRead:   true,
	OwnerWrite:  true,
	PolicyRead:  true,
	PolicyWrite: true,
}

func readPublicNV(t TPM, index tpm2.TPMHandle) (*tpm2.TPMSNVPublic, error) {
	rsp, err := tpm2.NVReadPublic{NVIndex: index}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("error calling TPM2_NV_ReadPublic: %w", err)
	}
	pub, err := rsp.NVPublic.Contents()
	if err != nil {
		return nil, fmt.Errorf("error getting NV public contents: %w", err)
	}
	return pub, nil
}

func namedNV(pub *tpm2.TPMSNVPublic) (tpm2.NamedHandle, error) {
	name, err := tpm2.NVName(pub)
	if err != nil {
		return tpm2.NamedHandle{}, fmt.Errorf("error calculating name of NV index: %w", err)
	}
	return tpm2.NamedHandle{Handle: pub.NVIndex, Name: *name}, nil
}

func writeNV(t TPM, pub *tpm2.TPMSNVPublic, auth tpm2.Session, data []byte) error {
	nv, err := namedNV(pub)
	if err != nil {
		return err
	}
	if _, err := (tpm2.NVWrite{
		AuthHandle: tpm2.AuthHandle{Handle: nv.Handle, Name: nv.Name, Auth: auth},
		NVIndex:    nv,
		Data:       tpm2.TPM2BMaxNVBuffer{Buffer: data},
	}).Execute(t); err != nil {
		return fmt.Errorf("error calling TPM2_NV_Write: %w", err)
	}
	return nil
}

// Policy auth is only possible with platform auth and
// TPM2_NV_UndefineSpaceSpecial, so the owner undefines.
func undefineNV(t TPM, pub *tpm2.TPMSNVPublic) error {
	nv, err := namedNV(pub)
	if err != nil {
		return err
	}
	if _, err := (tpm2.NVUndefineSpace{
		AuthHandle: tpm2.TPMRHOwner,
		NVIndex:    nv,
	}).Execute(t); err != nil {
		return fmt.Errorf("error calling TPM2_NV_UndefineSpace: %w", err)
	}
	return nil
}

// PCRList selects the PCRs an NV policy is bound to, per hash bank. A bank
// with no PCR indexes selects all 24.
type PCRList map[crypto.Hash][]int

var pcrBanks = map[crypto.Hash]tpm2.TPMIAlgHash{
	crypto.SHA1:   tpm2.TPMAlgSHA1,
	crypto.SHA256: tpm2.TPMAlgSHA256,
	crypto.SHA384: tpm2.TPMAlgSHA384,
	crypto.SHA512: tpm2.TPMAlgSHA512,
}

// Banks are selected in a fixed order so the policy digest is stable.
func (pcrs PCRList) selection() tpm2.TPMLPCRSelection {
	var sel tpm2.TPMLPCRSelection
	for _, hash := range slices.Sorted(maps.Keys(pcrs)) {
		alg, ok := pcrBanks[hash]
		if !ok {
			continue
		}
		mask := make([]byte, 3)
		if len(pcrs[hash]) == 0 {
			mask[0], mask[1], mask[2] = 0xFF, 0xFF, 0xFF
		}
		for _, i := range pcrs[hash] {
			if 0 <= i && i < 24 {
				mask[i/8] |= 1 << (i % 8)
			}
		}
		sel.PCRSelections = append(sel.PCRSelections, tpm2.TPMSPCRSelection{
			Hash:      alg,
			PCRSelect: mask,
		})
	}
	return sel
}

// policy starts a policy session satisfied by the current values of the
// selected PCRs. The returned func flushes the session.
func (pcrs PCRList) policy(t TPM) (tpm2.Session, func() error, error) {
	sel := pcrs.selection()
	read, err := tpm2.PCRRead{PCRSelectionIn: sel}.Execute(t)
	if err != nil {
		return nil, nil, fmt.Errorf("error calling TPM2_PCR_Read: %w", err)
	}
	h := crypto.SHA256.New()
	for _, digest := range read.PCRValues.Digests {
		_, _ = h.Write(digest.Buffer)
	}

	sess, done, err := tpm2.PolicySession(t, tpm2.TPMAlgSHA256, 16)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating policy session: %w", err)
	}
	if _, err := (tpm2.PolicyPCR{
		PolicySession: sess.Handle(),
		PcrDigest:     tpm2.TPM2BDigest{Buffer: h.Sum(nil)},
		Pcrs:          sel,
	}).Execute(t); err != nil {
		_ = done()
		return nil, nil, fmt.Errorf("error calling TPM2_PolicyPCR: %w", err)
	}
	return sess, done, nil
}

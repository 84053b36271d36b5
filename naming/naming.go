// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package naming derives the canonical storage names shared by the secure
// store and the key slot backends.
//
// A canonical name has the form
//
//	<origin>.<kind>.<logical name>
//
// so items of different kinds or origins never collide, even when callers
// reuse a logical name. Reserved names used internally by the configurator
// live under a prefix no canonical name can start with.
package naming

import (
	"github.com/fido-device-onboard/go-fcc/status"
)

// MaxNameSize is the upper bound of a canonical name in bytes.
const MaxNameSize = 100

// MaxLogicalNameSize is the longest logical name that fits in a canonical
// name with any origin and kind tag.
const MaxLogicalNameSize = MaxNameSize - len("fac.") - len("prv.")

const reservedPrefix = "sys."

// Kind is the type of a stored credential item.
type Kind uint8

// Item kinds
const (
	PrivateKey Kind = iota
	PublicKey
	Certificate
	Config
)

func (k Kind) tag() string {
	switch k {
	case PrivateKey:
		return "prv"
	case PublicKey:
		return "pub"
	case Certificate:
		return "crt"
	case Config:
		return "cfg"
	default:
		return ""
	}
}

// IsKey reports whether items of this kind are owned by key storage.
func (k Kind) IsKey() bool { return k == PrivateKey || k == PublicKey }

func (k Kind) String() string {
	switch k {
	case PrivateKey:
		return "private key"
	case PublicKey:
		return "public key"
	case Certificate:
		return "certificate"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Origin tags who provisioned an item.
type Origin uint8

// Origins
const (
	// Factory items are provisioned at manufacturing.
	Factory Origin = iota
	// User items are provisioned later by an operator or cloud service.
	User
)

func (o Origin) tag() string {
	switch o {
	case Factory:
		return "fac"
	case User:
		return "usr"
	default:
		return ""
	}
}

func (o Origin) String() string {
	switch o {
	case Factory:
		return "factory"
	case User:
		return "user"
	default:
		return "unknown"
	}
}

// Build returns the canonical name for a logical name of the given kind and
// origin. Names that are empty, too long, or contain characters outside
// [A-Za-z0-9._-] are rejected with [status.InvalidParameter].
func Build(kind Kind, origin Origin, name string) (string, error) {
	kindTag, originTag := kind.tag(), origin.tag()
	if kindTag == "" {
		return "", status.Errorf(status.InvalidParameter, "unsupported item kind %d", kind)
	}
	if originTag == "" {
		return "", status.Errorf(status.InvalidParameter, "unsupported origin %d", origin)
	}
	if err := validate(name); err != nil {
		return "", err
	}
	return originTag + "." + kindTag + "." + name, nil
}

// Reserved returns the canonical name of an internal item.
func Reserved(name string) string { return reservedPrefix + name }

func validate(name string) error {
	if name == "" {
		return status.Errorf(status.InvalidParameter, "empty item name")
	}
	if len(name) > MaxLogicalNameSize {
		return status.Errorf(status.InvalidParameter, "item name is %d bytes, max is %d", len(name), MaxLogicalNameSize)
	}
	for i := 0; i < len(name); i++ {
		switch c := name[i]; {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return status.Errorf(status.InvalidParameter, "invalid character %q in item name %q", c, name)
		}
	}
	return nil
}

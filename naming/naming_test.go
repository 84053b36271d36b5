// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package naming_test

import (
	"strings"
	"testing"

	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
)

var (
	kinds   = []naming.Kind{naming.PrivateKey, naming.PublicKey, naming.Certificate, naming.Config}
	origins = []naming.Origin{naming.Factory, naming.User}
)

func TestBuildDeterministic(t *testing.T) {
	for _, kind := range kinds {
		for _, origin := range origins {
			first, err := naming.Build(kind, origin, "mbed.LwM2MDeviceCert")
			if err != nil {
				t.Fatal(err)
			}
			second, err := naming.Build(kind, origin, "mbed.LwM2MDeviceCert")
			if err != nil {
				t.Fatal(err)
			}
			if first != second {
				t.Errorf("%s/%s: %q != %q", kind, origin, first, second)
			}
		}
	}
}

func TestBuildDistinct(t *testing.T) {
	seen := make(map[string]string)
	for _, kind := range kinds {
		for _, origin := range origins {
			name, err := naming.Build(kind, origin, "key")
			if err != nil {
				t.Fatal(err)
			}
			id := kind.String() + "/" + origin.String()
			if other, ok := seen[name]; ok {
				t.Errorf("%s and %s both map to %q", id, other, name)
			}
			seen[name] = id
			if len(name) > naming.MaxNameSize {
				t.Errorf("%q exceeds max name size", name)
			}
		}
	}

	if r := naming.Reserved("key"); seen[r] != "" {
		t.Errorf("reserved name %q collides with %s", r, seen[r])
	}
}

func TestBuildRejects(t *testing.T) {
	for _, test := range []struct {
		name   string
		kind   naming.Kind
		origin naming.Origin
		input  string
	}{
		{name: "empty", input: ""},
		{name: "oversized", input: strings.Repeat("a", naming.MaxLogicalNameSize+1)},
		{name: "slash", input: "../etc"},
		{name: "space", input: "my key"},
		{name: "kind", kind: naming.Kind(42), input: "key"},
		{name: "origin", origin: naming.Origin(42), input: "key"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := naming.Build(test.kind, test.origin, test.input); status.Of(err) != status.InvalidParameter {
				t.Fatalf("expected invalid parameter, got %v", err)
			}
		})
	}
}

func TestBuildMaxSize(t *testing.T) {
	name, err := naming.Build(naming.Config, naming.User, strings.Repeat("a", naming.MaxLogicalNameSize))
	if err != nil {
		t.Fatal(err)
	}
	if len(name) != naming.MaxNameSize {
		t.Errorf("expected %d byte name, got %d", naming.MaxNameSize, len(name))
	}
}

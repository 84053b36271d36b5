// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/fido-device-onboard/go-fcc"
	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/pal"
	"github.com/fido-device-onboard/go-fcc/sqlite"
	"github.com/fido-device-onboard/go-fcc/tpm"
)

// device is a configurator opened on the local secure store and, if
// configured, a TPM.
type device struct {
	db  *sqlite.DB
	tpm tpm.Closer
	p   *fcc.Provisioner
}

func openDevice(cCtx *cli.Context) (_ *device, err error) {
	db, err := sqlite.Open(cCtx.String(flagDB.Name), cCtx.String(flagPassword.Name))
	if err != nil {
		return nil, fmt.Errorf("error opening secure store: %w", err)
	}
	d := &device{db: db}
	defer func() {
		if err != nil {
			_ = d.close()
		}
	}()

	log := slog.Default().With("uid", uuid.NewString())
	platform := &pal.Platform{Store: db}
	conf := fcc.Config{
		Store:    db,
		Platform: platform,
		Log:      log,
	}

	if path := cCtx.String(flagTPM.Name); path != "" {
		if d.tpm, err = tpm.Open(path); err != nil {
			return nil, err
		}
		platform.RootOfTrust = &tpm.RootOfTrust{TPM: d.tpm}
		conf.Lifecycle = &tpm.Lifecycle{TPM: d.tpm}
		conf.Keys = keys.NewSlotStorage(tpm.NewKeySlots(d.tpm, db))
	} else {
		switch ks := cCtx.String(flagKeyStorage.Name); ks {
		case "slot":
			conf.Keys = keys.NewSlotStorage(keyslot.NewSoftware(db, platform.Reader()))
		case "store":
			conf.Keys = keys.NewStoreStorage(db, platform.Reader())
		default:
			return nil, fmt.Errorf("unsupported key storage %q", ks)
		}
	}
	log.Debug("opened device", "db", cCtx.String(flagDB.Name), "tpm", cCtx.String(flagTPM.Name))

	if d.p, err = fcc.New(conf); err != nil {
		return nil, err
	}
	return d, nil
}

// run opens a session, calls fn and finalizes the configurator.
func (d *device) run(fn func(*fcc.Session) error) error {
	s, err := d.p.Init()
	if err != nil {
		return fmt.Errorf("error initializing configurator: %w", err)
	}
	fnErr := fn(s)
	if err := d.p.Finalize(); err != nil {
		return errors.Join(fnErr, fmt.Errorf("error finalizing configurator: %w", err))
	}
	return fnErr
}

func (d *device) close() error {
	var errs []error
	if d.tpm != nil {
		errs = append(errs, d.tpm.Close())
	}
	errs = append(errs, d.db.Close())
	return errors.Join(errs...)
}

func withSession(cCtx *cli.Context, fn func(*fcc.Session) error) (err error) {
	d, err := openDevice(cCtx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, d.close()) }()
	return d.run(fn)
}

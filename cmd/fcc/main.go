// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package main implements a factory configurator tool which provisions,
// verifies and resets a device.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"hermannm.dev/devlog"

	"github.com/fido-device-onboard/go-fcc"
)

var flagDebug *cli.BoolFlag = &cli.BoolFlag{
	Name:  "debug",
	Value: false,
	Usage: "Run subcommand with debug enabled",
}

var flagDB *cli.StringFlag = &cli.StringFlag{
	Name:  "db",
	Value: "fcc.db",
	Usage: "SQLite secure store path",
}

var flagPassword *cli.StringFlag = &cli.StringFlag{
	Name:    "password",
	Value:   "",
	Usage:   "Secure store encryption password",
	EnvVars: []string{"FCC_PASSWORD"},
}

var flagTPM *cli.StringFlag = &cli.StringFlag{
	Name:  "tpm",
	Value: "",
	Usage: "Keep keys and the root of trust in a TPM: /dev/tpmrm0 or simulator",
}

var flagKeyStorage *cli.StringFlag = &cli.StringFlag{
	Name:  "key-storage",
	Value: "slot",
	Usage: "Software key storage without a TPM: slot or store",
}

var flagManifest *cli.StringFlag = &cli.StringFlag{
	Name:     "manifest",
	Required: true,
	Usage:    "Provisioning manifest (YAML)",
}

// setupLogging installs a devlog handler on stderr at the level --debug selects.
func setupLogging(cCtx *cli.Context) error {
	level := slog.LevelInfo
	if cCtx.Bool(flagDebug.Name) {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{
		Level: level,
	})))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "fcc",
		Usage: "Factory configurator client",
		Flags: []cli.Flag{flagDebug, flagDB, flagPassword, flagTPM, flagKeyStorage},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "Write a manifest to the device",
				Flags: []cli.Flag{flagManifest},
				Action: func(cCtx *cli.Context) error {
					m, err := loadManifest(cCtx.String(flagManifest.Name))
					if err != nil {
						return err
					}
					return withSession(cCtx, m.apply)
				},
			},
			{
				Name:  "verify",
				Usage: "Check that the device is completely configured",
				Action: func(cCtx *cli.Context) error {
					return withSession(cCtx, func(s *fcc.Session) error {
						err := s.Verify()
						records, derr := s.Diagnostics()
						if derr != nil {
							return errors.Join(err, derr)
						}
						for _, r := range records {
							fmt.Println(r)
						}
						if err != nil {
							return err
						}
						fmt.Println("device is configured")
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "Print the factory configuration state",
				Action: func(cCtx *cli.Context) error {
					return withSession(cCtx, func(s *fcc.Session) error {
						disabled, err := s.IsFactoryDisabled()
						if err != nil {
							return err
						}
						fmt.Printf("session: %s\nfactory disabled: %t\n", s.ID(), disabled)
						return nil
					})
				},
			},
			{
				Name:  "bind",
				Usage: "Record the trust anchor of the provisioned server CA",
				Action: func(cCtx *cli.Context) error {
					return withSession(cCtx, func(s *fcc.Session) error { return s.BindTrustAnchor() })
				},
			},
			{
				Name:  "disable",
				Usage: "End factory configuration",
				Action: func(cCtx *cli.Context) error {
					return withSession(cCtx, func(s *fcc.Session) error { return s.SetFactoryDisabled() })
				},
			},
			{
				Name:  "reset",
				Usage: "Erase all stored items, keys and platform secrets",
				Action: func(cCtx *cli.Context) error {
					return withSession(cCtx, func(s *fcc.Session) error { return s.FullReset() })
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fcc failed", "error", err)
		os.Exit(1)
	}
}

// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcctest

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
)

// TestingLog creates a testing logger.
func TestingLog(t *testing.T) io.Writer { return (*errorLog)(t) }

type errorLog testing.T

// Write implements io.Writer.
func (t *errorLog) Write(p []byte) (int, error) {
	(*testing.T)(t).Helper()
	t.Log(string(bytes.TrimSpace(p)))
	return len(p), nil
}

// Logger returns a debug level structured logger writing to the test log.
func Logger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(TestingLog(t), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// SetDefaultLogger routes the default structured logger to the test log for
// the duration of the test.
func SetDefaultLogger(t *testing.T) {
	prev := slog.Default()
	slog.SetDefault(Logger(t))
	t.Cleanup(func() { slog.SetDefault(prev) })
}

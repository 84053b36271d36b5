// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package keys

import "log/slog"

// tx records completed backend mutations so they can be undone. Unless
// commit is called, rollback undoes them in reverse order. It is used as
//
//	var t tx
//	defer t.rollback()
//	... t.onRollback(...) after each mutation ...
//	t.commit()
type tx struct {
	steps     []undoStep
	committed bool
}

type undoStep struct {
	desc string
	undo func() error
}

func (t *tx) onRollback(desc string, undo func() error) {
	t.steps = append(t.steps, undoStep{desc: desc, undo: undo})
}

func (t *tx) commit() { t.committed = true }

// Undo failures are logged and otherwise ignored, so the caller reports the
// error that caused the rollback.
func (t *tx) rollback() {
	if t.committed {
		return
	}
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		if err := step.undo(); err != nil {
			slog.Error("keys: rollback failed, orphaned key left behind", "step", step.desc, "error", err)
			continue
		}
		slog.Debug("keys: rolled back", "step", step.desc)
	}
	t.steps = nil
}

package state

import (
	"context"
	"log/slog"
)

// SetPaused switches module on or off.
func (t *Txn) SetPaused(module string, paused bool) error {
	key := pauseKey(normalizeRole(module))
	if !paused {
		return t.del(key)
	}
	return t.put(key, []byte{1})
}

// Paused reports the buffered pause flag of module.
func (t *Txn) Paused(module string) (bool, error) {
	data, err := t.get(pauseKey(normalizeRole(module)))
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

// IsPaused reports the committed pause flag of module. Lookup failures are
// treated as paused.
func (m *Manager) IsPaused(module string) bool {
	paused := false
	err := m.View(context.Background(), func(txn *Txn) error {
		var err error
		paused, err = txn.Paused(module)
		return err
	})
	if err != nil {
		slog.Warn("pause lookup failed", slog.String("module", module), slog.Any("error", err))
		return true
	}
	return paused
}

package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned when governance has halted a module. Callers
// match it with errors.Is; the wrapped message names the module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause flag of a module. Implementations should treat
// an unreadable flag as paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is halted. A nil view or an
// empty module name never blocks.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// PauseSet is a static PauseView, used by tools and tests that do not carry
// a state backend.
type PauseSet map[string]bool

// IsPaused implements PauseView.
func (s PauseSet) IsPaused(module string) bool {
	return s[strings.TrimSpace(module)]
}

package state

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// RoleDeleverage allows its members to deleverage any position.
const RoleDeleverage = "deleverage"

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// GrantRole adds addr to role.
func (t *Txn) GrantRole(role string, addr common.Address) error {
	key := roleKey(normalizeRole(role))
	members, err := t.loadAddresses(key)
	if err != nil {
		return err
	}
	members, added := appendAddress(members, addr)
	if !added {
		return nil
	}
	return t.storeAddresses(key, members)
}

// RevokeRole removes addr from role.
func (t *Txn) RevokeRole(role string, addr common.Address) error {
	key := roleKey(normalizeRole(role))
	members, err := t.loadAddresses(key)
	if err != nil {
		return err
	}
	return t.storeAddresses(key, removeAddress(members, addr))
}

// HasRole reports whether addr is a member of role.
func (t *Txn) HasRole(role string, addr common.Address) (bool, error) {
	members, err := t.loadAddresses(roleKey(normalizeRole(role)))
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member == addr {
			return true, nil
		}
	}
	return false, nil
}

// CanDeleverage lets owners deleverage themselves and members of
// RoleDeleverage deleverage anyone, based on committed state.
func (m *Manager) CanDeleverage(caller, owner common.Address) bool {
	if caller == (common.Address{}) {
		return false
	}
	if caller == owner {
		return true
	}
	allowed := false
	err := m.View(context.Background(), func(txn *Txn) error {
		var err error
		allowed, err = txn.HasRole(RoleDeleverage, caller)
		return err
	})
	if err != nil {
		slog.Warn("role lookup failed", slog.String("role", RoleDeleverage), slog.Any("error", err))
		return false
	}
	return allowed
}

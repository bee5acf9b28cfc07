package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"ripecore/native/lending"
	"ripecore/storage"
)

var (
	errBalanceOverflow     = errors.New("state: balance overflows 256 bits")
	errNegativeAmount      = errors.New("state: amount must not be negative")
	errInsufficientBalance = errors.New("state: insufficient balance")
	errTxnClosed           = errors.New("state: transaction already closed")
)

// Manager persists the collateral, debt, reserve pool, auction and reward
// state the liquidation engine operates on. Transactions buffer their writes
// and commit them through a single atomic batch.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write-buffered transaction.
func (m *Manager) Begin(ctx context.Context) (lending.Tx, error) {
	txn, err := m.Txn(ctx)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Txn opens a write-buffered transaction returning the concrete type, which
// also exposes seeding and inspection helpers.
func (m *Manager) Txn(ctx context.Context) (*Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Txn{db: m.db, writes: make(map[string][]byte)}, nil
}

// View runs fn against a transaction that is always discarded.
func (m *Manager) View(ctx context.Context, fn func(*Txn) error) error {
	txn, err := m.Txn(ctx)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return fn(txn)
}

// Update runs fn in a transaction and commits it when fn succeeds.
func (m *Manager) Update(ctx context.Context, fn func(*Txn) error) error {
	txn, err := m.Txn(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

// Txn overlays buffered writes on top of the committed database. A nil
// buffered value marks a deletion.
type Txn struct {
	db     storage.Database
	writes map[string][]byte
	closed bool
}

var _ lending.Tx = (*Txn)(nil)

func (t *Txn) get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, errTxnClosed
	}
	if value, ok := t.writes[string(key)]; ok {
		return value, nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (t *Txn) put(key, value []byte) error {
	if t.closed {
		return errTxnClosed
	}
	if value == nil {
		value = []byte{}
	}
	t.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (t *Txn) del(key []byte) error {
	if t.closed {
		return errTxnClosed
	}
	t.writes[string(key)] = nil
	return nil
}

// Commit writes every buffered mutation in one batch, in key order.
func (t *Txn) Commit() error {
	if t.closed {
		return errTxnClosed
	}
	keys := make([]string, 0, len(t.writes))
	for key := range t.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := make([]storage.Mutation, 0, len(keys))
	for _, key := range keys {
		value := t.writes[key]
		if value == nil {
			batch = append(batch, storage.Mutation{Key: []byte(key), Delete: true})
			continue
		}
		batch = append(batch, storage.Mutation{Key: []byte(key), Value: value})
	}
	if err := t.db.Write(batch); err != nil {
		return err
	}
	t.closed = true
	t.writes = nil
	return nil
}

// Rollback discards the buffered writes. It is safe to call more than once.
func (t *Txn) Rollback() {
	t.closed = true
	t.writes = nil
}

func (t *Txn) loadAmount(key []byte) (*big.Int, error) {
	data, err := t.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	return new(uint256.Int).SetBytes(data).ToBig(), nil
}

func (t *Txn) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return t.del(key)
	}
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return errBalanceOverflow
	}
	return t.put(key, value.Bytes())
}

func (t *Txn) addAmount(key []byte, delta *big.Int) (*big.Int, error) {
	if delta == nil || delta.Sign() < 0 {
		return nil, errNegativeAmount
	}
	current, err := t.loadAmount(key)
	if err != nil {
		return nil, err
	}
	current.Add(current, delta)
	if err := t.storeAmount(key, current); err != nil {
		return nil, err
	}
	return current, nil
}

func (t *Txn) subAmount(key []byte, delta *big.Int) (*big.Int, error) {
	if delta == nil || delta.Sign() < 0 {
		return nil, errNegativeAmount
	}
	current, err := t.loadAmount(key)
	if err != nil {
		return nil, err
	}
	if current.Cmp(delta) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", errInsufficientBalance, current, delta)
	}
	current.Sub(current, delta)
	if err := t.storeAmount(key, current); err != nil {
		return nil, err
	}
	return current, nil
}

func (t *Txn) loadList(key []byte, out interface{}) error {
	data, err := t.get(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

func (t *Txn) storeList(key []byte, list interface{}, empty bool) error {
	if empty {
		return t.del(key)
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return t.put(key, encoded)
}

func (t *Txn) loadAddresses(key []byte) ([]common.Address, error) {
	var list []common.Address
	if err := t.loadList(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (t *Txn) storeAddresses(key []byte, list []common.Address) error {
	return t.storeList(key, list, len(list) == 0)
}

func appendAddress(list []common.Address, addr common.Address) ([]common.Address, bool) {
	for _, existing := range list {
		if existing == addr {
			return list, false
		}
	}
	return append(list, addr), true
}

func removeAddress(list []common.Address, addr common.Address) []common.Address {
	out := list[:0]
	for _, existing := range list {
		if existing != addr {
			out = append(out, existing)
		}
	}
	return out
}

// Credit increases holder's plain balance of asset.
func (t *Txn) Credit(holder, asset common.Address, amount *big.Int) error {
	_, err := t.addAmount(balanceKey(holder, asset), amount)
	return err
}

// Balance returns holder's plain balance of asset.
func (t *Txn) Balance(holder, asset common.Address) (*big.Int, error) {
	return t.loadAmount(balanceKey(holder, asset))
}

// Burn records amount of asset as destroyed.
func (t *Txn) Burn(asset common.Address, amount *big.Int) error {
	_, err := t.addAmount(burnedKey(asset), amount)
	return err
}

// Burned returns the cumulative amount of asset destroyed.
func (t *Txn) Burned(asset common.Address) (*big.Int, error) {
	return t.loadAmount(burnedKey(asset))
}

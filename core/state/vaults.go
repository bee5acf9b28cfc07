package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/native/lending"
)

type holdingEntry struct {
	Vault uint64
	Asset common.Address
}

func (t *Txn) loadHoldings(owner common.Address) ([]holdingEntry, error) {
	var entries []holdingEntry
	if err := t.loadList(holdingsKey(owner), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Holdings lists owner's non-zero vault balances in deposit order.
func (t *Txn) Holdings(owner common.Address) ([]lending.Holding, error) {
	entries, err := t.loadHoldings(owner)
	if err != nil {
		return nil, err
	}
	out := make([]lending.Holding, 0, len(entries))
	for _, entry := range entries {
		vault := lending.VaultID(entry.Vault)
		amount, err := t.VaultBalance(owner, vault, entry.Asset)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			continue
		}
		out = append(out, lending.Holding{Vault: vault, Asset: entry.Asset, Amount: amount})
	}
	return out, nil
}

// VaultBalance returns owner's balance of asset inside vault.
func (t *Txn) VaultBalance(owner common.Address, vault lending.VaultID, asset common.Address) (*big.Int, error) {
	return t.loadAmount(vaultBalanceKey(vault, asset, owner))
}

// VaultTotal returns the sum of all depositor balances of asset in vault.
func (t *Txn) VaultTotal(vault lending.VaultID, asset common.Address) (*big.Int, error) {
	return t.loadAmount(vaultTotalKey(vault, asset))
}

// Deposit credits owner's vault balance, registering the holding, the
// depositor and the vault asset on first use.
func (t *Txn) Deposit(owner common.Address, vault lending.VaultID, asset common.Address, amount *big.Int) error {
	if vault == 0 {
		return fmt.Errorf("state: vault id required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return errNegativeAmount
	}
	before, err := t.VaultBalance(owner, vault, asset)
	if err != nil {
		return err
	}
	if _, err := t.addAmount(vaultBalanceKey(vault, asset, owner), amount); err != nil {
		return err
	}
	if _, err := t.addAmount(vaultTotalKey(vault, asset), amount); err != nil {
		return err
	}
	if before.Sign() > 0 {
		return nil
	}
	entries, err := t.loadHoldings(owner)
	if err != nil {
		return err
	}
	entry := holdingEntry{Vault: uint64(vault), Asset: asset}
	present := false
	for _, existing := range entries {
		if existing == entry {
			present = true
			break
		}
	}
	if !present {
		entries = append(entries, entry)
		if err := t.storeList(holdingsKey(owner), entries, false); err != nil {
			return err
		}
	}
	depositors, err := t.loadAddresses(depositorsKey(vault, asset))
	if err != nil {
		return err
	}
	if depositors, added := appendAddress(depositors, owner); added {
		if err := t.storeAddresses(depositorsKey(vault, asset), depositors); err != nil {
			return err
		}
	}
	assets, err := t.loadAddresses(vaultAssetsKey(vault))
	if err != nil {
		return err
	}
	if assets, added := appendAddress(assets, asset); added {
		return t.storeAddresses(vaultAssetsKey(vault), assets)
	}
	return nil
}

// WithdrawFromVault debits owner's vault balance. A balance reaching zero
// drops the holding and the depositor registration.
func (t *Txn) WithdrawFromVault(owner common.Address, vault lending.VaultID, asset common.Address, amount *big.Int) error {
	remaining, err := t.subAmount(vaultBalanceKey(vault, asset, owner), amount)
	if err != nil {
		return fmt.Errorf("withdraw %s from vault %d: %w", asset.Hex(), vault, err)
	}
	if _, err := t.subAmount(vaultTotalKey(vault, asset), amount); err != nil {
		return fmt.Errorf("vault %d total: %w", vault, err)
	}
	if remaining.Sign() > 0 {
		return nil
	}
	return t.dropHolding(owner, vault, asset)
}

func (t *Txn) dropHolding(owner common.Address, vault lending.VaultID, asset common.Address) error {
	entries, err := t.loadHoldings(owner)
	if err != nil {
		return err
	}
	target := holdingEntry{Vault: uint64(vault), Asset: asset}
	kept := entries[:0]
	for _, entry := range entries {
		if entry != target {
			kept = append(kept, entry)
		}
	}
	if err := t.storeList(holdingsKey(owner), kept, len(kept) == 0); err != nil {
		return err
	}
	depositors, err := t.loadAddresses(depositorsKey(vault, asset))
	if err != nil {
		return err
	}
	return t.storeAddresses(depositorsKey(vault, asset), removeAddress(depositors, owner))
}

// PoolAssets lists the assets ever deposited into the pool vault in deposit
// order.
func (t *Txn) PoolAssets(pool lending.VaultID) ([]common.Address, error) {
	return t.loadAddresses(vaultAssetsKey(pool))
}

// PoolReserve returns the total deposits of asset in the pool.
func (t *Txn) PoolReserve(pool lending.VaultID, asset common.Address) (*big.Int, error) {
	return t.VaultTotal(pool, asset)
}

// ReleaseReserve removes amount of asset from the pool, debiting depositors
// pro-rata to their balances. Rounding dust is taken from depositors in
// deposit order so the debits sum exactly to amount.
func (t *Txn) ReleaseReserve(pool lending.VaultID, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errNegativeAmount
	}
	total, err := t.VaultTotal(pool, asset)
	if err != nil {
		return err
	}
	if total.Cmp(amount) < 0 {
		return fmt.Errorf("release from pool %d: %w: have %s, need %s", pool, errInsufficientBalance, total, amount)
	}
	depositors, err := t.loadAddresses(depositorsKey(pool, asset))
	if err != nil {
		return err
	}
	balances := make([]*big.Int, len(depositors))
	shares := make([]*big.Int, len(depositors))
	assigned := big.NewInt(0)
	for i, depositor := range depositors {
		balance, err := t.VaultBalance(depositor, pool, asset)
		if err != nil {
			return err
		}
		balances[i] = balance
		share := new(big.Int).Mul(amount, balance)
		share.Quo(share, total)
		shares[i] = share
		assigned.Add(assigned, share)
	}
	dust := new(big.Int).Sub(amount, assigned)
	for i := range depositors {
		if dust.Sign() == 0 {
			break
		}
		room := new(big.Int).Sub(balances[i], shares[i])
		if room.Sign() == 0 {
			continue
		}
		extra := room
		if extra.Cmp(dust) > 0 {
			extra = new(big.Int).Set(dust)
		}
		shares[i].Add(shares[i], extra)
		dust.Sub(dust, extra)
	}
	if dust.Sign() != 0 {
		return fmt.Errorf("release from pool %d: depositor balances do not cover total", pool)
	}
	for i, depositor := range depositors {
		if shares[i].Sign() == 0 {
			continue
		}
		if err := t.WithdrawFromVault(depositor, pool, asset, shares[i]); err != nil {
			return err
		}
	}
	return nil
}

// AbsorbCollateral books liquidated collateral as claimable by the pool's
// depositors.
func (t *Txn) AbsorbCollateral(pool lending.VaultID, asset common.Address, amount *big.Int) error {
	_, err := t.addAmount(claimsKey(pool, asset), amount)
	return err
}

// PoolClaims returns the collateral of asset absorbed by the pool.
func (t *Txn) PoolClaims(pool lending.VaultID, asset common.Address) (*big.Int, error) {
	return t.loadAmount(claimsKey(pool, asset))
}

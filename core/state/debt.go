package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"ripecore/native/lending"
)

type debtEntry struct {
	Debt          *big.Int
	Terms         lending.DebtTerms
	InLiquidation bool
	UnpaidFees    *big.Int
}

func (t *Txn) loadDebt(owner common.Address) (*debtEntry, error) {
	data, err := t.get(debtKey(owner))
	if err != nil {
		return nil, err
	}
	entry := &debtEntry{Debt: big.NewInt(0), UnpaidFees: big.NewInt(0)}
	if len(data) == 0 {
		return entry, nil
	}
	if err := rlp.DecodeBytes(data, entry); err != nil {
		return nil, fmt.Errorf("decode debt for %s: %w", owner.Hex(), err)
	}
	if entry.Debt == nil {
		entry.Debt = big.NewInt(0)
	}
	if entry.UnpaidFees == nil {
		entry.UnpaidFees = big.NewInt(0)
	}
	return entry, nil
}

func (t *Txn) storeDebt(owner common.Address, entry *debtEntry) error {
	if entry.Debt.Sign() == 0 && entry.UnpaidFees.Sign() == 0 && !entry.InLiquidation && entry.Terms == (lending.DebtTerms{}) {
		return t.del(debtKey(owner))
	}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return t.put(debtKey(owner), encoded)
}

// SetDebt overwrites owner's debt and terms.
func (t *Txn) SetDebt(owner common.Address, debt *big.Int, terms lending.DebtTerms) error {
	if debt == nil || debt.Sign() < 0 {
		return errNegativeAmount
	}
	if err := terms.Validate(); err != nil {
		return err
	}
	entry, err := t.loadDebt(owner)
	if err != nil {
		return err
	}
	entry.Debt = new(big.Int).Set(debt)
	entry.Terms = terms
	return t.storeDebt(owner, entry)
}

// DebtPosition returns owner's debt record.
func (t *Txn) DebtPosition(owner common.Address) (*lending.DebtRecord, error) {
	entry, err := t.loadDebt(owner)
	if err != nil {
		return nil, err
	}
	return &lending.DebtRecord{
		Debt:          new(big.Int).Set(entry.Debt),
		Terms:         entry.Terms,
		InLiquidation: entry.InLiquidation,
	}, nil
}

// UnpaidFees returns the liquidation fees ever added back to owner's debt.
func (t *Txn) UnpaidFees(owner common.Address) (*big.Int, error) {
	entry, err := t.loadDebt(owner)
	if err != nil {
		return nil, err
	}
	return entry.UnpaidFees, nil
}

// ApplyLiquidation reduces the debt by repaid, adds unpaid fees back and sets
// the liquidation flag.
func (t *Txn) ApplyLiquidation(owner common.Address, repaid, unpaidFees *big.Int, inLiquidation bool) error {
	entry, err := t.loadDebt(owner)
	if err != nil {
		return err
	}
	if repaid == nil || unpaidFees == nil || repaid.Sign() < 0 || unpaidFees.Sign() < 0 {
		return errNegativeAmount
	}
	if entry.Debt.Cmp(repaid) < 0 {
		return fmt.Errorf("repay %s exceeds debt %s: %w", repaid, entry.Debt, errInsufficientBalance)
	}
	entry.Debt.Sub(entry.Debt, repaid)
	entry.Debt.Add(entry.Debt, unpaidFees)
	entry.UnpaidFees.Add(entry.UnpaidFees, unpaidFees)
	entry.InLiquidation = inLiquidation && entry.Debt.Sign() > 0
	return t.storeDebt(owner, entry)
}

// ApplyRepayment reduces owner's debt. Clearing the debt clears the
// liquidation flag.
func (t *Txn) ApplyRepayment(owner common.Address, repaid *big.Int) error {
	entry, err := t.loadDebt(owner)
	if err != nil {
		return err
	}
	if repaid == nil || repaid.Sign() < 0 {
		return errNegativeAmount
	}
	if entry.Debt.Cmp(repaid) < 0 {
		return fmt.Errorf("repay %s exceeds debt %s: %w", repaid, entry.Debt, errInsufficientBalance)
	}
	entry.Debt.Sub(entry.Debt, repaid)
	if entry.Debt.Sign() == 0 {
		entry.InLiquidation = false
	}
	return t.storeDebt(owner, entry)
}

package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"ripecore/native/lending"
)

// AuctionRecord is the escrow entry created for auctioned collateral.
type AuctionRecord struct {
	ID            uint64
	Owner         common.Address
	Vault         uint64
	Asset         common.Address
	Amount        *big.Int
	StartDiscount uint64
	MaxDiscount   uint64
	Delay         uint64
	Duration      uint64
}

// StartAuction escrows amount of the owner's collateral under a new auction
// id. The collateral must already have left the vault.
func (t *Txn) StartAuction(owner common.Address, vault lending.VaultID, asset common.Address, amount *big.Int, params lending.AuctionParams) (uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, errNegativeAmount
	}
	raw, err := t.get(auctionCounterKey)
	if err != nil {
		return 0, err
	}
	var last uint64
	if len(raw) == 8 {
		last = binary.BigEndian.Uint64(raw)
	}
	id := last + 1
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], id)
	if err := t.put(auctionCounterKey, counter[:]); err != nil {
		return 0, err
	}
	record := AuctionRecord{
		ID:            id,
		Owner:         owner,
		Vault:         uint64(vault),
		Asset:         asset,
		Amount:        new(big.Int).Set(amount),
		StartDiscount: params.StartDiscount,
		MaxDiscount:   params.MaxDiscount,
		Delay:         params.Delay,
		Duration:      params.Duration,
	}
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return 0, err
	}
	if err := t.put(auctionKey(id), encoded); err != nil {
		return 0, err
	}
	return id, nil
}

// Auction loads an auction record; nil when the id is unknown.
func (t *Txn) Auction(id uint64) (*AuctionRecord, error) {
	data, err := t.get(auctionKey(id))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	record := new(AuctionRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("decode auction %d: %w", id, err)
	}
	return record, nil
}

// FundRewards adds amount of token to the keeper reward budget.
func (t *Txn) FundRewards(token common.Address, amount *big.Int) error {
	_, err := t.addAmount(rewardBudgetKey(token), amount)
	return err
}

// RewardBudget returns the undistributed keeper reward budget of token.
func (t *Txn) RewardBudget(token common.Address) (*big.Int, error) {
	return t.loadAmount(rewardBudgetKey(token))
}

// PayKeeperReward moves amount of token from the budget to the keeper,
// either liquid or into the staked rewards vault.
func (t *Txn) PayKeeperReward(keeper, token common.Address, amount *big.Int, staked bool) error {
	if _, err := t.subAmount(rewardBudgetKey(token), amount); err != nil {
		return fmt.Errorf("reward budget: %w", err)
	}
	if staked {
		_, err := t.addAmount(stakedKey(keeper, token), amount)
		return err
	}
	return t.Credit(keeper, token, amount)
}

// StakedRewards returns holder's staked reward balance of token.
func (t *Txn) StakedRewards(holder, token common.Address) (*big.Int, error) {
	return t.loadAmount(stakedKey(holder, token))
}

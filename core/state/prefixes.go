package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"ripecore/native/lending"
)

var (
	vaultBalancePrefix = []byte("vault/balance:")
	vaultTotalPrefix   = []byte("vault/total:")
	vaultAssetsPrefix  = []byte("vault/assets:")
	depositorsPrefix   = []byte("vault/depositors:")
	holdingsPrefix     = []byte("holdings:")
	balancePrefix      = []byte("balance:")
	burnedPrefix       = []byte("burned:")
	claimsPrefix       = []byte("pool/claims:")
	debtPrefix         = []byte("debt:")
	auctionPrefix      = []byte("auction:")
	auctionCounterKey  = ethcrypto.Keccak256([]byte("auction-counter"))
	rewardBudgetPrefix = []byte("rewards/budget:")
	stakedPrefix       = []byte("rewards/staked:")
	rolePrefix         = []byte("role:")
	pausePrefix        = []byte("pause:")
)

// hashKey concatenates the prefix and parts and hashes the result.
func hashKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func vaultBytes(vault lending.VaultID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(vault))
	return buf[:]
}

func vaultBalanceKey(vault lending.VaultID, asset, owner common.Address) []byte {
	return hashKey(vaultBalancePrefix, vaultBytes(vault), asset.Bytes(), owner.Bytes())
}

func vaultTotalKey(vault lending.VaultID, asset common.Address) []byte {
	return hashKey(vaultTotalPrefix, vaultBytes(vault), asset.Bytes())
}

func vaultAssetsKey(vault lending.VaultID) []byte {
	return hashKey(vaultAssetsPrefix, vaultBytes(vault))
}

func depositorsKey(vault lending.VaultID, asset common.Address) []byte {
	return hashKey(depositorsPrefix, vaultBytes(vault), asset.Bytes())
}

func holdingsKey(owner common.Address) []byte {
	return hashKey(holdingsPrefix, owner.Bytes())
}

func balanceKey(holder, asset common.Address) []byte {
	return hashKey(balancePrefix, asset.Bytes(), holder.Bytes())
}

func burnedKey(asset common.Address) []byte {
	return hashKey(burnedPrefix, asset.Bytes())
}

func claimsKey(pool lending.VaultID, asset common.Address) []byte {
	return hashKey(claimsPrefix, vaultBytes(pool), asset.Bytes())
}

func debtKey(owner common.Address) []byte {
	return hashKey(debtPrefix, owner.Bytes())
}

func auctionKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return hashKey(auctionPrefix, buf[:])
}

func rewardBudgetKey(token common.Address) []byte {
	return hashKey(rewardBudgetPrefix, token.Bytes())
}

func stakedKey(holder, token common.Address) []byte {
	return hashKey(stakedPrefix, token.Bytes(), holder.Bytes())
}

func roleKey(role string) []byte {
	return hashKey(rolePrefix, []byte(role))
}

func pauseKey(module string) []byte {
	return hashKey(pausePrefix, []byte(module))
}

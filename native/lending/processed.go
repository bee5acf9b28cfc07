package lending

import "github.com/ethereum/go-ethereum/common"

// processedSet tracks which vault/asset pairs a single call already disposed
// of, plus the assets that were fully depleted. It lives for one call only.
type processedSet struct {
	pairs    map[VaultAsset]struct{}
	depleted map[common.Address]struct{}
	order    []common.Address
}

func newProcessedSet() *processedSet {
	return &processedSet{
		pairs:    make(map[VaultAsset]struct{}),
		depleted: make(map[common.Address]struct{}),
	}
}

func (s *processedSet) seen(key VaultAsset) bool {
	_, ok := s.pairs[key]
	return ok
}

func (s *processedSet) mark(key VaultAsset, fullyDepleted bool) {
	s.pairs[key] = struct{}{}
	if !fullyDepleted {
		return
	}
	if _, ok := s.depleted[key.Asset]; ok {
		return
	}
	s.depleted[key.Asset] = struct{}{}
	s.order = append(s.order, key.Asset)
}

// depletedAssets returns the fully depleted assets in depletion order.
func (s *processedSet) depletedAssets() []common.Address {
	return append([]common.Address(nil), s.order...)
}

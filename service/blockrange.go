package service

import (
	"context"
	"log"
)

// BlockRangeResolver turns "look back N hours" into a concrete block
// interval using the chain's average block time. Deterministic given the
// latest block; no state is kept between calls.
type BlockRangeResolver struct {
	chain         ChainBackend
	blocksPerHour uint64
}

func NewBlockRangeResolver(chain ChainBackend, blocksPerHour uint64) *BlockRangeResolver {
	if blocksPerHour == 0 {
		blocksPerHour = 720 // 5s blocks
	}
	return &BlockRangeResolver{chain: chain, blocksPerHour: blocksPerHour}
}

// Resolve computes [from, to] for the last hoursBack hours, clamping
// from at genesis. When the latest block cannot be fetched it returns
// the zero range and the error; a zero range means "verification
// unavailable", never "no activity".
func (r *BlockRangeResolver) Resolve(ctx context.Context, hoursBack uint64) (uint64, uint64, error) {
	latest, err := r.chain.LatestBlock(ctx)
	if err != nil {
		log.Printf("block range: latest block fetch failed: %v", err)
		return 0, 0, err
	}
	span := hoursBack * r.blocksPerHour
	from := uint64(0)
	if latest > span {
		from = latest - span
	}
	return from, latest, nil
}

package nft

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/nerochain/aa-client/pkg/contracts"
)

// Enumerate walks the collection's id space and returns the items owner
// holds, with token URIs attached but metadata unresolved. Results are
// cached per owner; concurrent calls for the same owner share one walk.
// Failed probes are skipped, so the result can under-report during node
// trouble.
func (s *Service) Enumerate(ctx context.Context, owner common.Address) []NFT {
	key := owner.Hex()
	if list, ok := s.owned.Get(key); ok {
		return list
	}

	list, err := s.inflight.Do(ctx, key, s.window, func() ([]NFT, error) {
		return s.walk(ctx, owner), nil
	})
	if err != nil {
		s.logger.V(1).Info("enumeration aborted", "owner", key, "err", err.Error())
		return nil
	}

	s.owned.Put(key, list)
	return list
}

func (s *Service) scanLimit(ctx context.Context) int64 {
	supply, err := contracts.CallUint(ctx, s.backend, contracts.ERC721, s.contract, "totalSupply")
	if err != nil {
		s.logger.V(1).Info("totalSupply unavailable, using default scan range", "err", err.Error())
		return defaultSupplyScan
	}
	if supply.Cmp(big.NewInt(maxSupplyScan)) > 0 {
		return maxSupplyScan
	}
	return supply.Int64()
}

// walk probes ids 1 through the scan limit inclusive; collections mint
// their first token as id 1 and their latest as totalSupply.
func (s *Service) walk(ctx context.Context, owner common.Address) []NFT {
	limit := s.scanLimit(ctx)

	var found []NFT
	for start := int64(1); start <= limit; start += batchSize {
		end := start + batchSize
		if end > limit+1 {
			end = limit + 1
		}

		batch := make([]*NFT, end-start)
		g, bctx := errgroup.WithContext(ctx)
		for id := start; id < end; id++ {
			id := id
			g.Go(func() error {
				tokenID := big.NewInt(id)
				res, err := contracts.Call(bctx, s.backend, contracts.ERC721, s.contract, "ownerOf", tokenID)
				if err != nil {
					// Unminted or burned ids revert; skip quietly.
					return nil
				}
				holder, ok := res[0].(common.Address)
				if !ok || holder != owner {
					return nil
				}
				batch[id-start] = &NFT{TokenID: tokenID}
				return nil
			})
		}
		_ = g.Wait()

		for _, item := range batch {
			if item != nil {
				found = append(found, *item)
			}
		}
	}

	s.attachURIs(ctx, found)
	sort.Slice(found, func(i, j int) bool { return found[i].TokenID.Cmp(found[j].TokenID) < 0 })
	return found
}

// attachURIs fills TokenURI for each owned item in parallel. A failed read
// leaves the URI empty rather than dropping the item.
func (s *Service) attachURIs(ctx context.Context, items []NFT) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range items {
		i := i
		g.Go(func() error {
			res, err := contracts.Call(gctx, s.backend, contracts.ERC721, s.contract, "tokenURI", items[i].TokenID)
			if err != nil {
				s.logger.V(1).Info("tokenURI read failed", "token_id", items[i].TokenID, "err", err.Error())
				return nil
			}
			if uri, ok := res[0].(string); ok {
				items[i].TokenURI = uri
			}
			return nil
		})
	}
	_ = g.Wait()
}

// OwnedNFTs enumerates owner's items and resolves their metadata. It never
// returns an error; discovery views degrade instead of failing.
func (s *Service) OwnedNFTs(ctx context.Context, owner common.Address) []NFT {
	items := s.Enumerate(ctx, owner)
	out := make([]NFT, len(items))
	for i, item := range items {
		out[i] = item
		s.resolve(ctx, &out[i])
	}
	return out
}

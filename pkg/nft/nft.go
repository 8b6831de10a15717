// Package nft enumerates the NFTs an address owns on the configured
// collection and resolves their metadata. Everything here is best effort:
// a flaky node or gateway shrinks the result, it never fails the caller.
package nft

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"

	"github.com/nerochain/aa-client/internal/config"
	"github.com/nerochain/aa-client/pkg/cache"
	"github.com/nerochain/aa-client/pkg/contracts"
)

const (
	// maxSupplyScan bounds the id range walked even on huge collections.
	maxSupplyScan = 500
	// defaultSupplyScan is used when totalSupply itself cannot be read.
	defaultSupplyScan = 100
	// batchSize is how many ownerOf probes run concurrently.
	batchSize = 10
)

// NFT is one owned item: its id, raw token URI and whatever metadata could
// be resolved.
type NFT struct {
	TokenID     *big.Int
	TokenURI    string
	Name        string
	Description string
	ImageURL    string
}

// Service walks the collection and resolves metadata over HTTP.
type Service struct {
	backend  contracts.Backend
	contract common.Address
	http     *http.Client
	owned    *cache.Cache[[]NFT]
	inflight *cache.Group[[]NFT]
	window   time.Duration
	logger   logr.Logger
}

// NewService builds an NFT service for the configured collection.
func NewService(backend contracts.Backend, cfg *config.Config, l logr.Logger) *Service {
	return &Service{
		backend:  backend,
		contract: cfg.NFTContract(),
		http:     &http.Client{Timeout: 10 * time.Second},
		owned:    cache.New[[]NFT](cfg.NFTCacheWindow),
		inflight: cache.NewGroup[[]NFT](),
		window:   cfg.NFTCacheWindow,
		logger:   l.WithName("nft"),
	}
}

package tokens

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"github.com/nerochain/aa-client/internal/config"
	"github.com/nerochain/aa-client/pkg/cache"
	"github.com/nerochain/aa-client/pkg/contracts"
	"github.com/nerochain/aa-client/pkg/paymaster"
	"github.com/nerochain/aa-client/pkg/userop"
)

// Category classifies a paymaster-accepted token.
type Category int

const (
	// System tokens are native or paymaster-privileged.
	System Category = 1
	// Standard tokens are plain ERC-20s.
	Standard Category = 2
)

// Token is one entry of the paymaster's accepted-token list, normalized
// from whichever response shape the service returned.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Category Category
	Price    decimal.Decimal
}

// opPreparer yields a realistic unsigned operation for the fallback probe.
// *account.Builder satisfies it.
type opPreparer interface {
	Sender() common.Address
	Prepare(ctx context.Context, multiplier int) (*userop.UserOperation, error)
}

// Service discovers and caches the paymaster's accepted tokens and answers
// balance and allowance questions. Discovery is best effort throughout: a
// dead paymaster yields an empty list, never an error.
type Service struct {
	backend      contracts.Backend
	pm           *paymaster.Client
	lists        *cache.Cache[[]Token]
	inflight     *cache.Group[[]Token]
	window       time.Duration
	maxRefreshes int32
	refreshes    atomic.Int32
	logger       logr.Logger
}

// NewService builds a token service over the shared backend and paymaster
// connection.
func NewService(backend contracts.Backend, pm *paymaster.Client, cfg *config.Config, l logr.Logger) *Service {
	return &Service{
		backend:      backend,
		pm:           pm,
		lists:        cache.New[[]Token](cfg.TokenCacheWindow),
		inflight:     cache.NewGroup[[]Token](),
		window:       cfg.TokenCacheWindow,
		maxRefreshes: int32(cfg.MaxTokenRefreshes),
		logger:       l.WithName("tokens"),
	}
}

// SupportedTokens returns the paymaster's accepted token list for the
// wallet behind b. Results are cached per wallet; refreshes are capped per
// process so a flapping paymaster cannot be hammered, and concurrent calls
// for the same wallet share one probe.
func (s *Service) SupportedTokens(ctx context.Context, b opPreparer, credential string) []Token {
	key := b.Sender().Hex()
	if list, ok := s.lists.Get(key); ok {
		return list
	}
	if s.refreshes.Load() >= s.maxRefreshes {
		s.logger.V(1).Info("token refresh cap reached", "wallet", key)
		return nil
	}

	list, err := s.inflight.Do(ctx, key, s.window, func() ([]Token, error) {
		s.refreshes.Add(1)
		return s.fetch(ctx, b, credential)
	})
	if err != nil {
		s.logger.V(1).Info("token discovery failed", "wallet", key, "err", err.Error())
		return nil
	}

	s.lists.Put(key, list)
	return list
}

// fetch tries the probes in order of cost: the minimal synthetic operation
// first, a fully assembled one second.
func (s *Service) fetch(ctx context.Context, b opPreparer, credential string) ([]Token, error) {
	raw, err := s.pm.SupportedTokens(ctx, b.Sender(), credential)
	if err == nil {
		if list := normalize(raw, s.logger); len(list) > 0 {
			return list, nil
		}
	} else {
		s.logger.V(1).Info("minimal token probe failed", "err", err.Error())
	}

	op, err := b.Prepare(ctx, 0)
	if err != nil {
		return nil, err
	}
	raw, err = s.pm.SupportedTokensForOp(ctx, op, credential)
	if err != nil {
		return nil, err
	}

	return normalize(raw, s.logger), nil
}

type wireToken struct {
	Token    string `mapstructure:"token"`
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
	Type     string `mapstructure:"type"`
	Price    string `mapstructure:"price"`
}

// normalize reduces the paymaster's response to []Token. Three shapes are
// seen in the wild: a top-level "tokens" array, the same nested under
// "result", and responses where the array sits under some other key.
// Entries without a usable address are dropped; duplicates keep the first
// occurrence.
func normalize(raw map[string]interface{}, l logr.Logger) []Token {
	entries := tokenArray(raw)
	if entries == nil {
		return nil
	}

	seen := mapset.NewSet[string]()
	out := make([]Token, 0, len(entries))
	for _, e := range entries {
		var w wireToken
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &w,
			WeaklyTypedInput: true,
		})
		if err != nil {
			continue
		}
		if err := dec.Decode(e); err != nil {
			l.V(1).Info("skipping malformed token entry", "err", err.Error())
			continue
		}

		addr := w.Token
		if addr == "" {
			addr = w.Address
		}
		if !common.IsHexAddress(addr) {
			continue
		}

		parsed := common.HexToAddress(addr)
		if !seen.Add(parsed.Hex()) {
			continue
		}

		t := Token{
			Address:  parsed,
			Symbol:   w.Symbol,
			Decimals: w.Decimals,
			Category: Standard,
		}
		if w.Type == "system" || w.Type == "native" {
			t.Category = System
		}
		if w.Price != "" {
			if p, err := decimal.NewFromString(w.Price); err == nil {
				t.Price = p
			}
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func tokenArray(raw map[string]interface{}) []interface{} {
	if arr, ok := raw["tokens"].([]interface{}); ok {
		return arr
	}
	if res, ok := raw["result"].(map[string]interface{}); ok {
		if arr, ok := res["tokens"].([]interface{}); ok {
			return arr
		}
	}
	for _, v := range raw {
		if arr, ok := v.([]interface{}); ok {
			return arr
		}
	}
	return nil
}

package tokens

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerochain/aa-client/internal/config"
	"github.com/nerochain/aa-client/pkg/paymaster"
	"github.com/nerochain/aa-client/pkg/userop"
)

var (
	testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testWallet     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenA         = "0xA919e465871871F2D1da94BccAF3acaF9609D968"
	tokenB         = "0x63F1f7c6a24294a874d7c8ea289e4624F84b48cb"
)

type fakePaymasterRPC struct {
	calls  int
	lastOp interface{}
	answer func(call int, result *map[string]interface{}) error
}

func (f *fakePaymasterRPC) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	if method != "pm_supported_tokens" {
		return errors.Errorf("unexpected method %s", method)
	}
	f.calls++
	f.lastOp = args[0]
	return f.answer(f.calls, result.(*map[string]interface{}))
}

type fakePreparer struct {
	sender common.Address
}

func (f fakePreparer) Sender() common.Address { return f.sender }

func (f fakePreparer) Prepare(context.Context, int) (*userop.UserOperation, error) {
	return &userop.UserOperation{Sender: f.sender, Nonce: big.NewInt(0)}, nil
}

func tokenEntry(addr, symbol string, decimals int, typ string) map[string]interface{} {
	return map[string]interface{}{
		"token":    addr,
		"symbol":   symbol,
		"decimals": decimals,
		"type":     typ,
	}
}

func newTestService(fake *fakePaymasterRPC, maxRefreshes int) *Service {
	cfg := &config.Config{
		TokenCacheWindow:  time.Minute,
		MaxTokenRefreshes: maxRefreshes,
	}
	pm := paymaster.NewClient(fake, testEntryPoint, logr.Discard())
	return NewService(nil, pm, cfg, logr.Discard())
}

func TestSupportedTokensFetchesAndCaches(t *testing.T) {
	fake := &fakePaymasterRPC{answer: func(_ int, result *map[string]interface{}) error {
		*result = map[string]interface{}{"tokens": []interface{}{
			tokenEntry(tokenA, "USDT", 6, "erc20"),
		}}
		return nil
	}}
	svc := newTestService(fake, 5)
	prep := fakePreparer{sender: testWallet}

	list := svc.SupportedTokens(context.Background(), prep, "k")
	require.Len(t, list, 1, "paymaster token should be listed")
	assert.Equal(t, "USDT", list[0].Symbol)
	assert.Equal(t, Standard, list[0].Category, "erc20 entries are standard tokens")

	again := svc.SupportedTokens(context.Background(), prep, "k")
	assert.Len(t, again, 1, "cached list should be served")
	assert.Equal(t, 1, fake.calls, "a fresh cache entry must not trigger another probe")
}

func TestSupportedTokensFallsBackToFullOp(t *testing.T) {
	fake := &fakePaymasterRPC{answer: func(call int, result *map[string]interface{}) error {
		if call == 1 {
			return errors.New("minimal op rejected")
		}
		*result = map[string]interface{}{"tokens": []interface{}{
			tokenEntry(tokenA, "USDT", 6, "erc20"),
		}}
		return nil
	}}
	svc := newTestService(fake, 5)

	list := svc.SupportedTokens(context.Background(), fakePreparer{sender: testWallet}, "k")
	require.Len(t, list, 1, "fallback probe should still produce the list")
	assert.Equal(t, 2, fake.calls, "both probes should have run")

	op, ok := fake.lastOp.(*userop.UserOperation)
	require.True(t, ok, "fallback probe should send a fully assembled operation")
	assert.Equal(t, testWallet, op.Sender, "assembled operation should name the wallet")
}

func TestSupportedTokensDegradesToEmpty(t *testing.T) {
	fake := &fakePaymasterRPC{answer: func(int, *map[string]interface{}) error {
		return errors.New("paymaster down")
	}}
	svc := newTestService(fake, 5)

	list := svc.SupportedTokens(context.Background(), fakePreparer{sender: testWallet}, "k")
	assert.Empty(t, list, "a dead paymaster should yield an empty list, not an error")
}

func TestSupportedTokensRefreshCap(t *testing.T) {
	fake := &fakePaymasterRPC{answer: func(int, *map[string]interface{}) error {
		return errors.New("paymaster down")
	}}
	svc := newTestService(fake, 1)
	prep := fakePreparer{sender: testWallet}

	_ = svc.SupportedTokens(context.Background(), prep, "k")
	callsAfterFirst := fake.calls

	_ = svc.SupportedTokens(context.Background(), prep, "k")
	assert.Equal(t, callsAfterFirst, fake.calls, "the refresh cap must stop further probes")
}

func TestNormalizeShapes(t *testing.T) {
	entries := []interface{}{tokenEntry(tokenA, "USDT", 6, "erc20")}

	shapes := map[string]map[string]interface{}{
		"top-level tokens": {"tokens": entries},
		"nested result":    {"result": map[string]interface{}{"tokens": entries}},
		"other array key":  {"supported": entries},
	}
	for name, raw := range shapes {
		list := normalize(raw, logr.Discard())
		assert.Len(t, list, 1, "shape %q should normalize", name)
	}
}

func TestNormalizeFieldHandling(t *testing.T) {
	raw := map[string]interface{}{"tokens": []interface{}{
		map[string]interface{}{
			"address":  tokenA, // address instead of token
			"symbol":   "USDT",
			"decimals": "6", // string-typed decimals
			"type":     "system",
			"price":    "1.0005",
		},
		tokenEntry(tokenB, "TEST", 18, "erc20"),
		tokenEntry(tokenA, "DUP", 6, "erc20"),    // duplicate address
		tokenEntry("not-an-address", "X", 0, ""), // unusable entry
	}}

	list := normalize(raw, logr.Discard())
	require.Len(t, list, 2, "duplicates and unusable entries should be dropped")

	bySymbol := map[string]Token{}
	for _, tok := range list {
		bySymbol[tok.Symbol] = tok
	}
	usdt := bySymbol["USDT"]
	assert.Equal(t, common.HexToAddress(tokenA), usdt.Address, "address field should be accepted in place of token")
	assert.Equal(t, uint8(6), usdt.Decimals, "string decimals should coerce")
	assert.Equal(t, System, usdt.Category, "system type should classify as system")
	assert.Equal(t, "1.0005", usdt.Price.String(), "price should parse exactly")
	assert.Equal(t, Standard, bySymbol["TEST"].Category)
}

func TestNormalizeEmptyResponse(t *testing.T) {
	assert.Nil(t, normalize(map[string]interface{}{}, logr.Discard()), "no array anywhere means no tokens")
	assert.Empty(t, normalize(map[string]interface{}{"tokens": []interface{}{}}, logr.Discard()))
}

// Package oracle reads the settlement reference price from a Chainlink
// aggregator on Polygon. The venue settles its up/down markets against this
// oracle, so it is the authoritative cross-check for the spot feed.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mkarlin/updownbot/internal/domain"
)

// Function selectors of the aggregator proxy ABI.
var (
	selLatestRoundData = common.Hex2Bytes("feaf968c") // latestRoundData()
	selDecimals        = common.Hex2Bytes("313ce567") // decimals()
)

// Config holds the oracle reader parameters.
type Config struct {
	// RpcURLs are tried in order; the reader fails over on RPC errors.
	RpcURLs []string
	// Aggregator is the price feed proxy address.
	Aggregator string
	// CacheTTL bounds how often the chain is queried. Chainlink heartbeats
	// are far slower than our scan rate; a short cache removes redundant
	// calls without hiding updates.
	CacheTTL time.Duration
}

// Reader reads the latest aggregator answer with RPC failover and a short
// read-through cache.
type Reader struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	clients  []*ethclient.Client
	decimals int32

	cachedPrice float64
	cachedAt    time.Time

	now func() time.Time
}

// New creates a Reader. Connections are dialed lazily on first use.
func New(cfg Config, logger *slog.Logger) *Reader {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Second
	}
	return &Reader{
		cfg:     cfg,
		logger:  logger.With("component", "oracle"),
		clients: make([]*ethclient.Client, len(cfg.RpcURLs)),
		now:     time.Now,
	}
}

// Price returns the latest oracle answer in quote units (e.g. USD).
func (r *Reader) Price(ctx context.Context) (float64, error) {
	r.mu.Lock()
	if !r.cachedAt.IsZero() && r.now().Sub(r.cachedAt) < r.cfg.CacheTTL {
		price := r.cachedPrice
		r.mu.Unlock()
		return price, nil
	}
	r.mu.Unlock()

	price, err := r.fetch(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.cachedPrice = price
	r.cachedAt = r.now()
	r.mu.Unlock()
	return price, nil
}

// fetch queries the aggregator, failing over across the configured RPCs.
func (r *Reader) fetch(ctx context.Context) (float64, error) {
	aggregator := common.HexToAddress(r.cfg.Aggregator)

	var lastErr error
	for i := range r.cfg.RpcURLs {
		client, err := r.client(ctx, i)
		if err != nil {
			lastErr = err
			continue
		}

		answer, err := r.latestAnswer(ctx, client, aggregator)
		if err != nil {
			r.logger.Debug("oracle rpc failed, trying next",
				"rpc", r.cfg.RpcURLs[i], "error", err)
			lastErr = err
			continue
		}
		return answer, nil
	}
	return 0, fmt.Errorf("oracle: all rpcs failed: %w", lastErr)
}

func (r *Reader) client(ctx context.Context, i int) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[i] != nil {
		return r.clients[i], nil
	}
	client, err := ethclient.DialContext(ctx, r.cfg.RpcURLs[i])
	if err != nil {
		return nil, fmt.Errorf("oracle: dial %s: %w", r.cfg.RpcURLs[i], err)
	}
	r.clients[i] = client
	return client, nil
}

// latestAnswer calls latestRoundData() and scales the answer by the feed's
// decimals.
func (r *Reader) latestAnswer(ctx context.Context, client *ethclient.Client, aggregator common.Address) (float64, error) {
	dec, err := r.feedDecimals(ctx, client, aggregator)
	if err != nil {
		return 0, err
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &aggregator,
		Data: selLatestRoundData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("latestRoundData: %w", err)
	}
	// Return layout: (uint80 roundId, int256 answer, uint256 startedAt,
	// uint256 updatedAt, uint80 answeredInRound), 32 bytes per word.
	if len(out) < 64 {
		return 0, fmt.Errorf("latestRoundData: short response (%d bytes)", len(out))
	}
	answer := new(big.Int).SetBytes(out[32:64])
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("latestRoundData: non-positive answer: %w", domain.ErrStaleData)
	}

	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(answer),
		new(big.Float).SetFloat64(math.Pow10(int(dec))),
	).Float64()
	return f, nil
}

// feedDecimals reads and memoizes the feed's decimals.
func (r *Reader) feedDecimals(ctx context.Context, client *ethclient.Client, aggregator common.Address) (int32, error) {
	r.mu.Lock()
	if r.decimals > 0 {
		dec := r.decimals
		r.mu.Unlock()
		return dec, nil
	}
	r.mu.Unlock()

	out, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &aggregator,
		Data: selDecimals,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("decimals: short response (%d bytes)", len(out))
	}
	dec := int32(new(big.Int).SetBytes(out).Int64())
	if dec <= 0 || dec > 30 {
		return 0, fmt.Errorf("decimals: implausible value %d", dec)
	}

	r.mu.Lock()
	r.decimals = dec
	r.mu.Unlock()
	return dec, nil
}

// Close releases all dialed connections.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.clients {
		if c != nil {
			c.Close()
			r.clients[i] = nil
		}
	}
}

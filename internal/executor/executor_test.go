package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlin/updownbot/internal/domain"
	"github.com/mkarlin/updownbot/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type submitResult struct {
	res domain.OrderResult
	err error
}

// scriptedVenue returns canned results in submission order.
type scriptedVenue struct {
	mu      sync.Mutex
	script  []submitResult
	submits []domain.OrderRequest
	cancels []string
}

func (v *scriptedVenue) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submits = append(v.submits, req)
	if len(v.script) == 0 {
		return domain.OrderResult{}, errors.New("scriptedVenue: no result scripted")
	}
	next := v.script[0]
	v.script = v.script[1:]
	if next.res.OrderID == "" {
		next.res.OrderID = req.ID
	}
	return next.res, next.err
}

func (v *scriptedVenue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels = append(v.cancels, orderID)
	return nil
}

// memLocks is an in-process LockManager.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]bool)} }

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// deniedLimiter refuses every slot.
type deniedLimiter struct{}

func (deniedLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

// recordingNotifier captures events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) byType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// memFillStore collects inserted fills.
type memFillStore struct {
	mu    sync.Mutex
	fills []domain.Fill
}

func (m *memFillStore) Insert(_ context.Context, f domain.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, f)
	return nil
}

func (m *memFillStore) InsertBatch(_ context.Context, fs []domain.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, fs...)
	return nil
}

func (m *memFillStore) ListByMarket(context.Context, string, int) ([]domain.Fill, error) {
	return nil, nil
}

func (m *memFillStore) ListBefore(context.Context, time.Time) ([]domain.Fill, error) {
	return nil, nil
}

func testConfig() Config {
	return Config{
		SubmitTimeout: 3 * time.Second,
		RateLimit:     10,
		RateWindow:    time.Second,
		LockTTL:       10 * time.Second,
	}
}

func pairedPlan() *domain.OrderPlan {
	now := time.Now()
	return &domain.OrderPlan{
		ID:            "plan-1",
		OpportunityID: "opp-1",
		MarketID:      "btc-updown-15m-1700000000",
		Kind:          domain.KindSumToOneLong,
		Legs: []domain.PlanLeg{
			{Side: domain.TokenSideUp, Direction: domain.OrderSideBuy, Quantity: 2, LimitPrice: 0.47, BestPrice: 0.47},
			{Side: domain.TokenSideDown, Direction: domain.OrderSideBuy, Quantity: 2, LimitPrice: 0.48, BestPrice: 0.48},
		},
		TotalCost: 1.90,
		NetEdge:   0.05,
		Deadline:  now.Add(time.Second),
		CreatedAt: now,
	}
}

func newManager(venue Venue, notifier domain.Notifier, fills domain.FillStore) (*Manager, *risk.Gate) {
	gate := risk.New(risk.Config{DailyLossLimit: 5, MaxPosition: 10}, nil, nil, testLogger())
	return New(testConfig(), venue, gate, newMemLocks(), nil, fills, nil, notifier, testLogger()), gate
}

func TestExecuteBothLegsFilled(t *testing.T) {
	venue := &scriptedVenue{script: []submitResult{
		{res: domain.OrderResult{Status: domain.OrderStatusFilled, FilledSize: 2, FilledPrice: 0.47, FeeUSD: 0.014}},
		{res: domain.OrderResult{Status: domain.OrderStatusFilled, FilledSize: 2, FilledPrice: 0.48, FeeUSD: 0.014}},
	}}
	notifier := &recordingNotifier{}
	fills := &memFillStore{}
	m, gate := newManager(venue, notifier, fills)

	exec, err := m.Execute(context.Background(), pairedPlan())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionFilled, exec.Status)
	assert.Len(t, venue.submits, 2)
	assert.Empty(t, venue.cancels)
	assert.Len(t, fills.fills, 2)

	state := gate.State()
	assert.Equal(t, 1, state.Trades)
	assert.InDelta(t, 2*0.47+2*0.48, state.Exposure, 1e-9)

	assert.Len(t, notifier.byType(domain.EventOrderSubmitted), 2)
	assert.Len(t, notifier.byType(domain.EventOrderFilled), 1)
}

func TestExecuteUnhedgedLeg(t *testing.T) {
	// First leg fills, second leg acknowledgment times out. The filled leg
	// stays on the book: no unwind, exposure recorded, critical alert.
	venue := &scriptedVenue{script: []submitResult{
		{res: domain.OrderResult{Status: domain.OrderStatusFilled, FilledSize: 2, FilledPrice: 0.47}},
		{err: context.DeadlineExceeded},
	}}
	notifier := &recordingNotifier{}
	fills := &memFillStore{}
	m, gate := newManager(venue, notifier, fills)

	exec, err := m.Execute(context.Background(), pairedPlan())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionUnhedged, exec.Status)
	assert.Equal(t, domain.OrderStatusFilled, exec.Legs[0].Status)
	assert.Equal(t, domain.OrderStatusFailed, exec.Legs[1].Status)

	// Only the filled leg reaches the ledger and the risk exposure.
	require.Len(t, fills.fills, 1)
	assert.Equal(t, domain.TokenSideUp, fills.fills[0].Side)
	assert.InDelta(t, 2*0.47, gate.State().Exposure, 1e-9)

	// No automatic unwind.
	assert.Empty(t, venue.cancels)

	alerts := notifier.byType(domain.EventUnhedgedLeg)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.PriorityCritical, alerts[0].Priority)
}

func TestExecutePartialFillCancelsRemainder(t *testing.T) {
	venue := &scriptedVenue{script: []submitResult{
		{res: domain.OrderResult{Status: domain.OrderStatusPartiallyFilled, FilledSize: 1, FilledPrice: 0.47}},
	}}
	notifier := &recordingNotifier{}
	m, _ := newManager(venue, notifier, nil)

	plan := pairedPlan()
	plan.Legs = plan.Legs[:1]

	exec, err := m.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionPartial, exec.Status)
	require.Len(t, venue.cancels, 1)
	assert.Equal(t, exec.Legs[0].OrderID, venue.cancels[0])
}

func TestExecuteAllLegsFailed(t *testing.T) {
	venue := &scriptedVenue{script: []submitResult{
		{err: errors.New("venue unavailable")},
		{err: errors.New("venue unavailable")},
	}}
	notifier := &recordingNotifier{}
	m, gate := newManager(venue, notifier, nil)

	exec, err := m.Execute(context.Background(), pairedPlan())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionFailed, exec.Status)
	assert.InDelta(t, 0.0, gate.State().Exposure, 1e-9)
	// Terminal state still counts as exactly one risk update.
	assert.Equal(t, 1, gate.State().Trades)
	assert.Len(t, notifier.byType(domain.EventOrderFailed), 1)
}

func TestExecuteRefusesExpiredPlan(t *testing.T) {
	venue := &scriptedVenue{}
	m, _ := newManager(venue, nil, nil)

	plan := pairedPlan()
	plan.Deadline = time.Now().Add(-time.Millisecond)

	_, err := m.Execute(context.Background(), plan)
	require.ErrorIs(t, err, domain.ErrStaleData)
	assert.Empty(t, venue.submits)
}

func TestExecuteRefusesWhenLockHeld(t *testing.T) {
	venue := &scriptedVenue{}
	locks := newMemLocks()
	_, err := locks.Acquire(context.Background(), "exec:btc-updown-15m-1700000000", time.Second)
	require.NoError(t, err)

	gate := risk.New(risk.Config{DailyLossLimit: 5, MaxPosition: 10}, nil, nil, testLogger())
	m := New(testConfig(), venue, gate, locks, nil, nil, nil, nil, testLogger())

	_, err = m.Execute(context.Background(), pairedPlan())
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, venue.submits)
}

func TestExecuteRefusesWhenRateLimited(t *testing.T) {
	venue := &scriptedVenue{}
	gate := risk.New(risk.Config{DailyLossLimit: 5, MaxPosition: 10}, nil, nil, testLogger())
	m := New(testConfig(), venue, gate, newMemLocks(), deniedLimiter{}, nil, nil, nil, testLogger())

	_, err := m.Execute(context.Background(), pairedPlan())
	require.Error(t, err)
	assert.Empty(t, venue.submits)
}

func TestSettleRealizesPnLAndReleasesExposure(t *testing.T) {
	m, gate := newManager(&scriptedVenue{}, nil, nil)
	gate.Record(context.Background(), risk.Delta{Exposure: 2*0.47 + 2*0.48})

	exec := domain.Execution{
		ID:       "exec-1",
		MarketID: "btc-updown-15m-1700000000",
		Kind:     domain.KindSumToOneLong,
		Legs: []domain.ExecutionLeg{
			{Side: domain.TokenSideUp, Direction: domain.OrderSideBuy, FilledSize: 2, FilledPrice: 0.47, Status: domain.OrderStatusFilled},
			{Side: domain.TokenSideDown, Direction: domain.OrderSideBuy, FilledSize: 2, FilledPrice: 0.48, Status: domain.OrderStatusFilled},
		},
		Status: domain.ExecutionFilled,
	}

	m.Settle(context.Background(), exec, domain.TokenSideUp)

	state := gate.State()
	// Paid 1.90 for a guaranteed payout of 2.00.
	assert.InDelta(t, 0.10, state.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.0, state.Exposure, 1e-9)
}

package ledger

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/internal/storage"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event eventbus.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newTestStore(opts ...Option) (*Store, *storage.MemoryStore) {
	repo := storage.NewMemoryStore()
	return NewStore(repo, logger.NewNop(), opts...), repo
}

func TestAdjust_AppendsEntryAndPublishes(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e eventbus.Event) bool {
		payload, ok := e.Payload.(eventbus.LedgerDeltaEvent)
		return ok && e.Type == eventbus.EventTypeLedgerDelta && payload.CompanyID == "company-a" && payload.Entry.Delta == -10
	})).Return(nil).Once()

	fixed := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	store, _ := newTestStore(WithPublisher(pub), WithClock(func() time.Time { return fixed }))

	entry, err := store.Adjust(context.Background(), AdjustInput{
		CompanyID:   "company-a",
		CompanyName: "Company A",
		PalletType:  domain.PalletTypeEuroEpal,
		Delta:       -10,
		Reason:      ReasonIssuance,
		ChequeID:    "CHQ-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(-10), entry.ResultingBalance)
	assert.Equal(t, fixed, entry.At)
	pub.AssertExpectations(t)

	ledger, err := store.Get(context.Background(), "company-a")
	require.NoError(t, err)
	assert.Equal(t, "Company A", ledger.CompanyName)
	assert.Equal(t, int64(-10), ledger.Total())
}

func TestAdjust_Validation(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	cases := []AdjustInput{
		{PalletType: domain.PalletTypeEuroEpal, Delta: 1},
		{CompanyID: "A", PalletType: domain.PalletTypeUnknown, Delta: 1},
		{CompanyID: "A", PalletType: domain.PalletTypeEuroEpal, Delta: 0},
	}
	for _, in := range cases {
		_, err := store.Adjust(ctx, in)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestAdjust_RandomSequenceKeepsInvariants(t *testing.T) {
	store, _ := newTestStore(WithRetention(100))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	types := domain.AllPalletTypes()

	var expected domain.Quantities
	for i := 0; i < 300; i++ {
		pt := types[rng.Intn(len(types))]
		delta := int64(rng.Intn(21) - 10)
		if delta == 0 {
			delta = 1
		}
		expected.Add(pt, delta)
		_, err := store.Adjust(ctx, AdjustInput{CompanyID: "company-a", PalletType: pt, Delta: delta, Reason: "random"})
		require.NoError(t, err)
	}

	ledger, err := store.Get(ctx, "company-a")
	require.NoError(t, err)
	assert.Len(t, ledger.History, 100)
	assert.Equal(t, expected, ledger.Balances)

	var retained domain.Quantities
	for _, e := range ledger.History {
		retained.Add(e.PalletType, e.Delta)
	}
	for _, pt := range types {
		assert.Equal(t, ledger.Balances.Get(pt), ledger.Base.Get(pt)+retained.Get(pt))
	}

	total, err := store.TotalBalance(ctx, "company-a")
	require.NoError(t, err)
	assert.Equal(t, expected.Total(), total)
}

func TestAdjust_ConcurrentAdjustmentsAreNotLost(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	const (
		workers   = 16
		perWorker = 25
	)

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				delta := int64(1)
				if w%2 == 1 {
					delta = 2
				}
				if _, err := store.Adjust(ctx, AdjustInput{CompanyID: "company-a", PalletType: domain.PalletTypeDemiPalette, Delta: delta}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected adjust error: %v", err)
	}

	ledger, err := store.Get(ctx, "company-a")
	require.NoError(t, err)
	// 8 workers add 1, 8 add 2, 25 times each.
	assert.Equal(t, int64(8*25+8*25*2), ledger.Balances.Get(domain.PalletTypeDemiPalette))
	assert.Equal(t, int64(workers*perWorker+1), ledger.Version)
}

func TestTotalBalance_UnknownCompanyIsZero(t *testing.T) {
	store, _ := newTestStore()
	total, err := store.TotalBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestHistory_FiltersAndLimits(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	for _, in := range []AdjustInput{
		{CompanyID: "A", PalletType: domain.PalletTypeEuroEpal, Delta: -10, Reason: ReasonIssuance},
		{CompanyID: "A", PalletType: domain.PalletTypePerdue, Delta: 3, Reason: ReasonReception},
		{CompanyID: "A", PalletType: domain.PalletTypeEuroEpal, Delta: 10, Reason: ReasonCancellation},
	} {
		_, err := store.Adjust(ctx, in)
		require.NoError(t, err)
	}

	all, err := store.History(ctx, "A", domain.PalletTypeUnknown, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ReasonCancellation, all[0].Reason)

	epal, err := store.History(ctx, "A", domain.PalletTypeEuroEpal, 1)
	require.NoError(t, err)
	require.Len(t, epal, 1)
	assert.Equal(t, int64(0), epal[0].ResultingBalance)

	_, err = store.History(ctx, "B", domain.PalletTypeUnknown, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatsAndDebtors(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	for _, in := range []AdjustInput{
		{CompanyID: "A", PalletType: domain.PalletTypeEuroEpal, Delta: -10},
		{CompanyID: "B", PalletType: domain.PalletTypeEuroEpal, Delta: 8},
		{CompanyID: "C", PalletType: domain.PalletTypeEuroEpal2, Delta: -30},
		{CompanyID: "D", PalletType: domain.PalletTypeEuroEpal2, Delta: 5},
		{CompanyID: "D", PalletType: domain.PalletTypeEuroEpal2, Delta: -5},
	} {
		_, err := store.Adjust(ctx, in)
		require.NoError(t, err)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Companies)
	assert.Equal(t, 2, stats.InDebt)
	assert.Equal(t, 1, stats.InCredit)
	assert.Equal(t, 1, stats.Balanced)
	assert.Equal(t, int64(-2), stats.Totals.Get(domain.PalletTypeEuroEpal))
	assert.Equal(t, int64(-32), stats.TotalBalance)

	debtors, err := store.Debtors(ctx)
	require.NoError(t, err)
	require.Len(t, debtors, 2)
	assert.Equal(t, "C", debtors[0].CompanyID)
}

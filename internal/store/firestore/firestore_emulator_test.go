package firestore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/store"
	"salesdesk/backend/internal/xid"
)

func newEmulatorStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	s, err := New(context.Background(), "salesdesk-test", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmulatorNextSequenceIsUnique(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	name := xid.New("seq")
	require.NoError(t, s.EnsureSequence(ctx, name))

	const workers = 12
	codes := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := s.NextSequence(ctx, name)
			assert.NoError(t, err)
			codes <- code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[int64]bool, workers)
	for code := range codes {
		assert.False(t, seen[code], "code %d issued twice", code)
		seen[code] = true
	}
	assert.Len(t, seen, workers)
}

func TestEmulatorSaleRoundTrip(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	date := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)

	created, err := s.CreateSale(ctx, domain.Sale{
		Code:       time.Now().UnixNano(),
		Date:       date,
		CustomerID: "cus_1",
		UserID:     "usr_1",
		Subtotal:   3000,
		Discount:   100,
		Total:      2900,
		Items: []domain.SaleItem{
			{ProductID: "p1", Quantity: decimal.NewFromFloat(1.5), UnitPrice: money.Cents(2000), Discount: 67, TotalPrice: 2933},
		},
		CreatedAt: date,
		UpdatedAt: date,
	})
	require.NoError(t, err)

	got, err := s.GetSale(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(2900), got.Total)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Quantity.Equal(decimal.NewFromFloat(1.5)))

	_, err = s.GetSale(ctx, "missing-"+created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pokearcanum/marketplace/internal/model"
	"github.com/pokearcanum/marketplace/internal/queue"
	"github.com/pokearcanum/marketplace/internal/repository"
)

// memMarket is a mutex-guarded in-memory implementation of the
// settlement stores, mirroring the conditional-update semantics of the
// SQL repositories so races can be exercised without a database.
type memMarket struct {
	mu       sync.Mutex
	users    map[uint64]model.User
	listings map[uint64]model.Listing
	trades   []model.Trade
	nextID   uint64
}

func newMemMarket() *memMarket {
	return &memMarket{
		users:    map[uint64]model.User{},
		listings: map[uint64]model.Listing{},
		nextID:   1,
	}
}

func (m *memMarket) addUser(id uint64, name string) {
	m.users[id] = model.User{ID: id, Email: name + "@example.com", Username: name}
}

func (m *memMarket) addListing(id, sellerID, priceCents uint64) {
	m.listings[id] = model.Listing{
		ID: id, SellerID: sellerID, CardID: id,
		PriceCents: priceCents, Status: model.ListingAvailable,
	}
}

func (m *memMarket) ByID(_ context.Context, id uint64) (model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return model.Listing{}, sql.ErrNoRows
	}
	return l, nil
}

func (m *memMarket) Reserve(_ context.Context, listingID, buyerID uint64, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok || !l.AvailableTo(buyerID, now) {
		return false, nil
	}
	l.Status = model.ListingReserved
	l.ReservedBy = &buyerID
	l.ReservedUntil = &until
	m.listings[listingID] = l
	return true, nil
}

func (m *memMarket) Release(_ context.Context, listingID, buyerID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok || l.Status != model.ListingReserved || l.ReservedBy == nil || *l.ReservedBy != buyerID {
		return false, nil
	}
	l.Status = model.ListingAvailable
	l.ReservedBy = nil
	l.ReservedUntil = nil
	m.listings[listingID] = l
	return true, nil
}

func (m *memMarket) Complete(_ context.Context, listingID, buyerID uint64, at time.Time) (model.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok || !l.AvailableTo(buyerID, at) {
		return model.Trade{}, repository.ErrNotAvailable
	}
	l.Status = model.ListingSold
	l.ReservedBy = nil
	l.ReservedUntil = nil
	m.listings[listingID] = l

	t := model.Trade{
		ID: m.nextID, ListingID: listingID,
		SellerID: l.SellerID, BuyerID: buyerID,
		AmountCents: l.PriceCents, TradedAt: at,
	}
	m.nextID++
	m.trades = append(m.trades, t)
	return t, nil
}

func (m *memMarket) userByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return u, nil
}

// userStoreFunc adapts memMarket's user lookup to the UserStore
// interface without colliding with ListingStore.ByID.
type userStoreFunc func(ctx context.Context, id uint64) (model.User, error)

func (f userStoreFunc) ByID(ctx context.Context, id uint64) (model.User, error) { return f(ctx, id) }

func newTestSettlement(m *memMarket, publish func(context.Context, queue.TradeSettledEvent) error) *Settlement {
	return NewSettlement(m, m, userStoreFunc(m.userByID), 5*time.Minute, publish)
}

func TestSettleSuccess(t *testing.T) {
	m := newMemMarket()
	m.addUser(1, "seller")
	m.addUser(2, "buyer")
	m.addListing(10, 1, 1000)

	var published []queue.TradeSettledEvent
	s := newTestSettlement(m, func(_ context.Context, ev queue.TradeSettledEvent) error {
		published = append(published, ev)
		return nil
	})

	tr, err := s.Settle(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tr.SellerID != 1 || tr.BuyerID != 2 || tr.ListingID != 10 || tr.AmountCents != 1000 {
		t.Fatalf("unexpected trade: %+v", tr)
	}
	if got := m.listings[10].Status; got != model.ListingSold {
		t.Fatalf("listing status = %s, want SOLD", got)
	}
	if len(published) != 1 || published[0].AmountCents != 1000 ||
		published[0].SellerName != "seller" || published[0].BuyerName != "buyer" {
		t.Fatalf("unexpected events: %+v", published)
	}
}

func TestSettlePriceSnapshot(t *testing.T) {
	// The trade records the price at settlement time, taken in the
	// same critical section as the sold-flip.
	m := newMemMarket()
	m.addUser(1, "seller")
	m.addUser(2, "buyer")
	m.addListing(10, 1, 2500)

	s := newTestSettlement(m, nil)
	tr, err := s.Settle(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tr.AmountCents != 2500 {
		t.Fatalf("amount = %d, want 2500", tr.AmountCents)
	}
}

func TestSettleConcurrentSingleWinner(t *testing.T) {
	const buyers = 32

	m := newMemMarket()
	m.addUser(1, "seller")
	for i := uint64(0); i < buyers; i++ {
		m.addUser(100+i, "buyer")
	}
	m.addListing(10, 1, 500)

	s := newTestSettlement(m, nil)

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Settle(context.Background(), uint64(100+i), 10)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrNotAvailable):
		default:
			t.Fatalf("buyer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if len(m.trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(m.trades))
	}
}

func TestSettleSelfPurchaseAnyStatus(t *testing.T) {
	// Buying your own listing is rejected the same way whatever the
	// listing's status.
	for _, status := range []string{model.ListingAvailable, model.ListingReserved, model.ListingSold} {
		m := newMemMarket()
		m.addUser(1, "seller")
		m.addListing(10, 1, 100)
		l := m.listings[10]
		l.Status = status
		m.listings[10] = l

		s := newTestSettlement(m, nil)
		if _, err := s.Settle(context.Background(), 1, 10); !errors.Is(err, ErrSelfPurchase) {
			t.Fatalf("status %s: err = %v, want ErrSelfPurchase", status, err)
		}
	}
}

func TestSettlePreconditionErrors(t *testing.T) {
	m := newMemMarket()
	m.addUser(1, "seller")
	m.addUser(2, "buyer")
	m.addListing(10, 1, 100)
	m.addListing(11, 7, 100) // seller 7 does not exist
	m.listings[12] = model.Listing{ID: 12, SellerID: 1, CardID: 12, PriceCents: 100, Status: model.ListingSold}

	s := newTestSettlement(m, nil)
	ctx := context.Background()

	if _, err := s.Settle(ctx, 2, 999); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("missing listing: err = %v", err)
	}
	if _, err := s.Settle(ctx, 999, 10); !errors.Is(err, ErrBuyerUnknown) {
		t.Fatalf("missing buyer: err = %v", err)
	}
	if _, err := s.Settle(ctx, 2, 11); !errors.Is(err, ErrOrphanListing) {
		t.Fatalf("orphan listing: err = %v", err)
	}
	if _, err := s.Settle(ctx, 2, 12); !errors.Is(err, repository.ErrNotAvailable) {
		t.Fatalf("sold listing: err = %v", err)
	}
}

func TestReserveBlocksOtherBuyers(t *testing.T) {
	m := newMemMarket()
	m.addUser(1, "seller")
	m.addUser(2, "holder")
	m.addUser(3, "rival")
	m.addListing(10, 1, 100)

	s := newTestSettlement(m, nil)
	ctx := context.Background()

	until, err := s.Reserve(ctx, 2, 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !until.After(time.Now()) {
		t.Fatalf("reservation expires in the past: %v", until)
	}

	if _, err := s.Reserve(ctx, 3, 10); !errors.Is(err, repository.ErrNotAvailable) {
		t.Fatalf("rival reserve: err = %v", err)
	}
	if _, err := s.Settle(ctx, 3, 10); !errors.Is(err, repository.ErrNotAvailable) {
		t.Fatalf("rival settle: err = %v", err)
	}

	// The holder can settle their own reservation.
	if _, err := s.Settle(ctx, 2, 10); err != nil {
		t.Fatalf("holder settle: %v", err)
	}
}

func TestExpiredReservationReopens(t *testing.T) {
	m := newMemMarket()
	m.addUser(1, "seller")
	m.addUser(2, "holder")
	m.addUser(3, "rival")
	m.addListing(10, 1, 100)

	s := newTestSettlement(m, nil)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, 2, 10); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Move the clock past the hold.
	s.now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }

	if _, err := s.Settle(ctx, 3, 10); err != nil {
		t.Fatalf("settle after expiry: %v", err)
	}
	if got := m.trades[0].BuyerID; got != 3 {
		t.Fatalf("buyer = %d, want 3", got)
	}
}

func TestReleaseReturnsListing(t *testing.T) {
	m := newMemMarket()
	m.addUser(1, "seller")
	m.addUser(2, "holder")
	m.addUser(3, "rival")
	m.addListing(10, 1, 100)

	s := newTestSettlement(m, nil)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, 2, 10); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.Release(ctx, 3, 10); !errors.Is(err, repository.ErrNotAvailable) {
		t.Fatalf("rival release: err = %v", err)
	}
	if err := s.Release(ctx, 2, 10); err != nil {
		t.Fatalf("holder release: %v", err)
	}
	if got := m.listings[10].Status; got != model.ListingAvailable {
		t.Fatalf("status after release = %s", got)
	}
	if _, err := s.Settle(ctx, 3, 10); err != nil {
		t.Fatalf("settle after release: %v", err)
	}
}

func TestSettlePublishFailureDoesNotUndoTrade(t *testing.T) {
	m := newMemMarket()
	m.addUser(1, "seller")
	m.addUser(2, "buyer")
	m.addListing(10, 1, 100)

	s := newTestSettlement(m, func(context.Context, queue.TradeSettledEvent) error {
		return errors.New("broker down")
	})

	if _, err := s.Settle(context.Background(), 2, 10); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := m.listings[10].Status; got != model.ListingSold {
		t.Fatalf("status = %s, want SOLD", got)
	}
	if len(m.trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(m.trades))
	}
}

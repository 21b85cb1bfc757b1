package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/betbot/quoterd/internal/domain"
)

// Mock is an in-memory exchange client for testing.
// Supports call tracking and one-shot error injection per method name.
type Mock struct {
	mu sync.Mutex

	// Response data
	Books     map[string]MockBook
	Markets   map[string]*domain.Market
	Positions []domain.Position

	// Call tracking
	Calls     map[string]int
	Submitted []MockOrder
	Cancelled []string

	// Error injection
	ErrorOnNext map[string]error
	FailSubmit  bool
	FailCancel  bool

	nextOrderSeq int
}

// MockBook holds the raw levels returned for one token.
type MockBook struct {
	Bids []domain.BookLevel
	Asks []domain.BookLevel
}

// MockOrder records one SubmitOrder call.
type MockOrder struct {
	OrderID string
	TokenID string
	Side    domain.Side
	Price   float64
	Size    float64
}

// NewMock creates an empty mock client.
func NewMock() *Mock {
	return &Mock{
		Books:       make(map[string]MockBook),
		Markets:     make(map[string]*domain.Market),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *Mock) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *Mock) FetchOrderbook(ctx context.Context, tokenID string, depth int) ([]domain.BookLevel, []domain.BookLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("FetchOrderbook"); err != nil {
		return nil, nil, err
	}
	book, ok := m.Books[tokenID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return book.Bids, book.Asks, nil
}

func (m *Mock) FetchMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("FetchMarket"); err != nil {
		return nil, err
	}
	mk, ok := m.Markets[marketID]
	if !ok {
		return nil, ErrNotFound
	}
	return mk, nil
}

func (m *Mock) FetchPositions(ctx context.Context, address string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("FetchPositions"); err != nil {
		return nil, err
	}
	out := make([]domain.Position, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

func (m *Mock) SubmitOrder(ctx context.Context, tokenID string, side domain.Side, price, size float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SubmitOrder"); err != nil {
		return "", err
	}
	if m.FailSubmit {
		return "", fmt.Errorf("submit rejected")
	}
	m.nextOrderSeq++
	id := fmt.Sprintf("order-%d", m.nextOrderSeq)
	m.Submitted = append(m.Submitted, MockOrder{OrderID: id, TokenID: tokenID, Side: side, Price: price, Size: size})
	return id, nil
}

func (m *Mock) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("CancelOrder"); err != nil {
		return err
	}
	if m.FailCancel {
		return fmt.Errorf("cancel rejected")
	}
	m.Cancelled = append(m.Cancelled, orderID)
	return nil
}

// SetPositions replaces the mock position list.
func (m *Mock) SetPositions(positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = positions
}

// SetBook sets the levels for one token.
func (m *Mock) SetBook(tokenID string, bids, asks []domain.BookLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Books[tokenID] = MockBook{Bids: bids, Asks: asks}
}

// CallCount returns how many times a method was invoked.
func (m *Mock) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

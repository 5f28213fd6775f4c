// Package cart owns the in-memory checkout cart and the client event queue.
//
// The Store is the single authority on cart lines. Detections and user actions
// both go through it, so the one-line-per-product rule holds for every writer.
package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/catalog"
)

var (
	// ErrLineNotFound is returned for operations on a line id that does not exist.
	ErrLineNotFound = errors.New("cart: line not found")
	// ErrUnknownProduct is returned when a product id is not in the catalog.
	ErrUnknownProduct = errors.New("cart: product not in catalog")
	// ErrQuantityFloor is returned when a decrement would drop a line below 1.
	ErrQuantityFloor = errors.New("cart: quantity cannot drop below 1")
	// ErrUnknownAction is returned by ParseAction.
	ErrUnknownAction = errors.New("cart: unknown action")
)

// Catalog resolves product ids to prices.
type Catalog interface {
	Lookup(id string) (catalog.Product, bool)
}

// Line is one row of the cart. Name is the catalog product id.
type Line struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
}

// Subtotal returns price times quantity.
func (l Line) Subtotal() float64 {
	return l.Price * float64(l.Quantity)
}

// Action is a direct user mutation of a line.
type Action string

const (
	Increment Action = "increment"
	Decrement Action = "decrement"
	Remove    Action = "remove"
)

// ParseAction validates a client supplied action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case Increment, Decrement, Remove:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Snapshot is a consistent read of the cart.
type Snapshot struct {
	Lines     []Line  `json:"cart"`
	Total     float64 `json:"total"`
	ItemCount int     `json:"item_count"`
}

// Store is the authoritative list of cart lines.
type Store struct {
	catalog Catalog

	mu     sync.Mutex
	lines  []Line // insertion order
	nextID int
}

// NewStore creates an empty cart priced against c.
func NewStore(c Catalog) *Store {
	return &Store{catalog: c, nextID: 1}
}

// AddOrGetLine returns the line for productID, creating it with quantity 1 if
// absent. created reports whether a new line was made.
func (s *Store) AddOrGetLine(productID string) (line Line, created bool, err error) {
	p, ok := s.catalog.Lookup(productID)
	if !ok {
		return Line{}, false, fmt.Errorf("%w: %q", ErrUnknownProduct, productID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOfProductLocked(productID); i >= 0 {
		return s.lines[i], false, nil
	}
	return s.appendLocked(p), true, nil
}

// AddProduct is the explicit add path: it increments the existing line for
// productID or creates a new one.
func (s *Store) AddProduct(productID string) (Line, error) {
	p, ok := s.catalog.Lookup(productID)
	if !ok {
		return Line{}, fmt.Errorf("%w: %q", ErrUnknownProduct, productID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOfProductLocked(productID); i >= 0 {
		s.lines[i].Quantity++
		return s.lines[i], nil
	}
	return s.appendLocked(p), nil
}

// Apply performs a user action on a line. The returned line reflects the state
// after the action; for Remove it is the removed line.
func (s *Store) Apply(lineID int, action Action) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLineLocked(lineID)
	if i < 0 {
		return Line{}, fmt.Errorf("%w: id %d", ErrLineNotFound, lineID)
	}

	switch action {
	case Increment:
		s.lines[i].Quantity++
		return s.lines[i], nil
	case Decrement:
		if s.lines[i].Quantity <= 1 {
			return s.lines[i], ErrQuantityFloor
		}
		s.lines[i].Quantity--
		return s.lines[i], nil
	case Remove:
		removed := s.lines[i]
		s.lines = append(s.lines[:i], s.lines[i+1:]...)
		return removed, nil
	default:
		return Line{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Clear empties the cart. Line ids are not reused afterwards.
func (s *Store) Clear() {
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
}

// Checkout returns the final snapshot and empties the cart atomically.
func (s *Store) Checkout() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	s.lines = nil
	return snap
}

// Line returns the line with id.
func (s *Store) Line(id int) (Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfLineLocked(id); i >= 0 {
		return s.lines[i], true
	}
	return Line{}, false
}

// Snapshot returns the lines, the total price and the item count.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Lines: make([]Line, len(s.lines))}
	copy(snap.Lines, s.lines)
	for _, l := range s.lines {
		snap.Total += l.Subtotal()
		snap.ItemCount += l.Quantity
	}
	return snap
}

func (s *Store) appendLocked(p catalog.Product) Line {
	line := Line{
		ID:          s.nextID,
		Name:        p.Name,
		Price:       p.Price,
		Description: p.Description,
		Quantity:    1,
	}
	s.nextID++
	s.lines = append(s.lines, line)
	return line
}

func (s *Store) indexOfProductLocked(productID string) int {
	for i, l := range s.lines {
		if l.Name == productID {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfLineLocked(id int) int {
	for i, l := range s.lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

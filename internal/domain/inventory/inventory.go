package inventory

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrDuplicateMovement = errors.New("inventory: movement already recorded")
	ErrOverflow          = errors.New("inventory: quantity overflow")
)

// Direction tells whether a movement takes stock out or puts it back.
type Direction string

const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

// Line is a product/quantity pair handed to the ledger.
type Line struct {
	ProductID string
	Quantity  int
}

// Movement is one append-only ledger row. (OrderID, CauseID, ProductID, Direction)
// is unique, which is what makes a payment decrement stock at most once.
type Movement struct {
	ID        string
	OrderID   string
	ProductID string
	Direction Direction
	Quantity  int
	CauseID   string
	Reason    string
	CreatedAt time.Time
}

// Key is the uniqueness key of the movement.
func (m Movement) Key() string {
	return m.OrderID + "|" + m.CauseID + "|" + m.ProductID + "|" + string(m.Direction)
}

// Delta is the signed change the movement applies to available quantity.
func (m Movement) Delta() int {
	if m.Direction == DirectionOut {
		return -m.Quantity
	}
	return m.Quantity
}

// Shortage describes one product that could not cover the requested quantity.
type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Missing is how many units the product is short by.
func (s Shortage) Missing() int { return s.Requested - s.Available }

// ShortageError lists every product a decrease could not satisfy.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "inventory: insufficient stock: " + strings.Join(parts, ", ")
}

func (e *ShortageError) Is(target error) bool { return target == ErrInsufficientStock }

// MergeLines validates lines and folds repeated products into one line each,
// sorted by product id so that every store locks rows in the same order.
func MergeLines(lines []Line) ([]Line, error) {
	totals := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if totals[l.ProductID] > math.MaxInt32-l.Quantity {
			return nil, ErrOverflow
		}
		totals[l.ProductID] += l.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

// CheckedAdd adds delta to available, refusing to go negative or past MaxInt32.
func CheckedAdd(available, delta int) (int, error) {
	if delta > 0 && available > math.MaxInt32-delta {
		return available, ErrOverflow
	}
	next := available + delta
	if next < 0 {
		return available, ErrInsufficientStock
	}
	return next, nil
}

// NetOutflow sums the movements of one order into the quantity per product that
// left stock and has not come back.
func NetOutflow(movements []Movement) []Line {
	net := make(map[string]int)
	for _, m := range movements {
		net[m.ProductID] -= m.Delta()
	}
	lines := make([]Line, 0, len(net))
	for id, qty := range net {
		if qty > 0 {
			lines = append(lines, Line{ProductID: id, Quantity: qty})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

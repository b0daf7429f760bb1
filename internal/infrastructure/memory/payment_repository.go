package memory

import (
	"context"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// ProcessedPaymentRepository is the in-process deduplication store.
type ProcessedPaymentRepository struct {
	mu      sync.Mutex
	records map[string]domain.ProcessedPayment
}

func NewProcessedPaymentRepository() *ProcessedPaymentRepository {
	return &ProcessedPaymentRepository{records: make(map[string]domain.ProcessedPayment)}
}

func (r *ProcessedPaymentRepository) IsProcessed(ctx context.Context, provider domain.Provider, paymentID string) (bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.records[processedKey(provider, paymentID)]
	return ok, nil
}

func (r *ProcessedPaymentRepository) MarkProcessed(ctx context.Context, p domain.ProcessedPayment) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	key := processedKey(p.Provider, p.PaymentID)
	if _, exists := r.records[key]; exists {
		return domain.ErrAlreadyProcessed
	}
	r.records[key] = p
	return nil
}

// Count returns how many payments were marked; tests assert on it.
func (r *ProcessedPaymentRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func processedKey(provider domain.Provider, paymentID string) string {
	return string(provider) + "|" + paymentID
}

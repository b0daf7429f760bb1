package order

import (
	"context"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

// GetOrderUseCase reads one order for status pages and operators.
type GetOrderUseCase struct {
	repo domain.Repository
}

func NewGetOrderUseCase(repo domain.Repository) *GetOrderUseCase {
	return &GetOrderUseCase{repo: repo}
}

func (uc *GetOrderUseCase) Execute(ctx context.Context, id string) (*domain.Order, error) {
	o, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

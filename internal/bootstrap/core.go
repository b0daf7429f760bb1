package bootstrap

import (
	appaudit "github.com/Zhima-Mochi/minishop-checkout/internal/application/audit"
	appcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/application/coupon"
	appinv "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	apppay "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

// Core is the payment confirmation pipeline over one set of stores. Every
// channel that confirms a payment goes through the same instance.
type Core struct {
	Stores    *Stores
	Ledger    *appinv.Ledger
	Audit     *appaudit.Recorder
	Coupons   *appcoupon.Recorder
	Confirm   *apppay.ConfirmPaymentUseCase
	Deny      *apppay.DenyPaymentUseCase
	Refund    *apppay.RefundPaymentUseCase
	Reconcile *apppay.ReconcileOrderUseCase
}

// NewCore wires the orchestrator. A nil publisher drops domain events.
func NewCore(stores *Stores, publisher domoutbox.Publisher, tel observability.Observability) *Core {
	ledger := appinv.NewLedger(stores.Inventory, tel)
	recorder := appaudit.NewRecorder(stores.Audit, tel)
	coupons := appcoupon.NewRecorder(stores.Coupons, tel)

	deps := apppay.Deps{
		Orders:    stores.Orders,
		Ledger:    ledger,
		Coupons:   coupons,
		Dedup:     stores.Dedup,
		Audit:     recorder,
		Publisher: publisher,
		Provider:  dompay.ProviderPayPal,
	}
	return &Core{
		Stores:    stores,
		Ledger:    ledger,
		Audit:     recorder,
		Coupons:   coupons,
		Confirm:   apppay.NewConfirmPaymentUseCase(deps, tel),
		Deny:      apppay.NewDenyPaymentUseCase(deps, tel),
		Refund:    apppay.NewRefundPaymentUseCase(deps, tel),
		Reconcile: apppay.NewReconcileOrderUseCase(deps, tel),
	}
}

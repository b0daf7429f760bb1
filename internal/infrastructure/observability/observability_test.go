package observability_test

import (
	"strings"
	"testing"

	infraObs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutMetricsRecordPayments(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := prometrics.NewCheckout("minishop", reg)
	require.NoError(t, err)
	tel := infraObs.New(nil, nil, metrics)

	confirmations := tel.Metrics().Counter(observability.MPaymentConfirmations)
	confirmations.Add(1, observability.L("channel", "webhook"), observability.L("outcome", "applied"))
	confirmations.Bind(observability.L("channel", "capture"), observability.L("outcome", "already_processed")).Add(2)
	tel.Metrics().Histogram(observability.MUsecaseDuration).Observe(0.2, observability.L("use_case", "payment.confirm"))
	tel.Metrics().Counter(observability.MWebhookRedrives).Add(1, observability.L("outcome", "applied"))

	n, err := testutil.GatherAndCount(reg, "minishop_"+string(observability.MPaymentConfirmations))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg, "minishop_"+string(observability.MUsecaseDuration))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testutil.GatherAndCount(reg, "minishop_"+string(observability.MWebhookRedrives))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckoutMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := prometrics.NewCheckout("", reg)
	require.NoError(t, err)
	second, err := prometrics.NewCheckout("", reg)
	require.NoError(t, err)

	first.Counter(observability.MStockMovements).Add(1, observability.L("direction", "decrease"), observability.L("outcome", "applied"))
	second.Counter(observability.MStockMovements).Add(1, observability.L("direction", "decrease"), observability.L("outcome", "applied"))

	expected := `
# HELP stock_movements_total Stock ledger mutations by direction and outcome.
# TYPE stock_movements_total counter
stock_movements_total{direction="decrease",outcome="applied"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stock_movements_total"))
}

func TestRegisterRejectsChangedLabels(t *testing.T) {
	m := prometrics.New("", prometheus.NewRegistry())
	d := prometrics.Definition{Key: "dup_total", Help: "first", Labels: []string{"a"}}
	require.NoError(t, m.RegisterCounter(d))
	require.NoError(t, m.RegisterCounter(d))

	d.Labels = []string{"b"}
	assert.ErrorIs(t, m.RegisterCounter(d), prometrics.ErrLabelsChanged)
}

func TestMismatchedLabelsAreCountedNotPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := prometrics.NewCheckout("", reg)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		metrics.Counter(observability.MPaymentConfirmations).Add(1, observability.L("channel", "webhook"))
		metrics.Histogram(observability.MUsecaseDuration).Bind(observability.L("route", "/x")).Observe(1)
	})

	n, err := testutil.GatherAndCount(reg, "metric_samples_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewFallsBackToNop(t *testing.T) {
	tel := infraObs.New(nil, nil, nil)
	assert.NotNil(t, tel.Tracer())
	assert.NotNil(t, tel.Logger())
	assert.NotPanics(t, func() {
		tel.Metrics().Counter("unknown_total").Add(1)
		tel.Metrics().Histogram("unknown_seconds").Observe(1)
	})

	m := prometrics.New("", prometheus.NewRegistry())
	assert.NotPanics(t, func() { m.Counter("unknown_total").Add(1) })
}

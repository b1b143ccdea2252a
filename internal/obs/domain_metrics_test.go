package obs_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concordpay-gateway/internal/obs"
)

func TestDomainMetricsRecordCallbackOutcomes(t *testing.T) {
	obs.MustRegisterDomainMetrics("concordpay_test", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.PaymentCallbackTotal.WithLabelValues("signature_invalid"))
	obs.IncPaymentCallback("signature_invalid")
	require.Equal(t, before+1, testutil.ToFloat64(obs.PaymentCallbackTotal.WithLabelValues("signature_invalid")))

	obs.IncPaymentRequest("redirect", "ok")
	require.GreaterOrEqual(t, testutil.ToFloat64(obs.PaymentRequestTotal.WithLabelValues("redirect", "ok")), 1.0)

	obs.ObservePaymentCallback("ok", 12)
	require.Positive(t, testutil.CollectAndCount(obs.PaymentCallbackLatency))

	require.NotPanics(t, func() { obs.RecordCallbackRejection(context.Background(), "signature_invalid") })
}

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/go-realtime-payments/internal/metrics"
)

func TestDoneLogsAndObserves(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New(prometheus.NewRegistry())

	_, uc := Start(context.Background(), "create_payment", zap.New(core), m)
	uc.Done(nil, zap.String("payment_id", "p1"))

	_, uc = Start(context.Background(), "create_payment", zap.New(core), m)
	uc.Done(errors.New("boom"))

	entries := logs.FilterMessage("use_case_done").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "success", entries[0].ContextMap()["outcome"])
	assert.Equal(t, "p1", entries[0].ContextMap()["payment_id"])
	assert.Equal(t, "error", entries[1].ContextMap()["outcome"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])

	assert.Equal(t, 1, testutil.CollectAndCount(m.UsecaseDuration, "shop_usecase_duration_seconds"))
}

func TestNilLoggerAndMetrics(t *testing.T) {
	_, uc := Start(context.Background(), "get_order", nil, nil)
	assert.NotPanics(t, func() { uc.Done(nil) })
}

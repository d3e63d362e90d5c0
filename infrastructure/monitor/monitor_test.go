package monitor

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordQuotePlaced()
	m.RecordQuotePlaced()
	m.RecordQuoteCanceled("out_of_band")
	m.RecordQuoteFilled()
	m.UpdateQuoteDiffBps(20)
	m.UpdateLoopState(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.quotesPlaced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotesCanceled.WithLabelValues("out_of_band")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotesFilled))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.quoteDiffBps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loopState))
}

func TestUnwindAndRESTMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordUnwind("maker_filled", 5)
	m.RecordUnwind("taker_after_timeout", 120)
	m.RecordRESTRequest("new_order")
	m.RecordRESTError("new_order")
	m.UpdateBackoff(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.unwinds.WithLabelValues("maker_filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restErrors.WithLabelValues("new_order")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.backoffSeconds))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordCooldown()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mm_quoter_cooldowns_total 1")
}

package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorCounts(t *testing.T) {
	m := NewMetricsCollector()

	m.RecordIngest("image_prompt_patch", "success", 0.01)
	m.RecordIngest("image_prompt_patch", "success", 0.02)
	m.RecordIngest("", "error", 0.01)
	m.RecordRepair("trailing_commas")
	m.RecordSlotFallback()
	m.RecordMissingReferences("audio_patch", 2)
	m.RecordMissingReferences("audio_patch", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues("image_prompt_patch", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues("unknown", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repairsTotal.WithLabelValues("trailing_commas")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slotFallbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.missingReferences.WithLabelValues("audio_patch")))
}

func TestMetricsHandlerServesText(t *testing.T) {
	m := NewMetricsCollector()
	m.SetPersistedBytes("demo", 512)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pipeline_persisted_document_bytes{project="demo"} 512`)
}

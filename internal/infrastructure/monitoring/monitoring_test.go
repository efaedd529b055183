package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "memberdash/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_RecordsWorkflow(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	p.RecordStep("create", "identity_create", nil, 20*time.Millisecond)
	p.RecordStep("create", "member_insert", errors.New("duplicate"), 5*time.Millisecond)
	p.RecordOperation("create", apperrors.NewStepError(apperrors.ErrCodeMemberInsertFailed, errors.New("duplicate"), "failed"), 30*time.Millisecond)
	p.RecordOperation("list", nil, time.Millisecond)
	p.RecordOperation("delete", errors.New("plain"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.stepsTotal.WithLabelValues("create", "identity_create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.stepsTotal.WithLabelValues("create", "member_insert", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.operationsTotal.WithLabelValues("create", "error", "MEMBER_INSERT_FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.operationsTotal.WithLabelValues("list", "ok", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.operationsTotal.WithLabelValues("delete", "error", "INTERNAL_ERROR")))
}

func TestPrometheusCollector_HTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewPrometheusCollector(prometheus.NewRegistry())

	router := gin.New()
	router.Use(p.HTTPMiddleware())
	router.GET("/members/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/members/u-1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/members/u-2", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.httpRequestsTotal.WithLabelValues("GET", "/members/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("backend", func(ctx context.Context) error { return nil }, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") }, time.Second)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["backend"])
	assert.Equal(t, "connection refused", status.Checks["redis"])
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

package observability

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersEverything(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Registering twice should panic on duplicate collectors")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordStorageOperation("put", "local", 10*time.Millisecond, "")
	metrics.RecordStorageOperation("get", "aws_s3", 20*time.Millisecond, "not_found")
	metrics.RecordStorageOperation("get", "aws_s3", 20*time.Millisecond, "not_found")

	if got := testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("put", "local", "success")); got != 1 {
		t.Errorf("Expected 1 successful put, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("get", "aws_s3", "error")); got != 2 {
		t.Errorf("Expected 2 failed gets, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.StorageErrorsTotal.WithLabelValues("get", "aws_s3", "not_found")); got != 2 {
		t.Errorf("Expected 2 not_found errors, got %v", got)
	}
}

func TestMetrics_RecordStorageBytes(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordStorageBytes("write", "local", 512)
	metrics.RecordStorageBytes("write", "local", 0)

	if got := testutil.ToFloat64(metrics.StorageBytesTotal.WithLabelValues("write", "local")); got != 512 {
		t.Errorf("Expected 512 bytes, got %v", got)
	}
}

func TestMetrics_RecordAuthzDecision(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordAuthzDecision("audio", "delete", "owner", true)
	metrics.RecordAuthzDecision("audio", "delete", "default_deny", false)

	if got := testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("audio", "delete", "owner", "true")); got != 1 {
		t.Errorf("Expected 1 allowed decision, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("audio", "delete", "default_deny", "false")); got != 1 {
		t.Errorf("Expected 1 denied decision, got %v", got)
	}
}

func TestMetrics_AdmissionAndBusinessCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordRateLimited("anonymous")
	metrics.RecordRateLimited("anonymous")
	metrics.RecordTokensCleaned(3)
	metrics.RecordTokensCleaned(0)
	metrics.RecordMediaUpload("audio", "success")
	metrics.RecordMediaUpload("audio", "rejected")

	if got := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("anonymous")); got != 2 {
		t.Errorf("Expected 2 rate limited requests, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.APITokensCleanedTotal); got != 3 {
		t.Errorf("Expected 3 cleaned tokens, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.MediaUploadsTotal.WithLabelValues("audio", "rejected")); got != 1 {
		t.Errorf("Expected 1 rejected upload, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.RecordRateLimited("user")
	nilMetrics.RecordTokensCleaned(1)
	nilMetrics.RecordMediaUpload("audio", "success")
}

func TestMetrics_SettingCacheAndDBStats(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordSettingCache(true)
	metrics.RecordSettingCache(false)
	metrics.RecordSettingCache(false)
	metrics.RecordDBStats(sql.DBStats{OpenConnections: 4, Idle: 3})

	if got := testutil.ToFloat64(metrics.SettingCacheHitsTotal); got != 1 {
		t.Errorf("Expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SettingCacheMissesTotal); got != 2 {
		t.Errorf("Expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsOpen); got != 4 {
		t.Errorf("Expected 4 open connections, got %v", got)
	}
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var metrics *Metrics
	metrics.RecordStorageOperation("put", "local", time.Millisecond, "")
	metrics.RecordAuthzDecision("audio", "view", "owner", true)
	metrics.RecordSettingCache(true)
	metrics.RecordStorageBytes("read", "local", 1)
	metrics.RecordDBStats(sql.DBStats{})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/media/{library}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}).Methods(http.MethodGet)

	for _, path := range []string{"/media/audio/1", "/media/audio/2"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("Expected 418, got %d", rr.Code)
		}
	}

	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/media/{library}/{id}", "418"))
	if got != 2 {
		t.Errorf("Expected 2 requests under one route label, got %v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordAuthzDecision("image", "view", "broad_permission", true)

	rr := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "creatorhub_authz_decisions_total") {
		t.Error("Expected authz counter in exposition output")
	}
}

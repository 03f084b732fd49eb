package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/config"
	"github.com/medpanel/provider-geocoder/internal/model"
)

func TestChecker_Check(t *testing.T) {
	var hooks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hooks.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	recs := append(records(5, model.TierStreet, model.StatusAccepted, "google"),
		records(5, model.TierFailed, model.StatusNeedsReview, "")...)
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.2, WebhookURL: srv.URL}
	checker := NewChecker(NewCollector(&fakeLister{records: recs}), NewAlerter(cfg), cfg)

	assert.Nil(t, checker.Latest())
	checker.Check(context.Background(), zap.NewNop())

	snap := checker.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, 10, snap.Total)
	assert.Equal(t, int32(1), hooks.Load())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(NewCollector(&fakeLister{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return checker.Latest() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_CancelledBeforeStart(t *testing.T) {
	checker := NewChecker(NewCollector(&fakeLister{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
	assert.Nil(t, checker.Latest())
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	storagemocks "github.com/aevon-lab/event-aggregator/internal/mocks/storage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func health(t *testing.T, s *Server) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return resp.Code, body
}

func TestHealth(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		db         HealthChecker
		buffer     HealthChecker
		wantCode   int
		wantStatus string
		wantDB     string
		wantBuffer string
	}{
		{"all connected", ok, ok, http.StatusOK, "healthy", "connected", "connected"},
		{"direct mode", ok, nil, http.StatusOK, "healthy", "connected", "not_configured"},
		{"buffer down", ok, down, http.StatusOK, "degraded", "connected", "disconnected"},
		{"database down", down, ok, http.StatusServiceUnavailable, "unhealthy", "disconnected", "connected"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := health(t, New("127.0.0.1:0", tc.db, tc.buffer, "release"))
			require.Equal(t, tc.wantCode, code)
			require.Equal(t, tc.wantStatus, body["status"])
			require.Equal(t, tc.wantDB, body["database"])
			require.Equal(t, tc.wantBuffer, body["buffer"])
			if tc.wantCode == http.StatusServiceUnavailable {
				require.Equal(t, "service_unavailable", body["error_type"])
			} else {
				require.NotContains(t, body, "error_type")
			}
		})
	}
}

func TestHealth_UsesStorePing(t *testing.T) {
	store := storagemocks.NewEventStore(t)
	store.EXPECT().Ping(mock.Anything).Return(nil).Once()

	code, _ := health(t, New("127.0.0.1:0", store, nil, "release"))
	require.Equal(t, http.StatusOK, code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", pingFunc(func(context.Context) error { return nil }), nil, "release")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	require.NoError(t, <-done)
}

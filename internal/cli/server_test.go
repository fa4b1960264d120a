package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference"
	"github.com/yairfalse/keenstamp/pkg/metrics"
)

func TestStatusRouter(t *testing.T) {
	collector := metrics.NewCollector()
	engine := inference.NewEngine([]domain.ConfiguredStream{
		{Stream: domain.StreamDescriptor{Name: "users"}, CursorField: []string{"id"}},
		{Stream: domain.StreamDescriptor{Name: "orders"}, CursorField: []string{"updated_at"}},
	}, true, inference.WithObserver(collector))

	_, err := engine.Infer(&domain.Record{Stream: "users", Data: map[string]interface{}{"id": 7}, EmittedAt: 1625393730123})
	require.NoError(t, err)

	srv := httptest.NewServer(newStatusRouter(collector, engine))
	defer srv.Close()

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var status StatusResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.True(t, status.Inference)
		assert.Equal(t, map[string][]string{"orders": {"updated_at"}}, status.Cursors)
		assert.Equal(t, []string{"users"}, status.DisabledStreams)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		buf := new(strings.Builder)
		_, err = io.Copy(buf, resp.Body)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `keenstamp_streams_disabled_total{reason="ordinal",stream="users"} 1`)
	})

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/status", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

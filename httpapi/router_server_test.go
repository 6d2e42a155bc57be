package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cacherouter/blockhash"
	"github.com/inference-sim/cacherouter/cachemap"
	"github.com/inference-sim/cacherouter/protocol"
	"github.com/inference-sim/cacherouter/router"
)

func newTestRouterServer(nowMS int64) *RouterServer {
	m := cachemap.New()
	reg := router.NewRegistry(10_000, 1_000)
	d := &router.Dispatcher{Strategy: router.CacheAware, Map: m, Registry: reg, BlockSize: 4, SpeculativeLoadAddend: 0.1}
	h := protocol.NewHandler(m, reg, func() int64 { return nowMS })
	now := func() int64 { return nowMS }
	return NewRouterServer(d, reg, h, false, now)
}

func TestHandleListWorkers_ReportsLoadAndCacheCount(t *testing.T) {
	s := newTestRouterServer(100)
	s.Registry.Heartbeat("w1", "http://w1", 5, 100)
	s.Dispatcher.Map.AddBlockSequence("w1", []blockhash.Hash{"h1", "h2"})

	req := httptest.NewRequest("GET", "/v1/workers", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var body struct {
		Workers []workerListing `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Workers, 1)
	assert.Equal(t, "w1", body.Workers[0].WorkerID)
	assert.Equal(t, 5.0, body.Workers[0].CurrentLoad)
	assert.Equal(t, int64(100), body.Workers[0].LastHeartbeat)
	assert.Equal(t, 2, body.Workers[0].CachedBlockCount)
}

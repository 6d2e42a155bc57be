package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cacherouter/scheduler"
	"github.com/inference-sim/cacherouter/workercache"
)

func newTestWorkerServer(nowMS int64) *WorkerServer {
	cache := workercache.New(64)
	latency := scheduler.LatencyConfig{PrefillBaseMS: 5, PrefillPerBlockMS: 2.5, DecodePerTokenMS: 15}
	sched := scheduler.New(cache, latency)
	now := func() int64 { return nowMS }
	return NewWorkerServer(sched, 4, now)
}

func postAdmit(t *testing.T, s *WorkerServer, body admitRequest) (*httptest.ResponseRecorder, admitResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/admit", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	var resp admitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHandleAdmit_MissOnFirstRequest(t *testing.T) {
	s := newTestWorkerServer(0)
	rec, resp := postAdmit(t, s, admitRequest{
		RequestID:    "r1",
		PromptTokens: []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		DecodeTokens: 10,
	})
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "MISS", resp.CacheStatus)
	assert.Equal(t, 0, resp.MatchLength)
	assert.Equal(t, 2, resp.TotalBlocks)
}

func TestHandleAdmit_HitOnRepeatedPrefix(t *testing.T) {
	s := newTestWorkerServer(0)
	tokens := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	_, _ = postAdmit(t, s, admitRequest{RequestID: "r1", PromptTokens: tokens, DecodeTokens: 10})
	s.Scheduler.Complete("r1", 1)

	_, resp := postAdmit(t, s, admitRequest{RequestID: "r2", PromptTokens: tokens, DecodeTokens: 10})
	assert.Equal(t, "HIT", resp.CacheStatus)
	assert.Equal(t, 2, resp.MatchLength)
}

func TestHandleAdmit_RejectsEmptyPromptTokens(t *testing.T) {
	s := newTestWorkerServer(0)
	rec, _ := postAdmit(t, s, admitRequest{RequestID: "r1", PromptTokens: nil, DecodeTokens: 10})
	assert.Equal(t, 400, rec.Code)
}

package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pipelineEcho struct {
	prefix string
}

func (e pipelineEcho) reply(w http.ResponseWriter, req pipelineRequest) {
	type out struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	outputs := make([]out, len(req.InputData.Input))
	for i, in := range req.InputData.Input {
		outputs[i] = out{Source: in.Source, Target: e.prefix + in.Source}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"pipelineResponse": []map[string]any{{"taskType": "translation", "output": outputs}},
	})
}

func TestBhashini_RequestShape(t *testing.T) {
	var got pipelineRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		pipelineEcho{prefix: "as-"}.reply(w, got)
	}))
	defer srv.Close()

	b := NewBhashini(srv.URL, "sub-key", "en", 5*time.Second, 0, zap.NewNop())
	out, err := b.TranslateBatch(context.Background(), []string{"Hello", "World"}, "as")
	require.NoError(t, err)

	assert.Equal(t, []string{"as-Hello", "as-World"}, out)
	assert.Equal(t, "sub-key", auth)
	require.Len(t, got.PipelineTasks, 1)
	assert.Equal(t, "translation", got.PipelineTasks[0].TaskType)
	assert.Equal(t, "en", got.PipelineTasks[0].Config.Language.SourceLanguage)
	assert.Equal(t, "as", got.PipelineTasks[0].Config.Language.TargetLanguage)
	assert.Equal(t, []pipelineInput{{Source: "Hello"}, {Source: "World"}}, got.InputData.Input)
}

func TestBhashini_RetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req pipelineRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		pipelineEcho{prefix: "ok-"}.reply(w, req)
	}))
	defer srv.Close()

	b := NewBhashini(srv.URL, "k", "en", 5*time.Second, 5*time.Second, zap.NewNop())
	out, err := b.TranslateBatch(context.Background(), []string{"Hi"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok-Hi"}, out)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestBhashini_PermanentErrors(t *testing.T) {
	t.Run("client error is not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		}))
		defer srv.Close()

		b := NewBhashini(srv.URL, "k", "en", 5*time.Second, 5*time.Second, zap.NewNop())
		_, err := b.TranslateBatch(context.Background(), []string{"Hi"}, "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 413")
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("missing output array", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"pipelineResponse":[]}`))
		}))
		defer srv.Close()

		b := NewBhashini(srv.URL, "k", "en", 5*time.Second, 5*time.Second, zap.NewNop())
		_, err := b.TranslateBatch(context.Background(), []string{"Hi"}, "hi")
		assert.ErrorIs(t, err, ErrBadResponse)
	})
}

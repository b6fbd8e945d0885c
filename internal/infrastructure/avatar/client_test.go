package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(Config{
		BaseURL:        baseURL,
		APIKey:         "dGVzdDp0ZXN0",
		DefaultAvatar:  "https://avatars.example.com/noelle.jpeg",
		DefaultVoice:   "en-US-JennyNeural",
		RequestTimeout: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
		PollAttempts:   5,
	}, zaptest.NewLogger(t).Sugar())
	// No backoff between retries in tests.
	c.retryCfg.InitialDelay = time.Millisecond
	return c
}

func TestGenerateCreatesAndPolls(t *testing.T) {
	var polls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/talks":
			assert.Equal(t, "Basic dGVzdDp0ZXN0", r.Header.Get("Authorization"))

			var req createTalkRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "text", req.Script.Type)
			assert.Equal(t, "Take two tablets daily.", req.Script.Input)
			assert.Equal(t, "https://avatars.example.com/noelle.jpeg", req.SourceURL)
			require.NotNil(t, req.Script.Provider)
			assert.Equal(t, "en-US-JennyNeural", req.Script.Provider.VoiceID)

			json.NewEncoder(w).Encode(talkResponse{ID: "tlk_1", Status: "created"})

		case r.Method == http.MethodGet && r.URL.Path == "/talks/tlk_1":
			if atomic.AddInt32(&polls, 1) < 3 {
				json.NewEncoder(w).Encode(talkResponse{ID: "tlk_1", Status: "started"})
				return
			}
			json.NewEncoder(w).Encode(talkResponse{
				ID: "tlk_1", Status: "done",
				ResultURL: "https://cdn.example.com/tlk_1.mp4",
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)
	result, err := client.Generate(context.Background(), ports.AvatarRequest{Text: "Take two tablets daily."})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/tlk_1.mp4", result.VideoURL)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestGenerateFailsWhenRenderRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(talkResponse{ID: "tlk_2", Status: "created"})
			return
		}
		resp := talkResponse{ID: "tlk_2", Status: "error"}
		resp.Error = &struct {
			Description string `json:"description"`
		}{Description: "unsupported script"}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)
	_, err := client.Generate(context.Background(), ports.AvatarRequest{Text: "hello"})
	assert.ErrorIs(t, err, domain.ErrAvatarUnavailable)
}

func TestGenerateFailsAfterPollBudget(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(talkResponse{ID: "tlk_3", Status: "created"})
			return
		}
		json.NewEncoder(w).Encode(talkResponse{ID: "tlk_3", Status: "started"})
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)
	_, err := client.Generate(context.Background(), ports.AvatarRequest{Text: "hello"})
	assert.ErrorIs(t, err, domain.ErrAvatarUnavailable)
}

func TestGenerateWithoutAPIKey(t *testing.T) {
	client := NewClient(Config{
		BaseURL:        "https://api.example.com",
		RequestTimeout: time.Second,
		PollInterval:   time.Millisecond,
		PollAttempts:   1,
	}, zaptest.NewLogger(t).Sugar())

	_, err := client.Generate(context.Background(), ports.AvatarRequest{Text: "hello"})
	assert.ErrorIs(t, err, domain.ErrAvatarUnavailable)
}

func TestCreateTalkRetriesTransientFailure(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(talkResponse{ID: "tlk_4", Status: "created"})
			return
		}
		json.NewEncoder(w).Encode(talkResponse{
			ID: "tlk_4", Status: "done",
			ResultURL: "https://cdn.example.com/tlk_4.mp4",
		})
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)
	result, err := client.Generate(context.Background(), ports.AvatarRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/tlk_4.mp4", result.VideoURL)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

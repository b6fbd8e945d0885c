package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/circuitbreaker"
	"telecare/pkg/retry"

	"go.uber.org/zap"
)

// Config carries the connection and polling settings for the service.
type Config struct {
	BaseURL       string
	APIKey        string
	DefaultAvatar string
	DefaultVoice  string

	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollAttempts   int
}

// Client talks to the external text-to-video service. The API is job based:
// a create request returns a talk id and the result URL appears later, so
// Generate polls with a bounded attempt budget. The whole exchange is bounded
// by the configured request timeout on top of the caller's context.
type Client struct {
	baseURL      string
	apiKey       string
	avatarURL    string
	defaultVoice string

	timeout      time.Duration
	pollInterval time.Duration
	pollAttempts int

	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
	logger     *zap.SugaredLogger
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	})
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("avatar service circuit state changed", "from", from, "to", to)
	})

	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		avatarURL:    cfg.DefaultAvatar,
		defaultVoice: cfg.DefaultVoice,
		timeout:      cfg.RequestTimeout,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		breaker:      breaker,
		retryCfg: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		logger: logger,
	}
}

type createTalkRequest struct {
	Script    talkScript `json:"script"`
	SourceURL string     `json:"source_url"`
}

type talkScript struct {
	Type     string       `json:"type"`
	Input    string       `json:"input"`
	Provider *scriptVoice `json:"provider,omitempty"`
}

type scriptVoice struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id"`
}

type talkResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     *struct {
		Description string `json:"description"`
	} `json:"error"`
}

// Generate submits the script and waits for the rendered clip. On any failure
// the caller falls back to local speech synthesis, so errors carry
// ErrAvatarUnavailable for uniform handling.
func (c *Client) Generate(ctx context.Context, req ports.AvatarRequest) (ports.AvatarResult, error) {
	if c.apiKey == "" {
		return ports.AvatarResult{}, domain.ErrAvatarUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var talkID string
	err := c.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, c.retryCfg, func() error {
			id, err := c.createTalk(ctx, req)
			if err != nil {
				return err
			}
			talkID = id
			return nil
		})
	})
	if err != nil {
		c.logger.Errorw("failed to create avatar talk", "error", err)
		return ports.AvatarResult{}, fmt.Errorf("%w: %v", domain.ErrAvatarUnavailable, err)
	}

	url, err := c.pollResult(ctx, talkID)
	if err != nil {
		c.logger.Errorw("failed waiting for avatar result", "talk_id", talkID, "error", err)
		return ports.AvatarResult{}, fmt.Errorf("%w: %v", domain.ErrAvatarUnavailable, err)
	}

	c.logger.Infow("avatar clip ready", "talk_id", talkID)
	return ports.AvatarResult{VideoURL: url}, nil
}

func (c *Client) createTalk(ctx context.Context, req ports.AvatarRequest) (string, error) {
	sourceURL := req.AvatarType
	if sourceURL == "" {
		sourceURL = c.avatarURL
	}
	voice := req.Voice
	if voice == "" {
		voice = c.defaultVoice
	}

	body := createTalkRequest{
		Script: talkScript{
			Type:  "text",
			Input: req.Text,
		},
		SourceURL: sourceURL,
	}
	if voice != "" {
		body.Script.Provider = &scriptVoice{Type: "microsoft", VoiceID: voice}
	}

	var resp talkResponse
	if err := c.do(ctx, http.MethodPost, "/talks", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("talk created without id")
	}
	return resp.ID, nil
}

// pollResult waits for the render to finish. Transient poll failures consume
// an attempt rather than aborting; the budget bounds the total wait.
func (c *Client) pollResult(ctx context.Context, talkID string) (string, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var resp talkResponse
		if err := c.do(ctx, http.MethodGet, "/talks/"+talkID, nil, &resp); err != nil {
			c.logger.Debugw("avatar poll failed", "talk_id", talkID, "attempt", attempt, "error", err)
			continue
		}

		switch resp.Status {
		case "done":
			if resp.ResultURL == "" {
				return "", fmt.Errorf("talk done without result url")
			}
			return resp.ResultURL, nil
		case "error", "rejected":
			if resp.Error != nil {
				return "", fmt.Errorf("talk failed: %s", resp.Error.Description)
			}
			return "", fmt.Errorf("talk failed with status %s", resp.Status)
		}
	}
	return "", fmt.Errorf("talk %s not ready after %d attempts", talkID, c.pollAttempts)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("avatar service returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

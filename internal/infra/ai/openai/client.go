package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
	"github.com/ryotask/ecpatrol/internal/infra/ai/prompt"
)

const (
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 30 * time.Second
	defaultRetryLimit = 8
	maxTokens         = 512
	maxImageBytes     = 2 << 20
)

// Config untuk classifier client
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional, untuk endpoint OpenAI-compatible / test
	Timeout    time.Duration
	RetryLimit int
}

// Client memanggil risk classifier endpoint untuk satu item. Stateless antar
// invocation; satu-satunya state adalah attempt counter per call.
//
// Kebijakan failure (semua jadi data, bukan exception):
//   - 429/5xx: retry dengan backoff 2^attempt detik + jitter <1s, maksimal
//     RetryLimit percobaan; habis budget -> verdict error (rate limited).
//   - timeout per call: verdict error "timeout", tidak di-retry di sini.
//   - response non-2xx lain / body rusak: verdict error dengan pesannya.
type Client struct {
	api        *openai.Client
	httpc      *http.Client
	model      string
	timeout    time.Duration
	retryLimit int

	// injectable untuk test
	sleep  func(ctx context.Context, d time.Duration)
	jitter func() time.Duration
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	c := &Client{
		api:        openai.NewClientWithConfig(oc),
		httpc:      &http.Client{Timeout: 10 * time.Second},
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		retryLimit: cfg.RetryLimit,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.retryLimit <= 0 {
		c.retryLimit = defaultRetryLimit
	}
	c.sleep = sleepContext
	c.jitter = func() time.Duration { return time.Duration(rand.Float64() * float64(time.Second)) }
	return c
}

// SetSleeper overrides waiting between retries. Untuk test.
func (c *Client) SetSleeper(sleep func(ctx context.Context, d time.Duration)) { c.sleep = sleep }

// SetJitter overrides the jitter source. Untuk test.
func (c *Client) SetJitter(jitter func() time.Duration) { c.jitter = jitter }

// Classify implements the patrol.Classifier port. Error non-nil hanya saat
// ctx run dibatalkan; semua mode kegagalan lain jadi verdict error.
func (c *Client) Classify(ctx context.Context, item catalog.Item) (domain.Verdict, error) {
	req := c.buildRequest(ctx, item)

	for attempt := 0; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(cctx, req)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return domain.Verdict{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// call ini sudah memakan satu slot; caller boleh submit ulang
				// di batch berikutnya
				return errVerdict("timeout"), nil
			}
			if status := httpStatus(err); status == http.StatusTooManyRequests || status >= 500 {
				if attempt+1 >= c.retryLimit {
					return errVerdict(fmt.Sprintf("%s (status %d, %d attempts)", domain.ErrRateLimited, status, c.retryLimit)), nil
				}
				c.sleep(ctx, c.backoff(attempt))
				continue
			}
			return errVerdict(err.Error()), nil
		}

		if len(resp.Choices) == 0 {
			return errVerdict(domain.ErrMalformedResponse.Error() + ": no choices"), nil
		}
		return parseVerdict(resp.Choices[0].Message.Content), nil
	}
}

func (c *Client) buildRequest(ctx context.Context, item catalog.Item) openai.ChatCompletionRequest {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt.GetUserPrompt(item.Name)},
	}
	if item.ImageURL != "" {
		if part, ok := c.imagePart(ctx, item.ImageURL); ok {
			parts = append(parts, part)
		}
	}
	return openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
}

// imagePart resolves the image reference to embedded bytes. Gagal ambil
// gambar tidak fatal: klasifikasi jalan terus text-only.
func (c *Client) imagePart(ctx context.Context, imageURL string) (openai.ChatMessagePart, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return openai.ChatMessagePart{}, false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return openai.ChatMessagePart{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return openai.ChatMessagePart{}, false
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil || len(data) == 0 {
		return openai.ChatMessagePart{}, false
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}
	uri := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
	return openai.ChatMessagePart{
		Type:     openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{URL: uri, Detail: openai.ImageURLDetailLow},
	}, true
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt))*time.Second + c.jitter()
}

// parseVerdict normalizes the model reply into the canonical verdict shape.
// The upstream model historically answered with risk_level/is_critical and
// Japanese level names; none of that may leak past this boundary.
func parseVerdict(body string) domain.Verdict {
	var raw struct {
		RiskLevel     string `json:"riskLevel"`
		RiskLevelAlt  string `json:"risk_level"`
		IsCritical    *bool  `json:"isCritical"`
		IsCriticalAlt *bool  `json:"is_critical"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return errVerdict(domain.ErrMalformedResponse.Error() + ": " + err.Error())
	}

	level := raw.RiskLevel
	if level == "" {
		level = raw.RiskLevelAlt
	}
	risk, ok := normalizeLevel(level)
	if !ok {
		return errVerdict(fmt.Sprintf("%s: unknown risk level %q", domain.ErrMalformedResponse, level))
	}

	critical := false
	if raw.IsCritical != nil {
		critical = *raw.IsCritical
	} else if raw.IsCriticalAlt != nil {
		critical = *raw.IsCriticalAlt
	}

	v := domain.Verdict{RiskLevel: risk, IsCritical: critical, Reason: raw.Reason}
	return v.Normalize()
}

func normalizeLevel(s string) (domain.RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "高":
		return domain.RiskHigh, true
	case "medium", "中":
		return domain.RiskMedium, true
	case "low", "低":
		return domain.RiskLow, true
	case "error", "エラー":
		return domain.RiskError, true
	}
	return "", false
}

func errVerdict(reason string) domain.Verdict {
	return domain.Verdict{RiskLevel: domain.RiskError, Reason: reason}
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

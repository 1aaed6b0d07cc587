package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/llmclient"
)

// Options: Anthropic Messages API 最小必需。
type Options struct {
	BaseURL   string `json:"base_url"`    // https://api.anthropic.com
	Model     string `json:"model"`       // 默认 claude-sonnet-4-5
	APIKeyEnv string `json:"api_key_env"` // 默认 ANTHROPIC_API_KEY
	APIKey    string `json:"api_key"`
	// 协议版本头，默认 2023-06-01。
	Version        string            `json:"version,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    *float64          `json:"temperature,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	ExtraHeaders   map[string]string `json:"extra_headers,omitempty"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.anthropic.com"
	}
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if o.Version == "" {
		o.Version = "2023-06-01"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2048
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	url     string
	apiKey  string
	version string
	model   string
	maxTok  int
	temp    *float64
	extraH  map[string]string
	do      func(*http.Request) (*http.Response, error)
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("anthropic options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic: %w: missing api key", contract.ErrConfigInvalid)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		url:     strings.TrimRight(opts.BaseURL, "/") + "/v1/messages",
		apiKey:  key,
		version: opts.Version,
		model:   opts.Model,
		maxTok:  opts.MaxTokens,
		temp:    opts.Temperature,
		extraH:  opts.ExtraHeaders,
		do:      hc.Do,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke: 单次调用，同步返回拼接后的文本块。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	sys, user, _, err := llmclient.SplitPrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	body, err := json.Marshal(&request{
		Model:       c.model,
		MaxTokens:   c.maxTok,
		System:      sys,
		Messages:    []message{{Role: "user", Content: user}},
		Temperature: c.temp,
	})
	if err != nil {
		return contract.Raw{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return contract.Raw{}, ctx.Err()
			}
		}
		return contract.Raw{}, fmt.Errorf("anthropic: %v: %w", err, contract.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		var eb errorBody
		if json.Unmarshal(slurp, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Type + ": " + eb.Error.Message
		}
		return contract.Raw{}, llmclient.FromStatus("anthropic", resp.StatusCode, msg)
	}
	var ar response
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	var sb strings.Builder
	for _, blk := range ar.Content {
		if blk.Type == "text" {
			sb.WriteString(blk.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: sb.String()}, nil
}

var _ contract.LLMClient = (*Client)(nil)

package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/llmclient"
)

// Options: Gemini（google.golang.org/genai）最小必需。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// BaseURL 可覆盖官方端点（代理/测试）。
	BaseURL string `json:"base_url,omitempty"`
	// 单次调用超时（秒），默认 60。
	TimeoutSeconds  int      `json:"timeout_seconds,omitempty"`
	MaxOutputTokens int32    `json:"max_output_tokens,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 2048
	}
}

type Client struct {
	gc      *genai.Client
	model   string
	timeout time.Duration
	maxOut  int32
	temp    *float32
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrConfigInvalid)
	}
	cfg := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/") + "/"}
	}
	gc, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %v: %w", err, contract.ErrConfigInvalid)
	}
	return &Client{
		gc:      gc,
		model:   opts.Model,
		timeout: time.Duration(opts.TimeoutSeconds) * time.Second,
		maxOut:  opts.MaxOutputTokens,
		temp:    opts.Temperature,
	}, nil
}

// Invoke: 单次调用，同步返回首个候选的文本。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	sys, user, schema, err := llmclient.SplitPrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: c.maxOut,
		Temperature:     c.temp,
	}
	if sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	// 携带 schema 时要求 JSON 输出
	if schema != "" {
		cfg.ResponseMIMEType = "application/json"
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.gc.Models.GenerateContent(cctx, c.model, genai.Text(user), cfg)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, MapError(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return contract.Raw{}, fmt.Errorf("gemini: empty candidate: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: text}, nil
}

// MapError 将 SDK 错误归入统一分类。
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var ae genai.APIError
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.Status != "" {
			msg = ae.Status + ": " + msg
		}
		return llmclient.FromStatus("gemini", ae.Code, msg)
	}
	var pae *genai.APIError
	if errors.As(err, &pae) && pae != nil {
		return llmclient.FromStatus("gemini", pae.Code, pae.Status+": "+pae.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gemini: %v: %w", err, contract.ErrTransient)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("gemini: %v: %w", err, contract.ErrTransient)
	}
	return llmclient.FromStatus("gemini", http.StatusInternalServerError, err.Error())
}

var _ contract.LLMClient = (*Client)(nil)

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// MaxCompletionRetries bounds the "finish the truncated text" follow-ups.
	MaxCompletionRetries = 2
	defaultTemperature   = 0.7
)

// ErrEmptyResponse is returned when the first completion carries no text.
var ErrEmptyResponse = errors.New("AI 응답이 비어있습니다.")

var completeSentencePattern = regexp.MustCompile(`[함음임됨봄옴줌춤움늠름다요까니][.!?]\s*$`)

// ServiceError reports a transport or HTTP failure from the completion backend.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm service error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm service error: %s", e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Config configures the completion client.
type Config struct {
	BaseURL        string
	APIKey         string
	DefaultModel   string
	Temperature    float64
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// CompletionRequest is one system/user exchange.
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	Temperature *float64
}

// GenerateRequest is the high-level request used by the draft and summary pipelines.
type GenerateRequest struct {
	SystemMessage          string
	Prompt                 string
	AdditionalInstructions string
	Model                  string
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	api          openai.Client
	defaultModel string
	temperature  float64
	logger       *zap.Logger
}

// NewClient builds a client. The SDK's own retries are disabled; retry policy lives in GenerateWithRetry.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/v1/"),
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("X-API-Key", cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:          openai.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		temperature:  temperature,
		logger:       logger,
	}
}

// DefaultModel returns the model used when a request leaves it blank.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

// Complete performs a single non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(temperature),
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		svcErr := toServiceError(err)
		c.logger.Warn("llm completion failed",
			zap.String("model", model),
			zap.Int("status", svcErr.StatusCode),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return "", svcErr
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &ServiceError{Message: "응답 형식이 올바르지 않습니다."}
	}

	c.logger.Debug("llm completion",
		zap.String("model", model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("chars", len([]rune(resp.Choices[0].Message.Content))),
	)
	return resp.Choices[0].Message.Content, nil
}

// Generate is the plain system/prompt call.
func (c *Client) Generate(ctx context.Context, systemMessage, prompt, model string) (string, error) {
	return c.Complete(ctx, CompletionRequest{System: systemMessage, User: prompt, Model: model})
}

// GenerateWithInstructions folds teacher-supplied rules into the system message and
// wraps them around the prompt on both sides.
func (c *Client) GenerateWithInstructions(ctx context.Context, req GenerateRequest) (string, error) {
	system, prompt := applyInstructions(req)
	return c.Generate(ctx, system, prompt, req.Model)
}

// GenerateWithRetry calls the model and, while the output looks cut off mid-sentence,
// asks up to MaxCompletionRetries times for a completed rewrite. The most recent
// non-empty content is kept even if it still looks incomplete, and a failing
// follow-up call leaves the content already received in place.
func (c *Client) GenerateWithRetry(ctx context.Context, req GenerateRequest) (string, error) {
	content, err := c.GenerateWithInstructions(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}

	for retry := 0; retry < MaxCompletionRetries; retry++ {
		if EndsWithCompleteSentence(content) {
			break
		}
		c.logger.Info("llm output incomplete, retrying",
			zap.Int("retry", retry+1),
			zap.Int("max_retries", MaxCompletionRetries),
			zap.String("tail", tail(content, 30)),
		)

		retryContent, err := c.Generate(ctx, req.SystemMessage, completionRetryPrompt(content), req.Model)
		if err != nil {
			c.logger.Warn("llm completion retry failed, keeping previous content", zap.Error(err))
			break
		}
		if strings.TrimSpace(retryContent) == "" {
			continue
		}
		content = retryContent
		if EndsWithCompleteSentence(content) {
			break
		}
	}

	return content, nil
}

// EndsWithCompleteSentence reports whether text ends with a Korean sentence-final syllable and punctuation.
func EndsWithCompleteSentence(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	return completeSentencePattern.MatchString(trimmed)
}

func applyInstructions(req GenerateRequest) (string, string) {
	system := req.SystemMessage
	prompt := req.Prompt
	extra := strings.TrimSpace(req.AdditionalInstructions)
	if extra == "" {
		return system, prompt
	}
	system += "\n\n사용자 추가 규칙 (최우선 준수):\n" + req.AdditionalInstructions
	prompt = "[최우선 규칙] 다음 규칙을 반드시 지켜서 작성하라: " + req.AdditionalInstructions + "\n\n" +
		prompt +
		"\n\n[다시 한번 강조] 위 본문 작성 시 반드시 적용할 규칙: " + req.AdditionalInstructions
	return system, prompt
}

func completionRetryPrompt(content string) string {
	return "다음 텍스트는 문장이 중간에 끊겼습니다. 같은 내용을 완전한 문장으로 끝나도록 다시 작성하세요. " +
		"반드시 종결어미와 마침표로 끝내세요. 오직 본문만 출력하세요.\n\n불완전한 텍스트:\n" + content
}

func toServiceError(err error) *ServiceError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ServiceError{
			StatusCode: apiErr.StatusCode,
			Message:    errorMessage(apiErr),
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ServiceError{Message: "요청 시간이 초과되었거나 취소되었습니다.", Err: err}
	}
	return &ServiceError{Message: "AI 서버에 연결할 수 없습니다.", Err: err}
}

// errorMessage prefers the body's "error" string (Ollama style), then "error.message"
// (OpenAI style), then a generic status message.
func errorMessage(apiErr *openai.Error) string {
	var body []byte
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		body, _ = io.ReadAll(apiErr.Response.Body)
	}
	if len(body) == 0 {
		body = []byte(apiErr.RawJSON())
	}
	if gjson.ValidBytes(body) {
		if v := gjson.GetBytes(body, "error"); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return v.Str
		}
		if v := gjson.GetBytes(body, "error.message"); strings.TrimSpace(v.String()) != "" {
			return v.String()
		}
		if v := gjson.GetBytes(body, "message"); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return v.Str
		}
	}
	return fmt.Sprintf("서버 오류 (%d)", apiErr.StatusCode)
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return "..." + string(runes[len(runes)-n:])
}

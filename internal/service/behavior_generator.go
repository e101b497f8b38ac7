package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-counsel-api/internal/models"
	"github.com/noah-isme/sma-counsel-api/pkg/llm"
)

// DefaultMaxRewriteAttempts bounds rewrite cycles; total generation calls are this plus one.
const DefaultMaxRewriteAttempts = 4

type textGenerator interface {
	GenerateWithRetry(ctx context.Context, req llm.GenerateRequest) (string, error)
}

type generationRecorder interface {
	ObserveDraftAttempts(attempts int, outcome string)
	IncLLMCall(outcome string)
}

// ValidationExhaustedError is returned when every attempt produced a draft that broke the style rules.
type ValidationExhaustedError struct {
	Attempts   int
	LastDraft  string
	Violations []models.Violation
}

func (e *ValidationExhaustedError) Error() string {
	return fmt.Sprintf("draft failed validation after %d attempts: %s", e.Attempts, strings.Join(e.Messages(), " "))
}

// Messages returns the violation messages of the final attempt.
func (e *ValidationExhaustedError) Messages() []string {
	return models.ViolationReport{Violations: e.Violations}.Messages()
}

// DraftGeneratorConfig tunes the validation loop.
type DraftGeneratorConfig struct {
	MaxRewriteAttempts int
	Validate           ValidateOptions
	SystemMessage      string
}

// DraftGenerator drives generation, cleanup and validation until a draft passes or the budget runs out.
type DraftGenerator struct {
	client  textGenerator
	metrics generationRecorder
	logger  *zap.Logger
	cfg     DraftGeneratorConfig
}

// NewDraftGenerator constructs a DraftGenerator. A negative attempt budget falls back to the default.
func NewDraftGenerator(client textGenerator, metrics generationRecorder, logger *zap.Logger, cfg DraftGeneratorConfig) *DraftGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRewriteAttempts < 0 {
		cfg.MaxRewriteAttempts = DefaultMaxRewriteAttempts
	}
	if cfg.SystemMessage == "" {
		cfg.SystemMessage = BehaviorSystemMessage
	}
	if cfg.Validate.MinLength <= 0 && cfg.Validate.MaxLength <= 0 {
		enforce := cfg.Validate.EnforceLength
		cfg.Validate = DefaultValidateOptions()
		cfg.Validate.EnforceLength = enforce
	}
	return &DraftGenerator{client: client, metrics: metrics, logger: logger, cfg: cfg}
}

// GenerateValidatedDraft returns the first cleaned draft that passes ValidateDraft. Client
// errors are returned unchanged; exhausting the budget yields *ValidationExhaustedError.
func (g *DraftGenerator) GenerateValidatedDraft(ctx context.Context, prompt, model string) (string, error) {
	start := time.Now()
	current := prompt
	var report models.ViolationReport

	for attempt := 0; ; attempt++ {
		raw, err := g.client.GenerateWithRetry(ctx, llm.GenerateRequest{
			SystemMessage: g.cfg.SystemMessage,
			Prompt:        current,
			Model:         model,
		})
		if err != nil {
			g.recordCall("error")
			g.recordAttempts(attempt+1, "error")
			return "", err
		}
		g.recordCall("ok")

		cleaned := NormalizeDraftText(CleanMetaInfo(raw))
		report = ValidateDraft(cleaned, g.cfg.Validate)
		if report.Valid {
			g.logger.Debug("draft accepted",
				zap.Int("attempt", attempt+1),
				zap.Int("chars", len([]rune(cleaned))),
				zap.Duration("elapsed", time.Since(start)),
			)
			g.recordAttempts(attempt+1, "completed")
			return cleaned, nil
		}

		g.logger.Info("draft rejected",
			zap.Int("attempt", attempt+1),
			zap.Strings("violations", report.Messages()),
		)
		if attempt >= g.cfg.MaxRewriteAttempts {
			g.recordAttempts(attempt+1, "exhausted")
			return "", &ValidationExhaustedError{
				Attempts:   attempt + 1,
				LastDraft:  cleaned,
				Violations: report.Violations,
			}
		}
		current = BuildRewritePrompt(prompt, cleaned, report.Messages())
	}
}

func (g *DraftGenerator) recordCall(outcome string) {
	if g.metrics != nil {
		g.metrics.IncLLMCall(outcome)
	}
}

func (g *DraftGenerator) recordAttempts(attempts int, outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveDraftAttempts(attempts, outcome)
	}
}

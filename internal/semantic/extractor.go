// Package semantic asks a language model for the sections and questions of
// a template and coerces the reply into strict question records. Every
// failure degrades to the plain-text pattern heuristics.
package semantic

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tender-cli/internal/detect"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/internal/textnorm"
	"github.com/sells-group/tender-cli/pkg/anthropic"
)

// ErrUnavailable reports that the semantic pass produced nothing usable.
// It is recorded on the Result, never returned.
var ErrUnavailable = eris.New("semantic: extraction unavailable")

// DefaultConfidence applies to model questions that carry no confidence.
const DefaultConfidence = 0.8

const phase = "semantic_extraction"

// Config tunes the extractor.
type Config struct {
	Model             string
	MaxTokens         int64
	Timeout           time.Duration
	MaxChars          int
	RequestsPerSecond float64
	BreakerFailures   int
	BreakerResetSecs  int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Model:             "claude-sonnet-4-5-20250929",
		MaxTokens:         8192,
		Timeout:           90 * time.Second,
		MaxChars:          60000,
		RequestsPerSecond: 1,
		BreakerFailures:   3,
		BreakerResetSecs:  60,
	}
}

// Result is the outcome of one semantic pass.
type Result struct {
	Sections      []model.Section      `json:"sections"`
	Questions     []model.Question     `json:"questions"`
	CompanyFields []model.CompanyField `json:"company_fields"`
	Degraded      bool                 `json:"degraded"`
	Err           error                `json:"-"`
	Usage         anthropic.TokenUsage `json:"-"`
}

// Extractor runs the semantic pass.
type Extractor struct {
	client   anthropic.Client
	cfg      Config
	breaker  *resilience.CircuitBreaker
	limiter  *rate.Limiter
	fallback *detect.Detector
}

// New creates an Extractor. A nil client makes every pass degrade to the
// fallback heuristics.
func New(client anthropic.Client, cfg Config, fallback *detect.Detector) *Extractor {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if fallback == nil {
		fallback = detect.NewDefault()
	}
	return &Extractor{
		client:   client,
		cfg:      cfg,
		breaker:  resilience.NewCircuitBreaker(resilience.BreakerFromConfig("anthropic", cfg.BreakerFailures, cfg.BreakerResetSecs)),
		limiter:  rate.NewLimiter(limit, 1),
		fallback: fallback,
	}
}

// Extract runs one model request over the plain-text rendering of a
// template. It always returns a result.
func (e *Extractor) Extract(ctx context.Context, text string) *Result {
	res, err := e.extract(ctx, text)
	if err == nil {
		return res
	}

	zap.L().Warn("semantic: falling back to text heuristics", zap.Error(err))
	fb := e.fallback.DetectText(text)
	questions := make([]model.Question, len(fb.Questions))
	for i, q := range fb.Questions {
		q.Provenance = model.ProvenanceSemantic
		questions[i] = q
	}
	return &Result{
		Sections:      fb.Sections,
		Questions:     questions,
		CompanyFields: []model.CompanyField{},
		Degraded:      true,
		Err:           err,
	}
}

func (e *Extractor) extract(ctx context.Context, text string) (*Result, error) {
	if e.client == nil {
		return nil, eris.Wrap(ErrUnavailable, "no model client configured")
	}

	truncated := textnorm.Truncate(text, e.cfg.MaxChars)
	if len(truncated) < len(text) {
		zap.L().Debug("semantic: input truncated",
			zap.Int("max_chars", e.cfg.MaxChars),
			zap.Int("original_bytes", len(text)),
		)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: buildUserPrompt(truncated)}},
		Temperature: &temp,
	}

	start := time.Now()
	resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	resp.Usage.LogCost(e.cfg.Model, phase)

	res, err := parseReply(resp.Text())
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	res.Usage = resp.Usage

	zap.L().Info("semantic: extraction complete",
		zap.Int("sections", len(res.Sections)),
		zap.Int("questions", len(res.Questions)),
		zap.Int("company_fields", len(res.CompanyFields)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

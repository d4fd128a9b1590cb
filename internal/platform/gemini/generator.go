// Package gemini implements the stage generator on top of Google's
// Gemini API. Each pipeline stage maps to one prompt; responses are
// requested as JSON and stored verbatim as the stage result blob.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"google.golang.org/genai"

	"github.com/taskforge/pipeline-api/internal/config"
	"github.com/taskforge/pipeline-api/internal/domain"
	"github.com/taskforge/pipeline-api/internal/stage"
)

// Generator implements stage.Generator using the Gemini API.
type Generator struct {
	logger *slog.Logger
	config config.LLMConfig
	client *genai.Client
	model  string

	// call performs one model invocation. Injectable for tests.
	call func(ctx context.Context, prompt string) (string, error)
}

var _ stage.Generator = (*Generator)(nil)

// NewGenerator creates a Generator with the provided configuration.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	g := &Generator{
		logger: logger.With("component", "gemini_generator"),
		config: cfg,
		client: client,
		model:  cfg.ModelName,
	}
	g.call = g.callModel
	return g, nil
}

// AnalyzeTask implements stage.Generator.
func (g *Generator) AnalyzeTask(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return g.generate(ctx, analyzePrompt(task))
}

// GeneratePlan implements stage.Generator.
func (g *Generator) GeneratePlan(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return g.generate(ctx, planPrompt(task))
}

// DecomposeTask implements stage.Generator.
func (g *Generator) DecomposeTask(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return g.generate(ctx, decomposePrompt(task))
}

// generate runs one prompt through the model with retry and validates
// that the answer is a JSON document.
func (g *Generator) generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	text, err := g.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(text)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: model did not return valid JSON", ErrInvalidResponse)
	}
	return raw, nil
}

// callModel performs a single Gemini API invocation.
func (g *Generator) callModel(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}
	return text, nil
}

// callWithRetry calls the model with exponential backoff and jitter.
// Invalid-response and safety errors are permanent; everything else is
// treated as transient.
func (g *Generator) callWithRetry(ctx context.Context, prompt string) (string, error) {
	maxRetries := g.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	baseDelaySeconds := g.config.RetryDelaySeconds
	if baseDelaySeconds < 1 {
		baseDelaySeconds = 2
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		g.logger.Debug("calling Gemini API",
			"attempt", attempt+1,
			"max_attempts", maxRetries+1)

		text, err := g.call(ctx, prompt)
		if err == nil {
			return text, nil
		}

		if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrContentBlocked) {
			g.logger.Warn("permanent generation error", "error", err)
			return "", err
		}
		if attempt >= maxRetries {
			g.logger.Warn("retry budget exhausted", "attempts", attempt+1, "error", err)
			return "", fmt.Errorf("%w: exceeded %d attempts: %v",
				ErrTransientFailure, maxRetries+1, err)
		}

		// delay = base * 2^attempt, scaled by jitter in [0.5, 1.0).
		backoff := float64(baseDelaySeconds) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5) * float64(time.Second))

		g.logger.Info("retrying Gemini API call",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTransientFailure, ctx.Err())
		}
	}
}

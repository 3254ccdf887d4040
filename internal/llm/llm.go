// Package llm wraps the Gemini text models behind a small request type with
// model fallback and retries.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

const (
	DefaultRetryDelay   = 2 * time.Second
	MimeTypeJSON        = "application/json"
	defaultMaxRetries   = 1
	defaultTemperature  = 0.6
	defaultTimeoutLimit = 120 * time.Second
)

var (
	ErrAPIKeyMissing = errors.New("api key is empty")
	ErrNoModels      = errors.New("no text models configured")
	ErrEmptyResponse = errors.New("empty response")
	ErrEmptyPrompt   = errors.New("user prompt is empty")
)

// ContentGenerator is the subset of *genai.Models used for text generation.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// TextRequest describes one text generation call. An empty Model uses the
// configured fallback list.
type TextRequest struct {
	Model             string
	SystemInstruction string
	UserPrompt        string
	ResponseMIMEType  string
	ResponseSchema    *genai.Schema
}

type Config struct {
	Models      []string
	Temperature float64
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

type Processor struct {
	generator     ContentGenerator
	serviceLogger *logger.Logger
	configuration Config
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrAPIKeyMissing
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return client, nil
}

func NewProcessor(generator ContentGenerator, configuration Config, serviceLogger *logger.Logger) (*Processor, error) {
	if len(configuration.Models) == 0 {
		return nil, ErrNoModels
	}

	if configuration.MaxRetries < 1 {
		configuration.MaxRetries = defaultMaxRetries
	}

	if configuration.Timeout <= 0 {
		configuration.Timeout = defaultTimeoutLimit
	}

	if configuration.Temperature == 0 {
		configuration.Temperature = defaultTemperature
	}

	return &Processor{
		generator:     generator,
		serviceLogger: serviceLogger,
		configuration: configuration,
	}, nil
}

// Generate returns the raw text of the first model that answers.
func (p *Processor) Generate(ctx context.Context, request TextRequest) (string, error) {
	if strings.TrimSpace(request.UserPrompt) == "" {
		return "", ErrEmptyPrompt
	}

	models := p.configuration.Models
	if request.Model != "" {
		models = []string{request.Model}
	}

	return p.tryAllModels(ctx, models, request)
}

func (p *Processor) tryAllModels(ctx context.Context, models []string, request TextRequest) (string, error) {
	var lastErr error

	for _, model := range models {
		result, err := p.tryModelWithRetries(ctx, model, request)
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("context done: %w", ctx.Err())
		}

		lastErr = err
		p.serviceLogger.Warnf("Model %s failed: %v", model, err)
	}

	return "", fmt.Errorf("all models failed, last error: %w", lastErr)
}

func (p *Processor) tryModelWithRetries(ctx context.Context, model string, request TextRequest) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= p.configuration.MaxRetries; attempt++ {
		result, err := p.callModel(ctx, model, request)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if attempt < p.configuration.MaxRetries {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("context done: %w", ctx.Err())
			case <-time.After(p.configuration.RetryDelay):
			}
		}
	}

	return "", fmt.Errorf("model %s failed after %d attempts: %w", model, p.configuration.MaxRetries, lastErr)
}

func (p *Processor) callModel(ctx context.Context, model string, request TextRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.configuration.Timeout)
	defer cancel()

	resp, err := p.generator.GenerateContent(
		callCtx,
		model,
		genai.Text(request.UserPrompt),
		p.generationConfig(request),
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if resp == nil {
		return "", ErrEmptyResponse
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}

	return text, nil
}

func (p *Processor) generationConfig(request TextRequest) *genai.GenerateContentConfig {
	generationConfig := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(p.configuration.Temperature)),
		ResponseMIMEType: request.ResponseMIMEType,
		ResponseSchema:   request.ResponseSchema,
	}

	if request.SystemInstruction != "" {
		generationConfig.SystemInstruction = genai.NewContentFromText(request.SystemInstruction, genai.RoleUser)
	}

	return generationConfig
}

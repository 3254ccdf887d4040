package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/book-expert/blog-illustrator-service/internal/llm"
)

var errUnavailable = errors.New("model unavailable")

type recordedCall struct {
	model  string
	prompt string
	config *genai.GenerateContentConfig
}

type fakeGenerator struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string][]string
}

func (f *fakeGenerator) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompt := ""
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		prompt = contents[0].Parts[0].Text
	}

	f.calls = append(f.calls, recordedCall{model: model, prompt: prompt, config: config})

	queue := f.responses[model]
	if len(queue) == 0 {
		return nil, errUnavailable
	}

	text := queue[0]
	f.responses[model] = queue[1:]

	if text == "" {
		return nil, errUnavailable
	}

	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func TestNewProcessor_RequiresModels(t *testing.T) {
	t.Parallel()

	_, err := llm.NewProcessor(&fakeGenerator{}, llm.Config{}, newTestLogger(t))

	require.ErrorIs(t, err, llm.ErrNoModels)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := llm.NewClient(context.Background(), "  ")

	require.ErrorIs(t, err, llm.ErrAPIKeyMissing)
}

func TestGenerate_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{responses: map[string][]string{"primary": {`{"placements":[]}`}}}
	processor, err := llm.NewProcessor(generator, llm.Config{Models: []string{"primary"}, Temperature: 0.25}, newTestLogger(t))
	require.NoError(t, err)

	schema := &genai.Schema{Type: genai.TypeObject}
	result, err := processor.Generate(context.Background(), llm.TextRequest{
		SystemInstruction: "be an art director",
		UserPrompt:        "plan images",
		ResponseMIMEType:  llm.MimeTypeJSON,
		ResponseSchema:    schema,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"placements":[]}`, result)

	require.Len(t, generator.calls, 1)
	call := generator.calls[0]
	assert.Equal(t, "primary", call.model)
	assert.Equal(t, "plan images", call.prompt)
	assert.Equal(t, llm.MimeTypeJSON, call.config.ResponseMIMEType)
	assert.Same(t, schema, call.config.ResponseSchema)
	require.NotNil(t, call.config.Temperature)
	assert.InDelta(t, 0.25, *call.config.Temperature, 0.0001)
	require.NotNil(t, call.config.SystemInstruction)
	assert.Equal(t, "be an art director", call.config.SystemInstruction.Parts[0].Text)
}

func TestGenerate_RetriesThenFallsBackToNextModel(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{responses: map[string][]string{
		"primary":   {"", ""},
		"secondary": {"", "second answer"},
	}}
	processor, err := llm.NewProcessor(generator, llm.Config{
		Models:     []string{"primary", "secondary"},
		MaxRetries: 2,
	}, newTestLogger(t))
	require.NoError(t, err)

	result, err := processor.Generate(context.Background(), llm.TextRequest{UserPrompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "second answer", result)

	models := make([]string, 0, len(generator.calls))
	for _, call := range generator.calls {
		models = append(models, call.model)
	}

	assert.Equal(t, []string{"primary", "primary", "secondary", "secondary"}, models)
}

func TestGenerate_AllModelsFail(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{responses: map[string][]string{}}
	processor, err := llm.NewProcessor(generator, llm.Config{Models: []string{"a", "b"}}, newTestLogger(t))
	require.NoError(t, err)

	_, err = processor.Generate(context.Background(), llm.TextRequest{UserPrompt: "hello"})

	require.ErrorIs(t, err, errUnavailable)
	assert.Contains(t, err.Error(), "all models failed")
}

func TestGenerate_ExplicitModelOverridesList(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{responses: map[string][]string{"special": {"ok"}}}
	processor, err := llm.NewProcessor(generator, llm.Config{Models: []string{"primary"}}, newTestLogger(t))
	require.NoError(t, err)

	result, err := processor.Generate(context.Background(), llm.TextRequest{Model: "special", UserPrompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	require.Len(t, generator.calls, 1)
}

func TestGenerate_RejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	processor, err := llm.NewProcessor(&fakeGenerator{}, llm.Config{Models: []string{"a"}}, newTestLogger(t))
	require.NoError(t, err)

	_, err = processor.Generate(context.Background(), llm.TextRequest{UserPrompt: " "})

	require.ErrorIs(t, err, llm.ErrEmptyPrompt)
}

func TestGenerate_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{responses: map[string][]string{}}
	processor, err := llm.NewProcessor(generator, llm.Config{Models: []string{"a", "b"}}, newTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = processor.Generate(ctx, llm.TextRequest{UserPrompt: "hello"})

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, generator.calls, 1)
}

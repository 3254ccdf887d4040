package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
	"github.com/book-expert/blog-illustrator-service/internal/config"
	"github.com/book-expert/blog-illustrator-service/internal/imagegen"
	"github.com/book-expert/blog-illustrator-service/internal/llm"
	"github.com/book-expert/blog-illustrator-service/internal/pipeline"
	"github.com/book-expert/blog-illustrator-service/internal/planner"
	"github.com/book-expert/blog-illustrator-service/internal/promptbuilder"
)

const sampleBlog = `---
title: Resilient Services
---
# Building Resilient Services

Resilience is the property of a system that keeps working when parts fail.

## Timeouts Everywhere

Every network call needs a deadline.

## Retries and Backoff

Retries turn transient failures into successes, but only when they are spaced out with exponential backoff and jitter so that a struggling dependency is not flattened by a synchronized wave of clients.
`

var errDiskFull = errors.New("disk full")

type recordingPlanner struct {
	placements []planner.Placement
	titles     []string
}

func (r *recordingPlanner) Plan(_ context.Context, _ []anchors.Anchor, title string, _ int) planner.Outcome {
	r.titles = append(r.titles, title)

	return planner.Outcome{Placements: r.placements, Source: planner.SourceRemote}
}

type fakeImages struct {
	dir   string
	err   error
	mu    sync.Mutex
	delay func(prompt string) time.Duration
	seen  []string
}

func (f *fakeImages) Generate(_ context.Context, request imagegen.Request) (imagegen.Result, error) {
	if f.delay != nil {
		time.Sleep(f.delay(request.Prompt))
	}

	f.mu.Lock()
	f.seen = append(f.seen, request.Prompt)
	f.mu.Unlock()

	if f.err != nil {
		return imagegen.Result{}, f.err
	}

	return imagegen.Result{Path: filepath.Join(f.dir, "assets", imagegen.FileName(request.Prompt))}, nil
}

type badJSONGenerator struct{}

func (badJSONGenerator) Generate(context.Context, llm.TextRequest) (string, error) {
	return "Sure! Here are some placements: a3, a5", nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func writeInput(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "post.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func newOfflinePipeline(t *testing.T, inputPath string, maxImages int, plan pipeline.Planner) *pipeline.Pipeline {
	t.Helper()

	log := newTestLogger(t)

	generator, err := imagegen.New(imagegen.Config{
		Mode:          config.ModeOffline,
		AssetsDir:     filepath.Join(filepath.Dir(inputPath), "assets"),
		DefaultWidth:  120,
		DefaultHeight: 68,
		SkipExisting:  true,
	}, nil, log)
	require.NoError(t, err)

	if plan == nil {
		plan = planner.New(config.ModeOffline, nil, log)
	}

	p, err := pipeline.New(plan, generator, log, pipeline.Options{MaxImages: maxImages, Workers: 2})
	require.NoError(t, err)

	return p
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := pipeline.New(nil, &fakeImages{}, newTestLogger(t), pipeline.Options{})

	require.ErrorIs(t, err, pipeline.ErrMissingCollaborator)
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("blog", "post.illustrated.md"), pipeline.OutputPath(filepath.Join("blog", "post.md"), ".illustrated.md"))
	assert.Equal(t, "notes.out.md", pipeline.OutputPath("notes", ".out.md"))
}

func TestProcessFile_OfflineEndToEnd(t *testing.T) {
	t.Parallel()

	inputPath := writeInput(t, sampleBlog)
	p := newOfflinePipeline(t, inputPath, 2, nil)

	result, err := p.ProcessFile(context.Background(), inputPath)
	require.NoError(t, err)

	assert.Equal(t, "Resilient Services", result.Title)
	assert.Equal(t, planner.SourceHeuristic, result.Source)
	assert.Equal(t, 2, result.Placements)
	require.Len(t, result.Images, 2)

	for _, image := range result.Images {
		assert.FileExists(t, image.Path)
		assert.True(t, image.Placeholder)
		assert.True(t, strings.HasPrefix(image.RelativePath, "assets/img-"))
	}

	written, err := os.ReadFile(pipeline.OutputPath(inputPath, ".illustrated.md"))
	require.NoError(t, err)
	assert.Equal(t, result.Markdown, string(written))
	assert.Equal(t, 2, strings.Count(string(written), "<!-- ai-image anchor:"))
	assert.Contains(t, string(written), "## Timeouts Everywhere\n\n![Illustration: Timeouts Everywhere]("+result.Images[0].RelativePath+")")
}

func TestProcessFile_RerunReusesAssets(t *testing.T) {
	t.Parallel()

	inputPath := writeInput(t, sampleBlog)
	p := newOfflinePipeline(t, inputPath, 3, nil)

	first, err := p.ProcessFile(context.Background(), inputPath)
	require.NoError(t, err)

	second, err := p.ProcessFile(context.Background(), inputPath)
	require.NoError(t, err)

	assert.Equal(t, first.Markdown, second.Markdown)

	for _, image := range second.Images {
		assert.True(t, image.Reused)
	}
}

func TestProcessFile_ShortDocumentIsUnchanged(t *testing.T) {
	t.Parallel()

	document := "# Title\n\nThis is a paragraph with more than five words here.\n"
	inputPath := writeInput(t, document)

	result, err := newOfflinePipeline(t, inputPath, 1, nil).ProcessFile(context.Background(), inputPath)
	require.NoError(t, err)

	assert.Empty(t, result.Images)
	assert.Equal(t, document, result.Markdown)
}

func TestProcessFile_HeadingWithShortParagraph(t *testing.T) {
	t.Parallel()

	inputPath := writeInput(t, "## Section\n\nShort para.\n")

	result, err := newOfflinePipeline(t, inputPath, 1, nil).ProcessFile(context.Background(), inputPath)
	require.NoError(t, err)
	require.Len(t, result.Images, 1)

	expected := "## Section\n\n" +
		"![Illustration: Section](" + result.Images[0].RelativePath + ") <!-- ai-image anchor:a1 -->\n\n" +
		"Short para.\n"
	assert.Equal(t, expected, result.Markdown)
}

func TestProcessFile_MalformedRemoteJSONMatchesHeuristic(t *testing.T) {
	t.Parallel()

	inputPath := writeInput(t, sampleBlog)
	log := newTestLogger(t)

	remote := planner.NewRemote(badJSONGenerator{}, promptbuilder.DirectorConfig{})
	live := newOfflinePipeline(t, inputPath, 3, planner.New(config.ModeLive, remote, log))
	offline := newOfflinePipeline(t, inputPath, 3, nil)

	liveResult, err := live.ProcessFile(context.Background(), inputPath)
	require.NoError(t, err)
	require.ErrorIs(t, liveResult.PlanErr, planner.ErrMalformedResponse)

	offlineResult, err := offline.ProcessFile(context.Background(), inputPath)
	require.NoError(t, err)

	assert.Equal(t, offlineResult.Markdown, liveResult.Markdown)
}

func TestProcessFile_MissingInputWritesNothing(t *testing.T) {
	t.Parallel()

	inputPath := filepath.Join(t.TempDir(), "absent.md")
	p, err := pipeline.New(&recordingPlanner{}, &fakeImages{}, newTestLogger(t), pipeline.Options{MaxImages: 1})
	require.NoError(t, err)

	_, err = p.ProcessFile(context.Background(), inputPath)
	require.Error(t, err)
	assert.NoFileExists(t, pipeline.OutputPath(inputPath, ".illustrated.md"))

	_, err = p.ProcessFile(context.Background(), "")
	require.ErrorIs(t, err, pipeline.ErrInputRequired)
}

func TestProcessFile_ImageErrorAbortsRun(t *testing.T) {
	t.Parallel()

	inputPath := writeInput(t, sampleBlog)
	plan := &recordingPlanner{placements: []planner.Placement{{AnchorID: "a3", Prompt: "clock"}}}
	p, err := pipeline.New(plan, &fakeImages{err: errDiskFull}, newTestLogger(t), pipeline.Options{MaxImages: 1})
	require.NoError(t, err)

	_, err = p.ProcessFile(context.Background(), inputPath)

	require.ErrorIs(t, err, errDiskFull)
	assert.NoFileExists(t, pipeline.OutputPath(inputPath, ".illustrated.md"))
}

func TestProcessDocument_DropsUnknownAnchorsAndKeepsOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plan := &recordingPlanner{placements: []planner.Placement{
		{AnchorID: "a5", Prompt: "slow", AltText: "Backoff", Position: planner.PositionAfter},
		{AnchorID: "a99", Prompt: "ghost", AltText: "Ghost", Position: planner.PositionAfter},
		{AnchorID: "a3", Prompt: "", AltText: "Clock", Position: planner.PositionAfter},
	}}
	images := &fakeImages{dir: dir, delay: func(prompt string) time.Duration {
		if prompt == "slow" {
			return 20 * time.Millisecond
		}

		return 0
	}}

	p, err := pipeline.New(plan, images, newTestLogger(t), pipeline.Options{MaxImages: 3, Workers: 4})
	require.NoError(t, err)

	result, err := p.ProcessDocument(context.Background(), sampleBlog, "Given Title", dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"Given Title"}, plan.titles)
	assert.Equal(t, 2, result.Placements)
	require.Len(t, result.Images, 2)
	assert.Equal(t, "a5", result.Images[0].AnchorID)
	assert.Equal(t, "a3", result.Images[1].AnchorID)
	assert.Equal(t, "assets/"+imagegen.FileName("Clock"), result.Images[1].RelativePath)
	assert.ElementsMatch(t, []string{"slow", "Clock"}, images.seen)
	assert.NotContains(t, result.Markdown, "a99")
	assert.Less(t, strings.Index(result.Markdown, "anchor:a3"), strings.Index(result.Markdown, "anchor:a5"))
}

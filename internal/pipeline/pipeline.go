// Package pipeline orchestrates the Markdown → anchors → plan → images →
// illustrated Markdown flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
	"github.com/book-expert/blog-illustrator-service/internal/imagegen"
	"github.com/book-expert/blog-illustrator-service/internal/planner"
	"github.com/book-expert/blog-illustrator-service/internal/rewriter"
)

const (
	defaultFilePermission = 0o600
	defaultDirPermission  = 0o750
	defaultOutputSuffix   = ".illustrated.md"
)

var (
	// ErrInputRequired indicates that no input path was given.
	ErrInputRequired = errors.New("input markdown path is required")
	// ErrMissingCollaborator indicates a nil planner or image generator.
	ErrMissingCollaborator = errors.New("planner and image generator are required")
)

// Planner decides placements; *planner.Planner satisfies it.
type Planner interface {
	Plan(ctx context.Context, list []anchors.Anchor, title string, maxImages int) planner.Outcome
}

// ImageGenerator resolves prompts to files; *imagegen.Generator satisfies it.
type ImageGenerator interface {
	Generate(ctx context.Context, request imagegen.Request) (imagegen.Result, error)
}

type Options struct {
	MaxImages    int
	Workers      int
	OutputSuffix string
}

type Pipeline struct {
	planner Planner
	images  ImageGenerator
	logger  *logger.Logger
	options Options
}

// ImageOutcome describes one image spliced into the document.
type ImageOutcome struct {
	AnchorID     string
	Path         string
	RelativePath string
	Placeholder  bool
	Reused       bool
}

// Result summarizes one processed document.
type Result struct {
	PlanErr    error
	InputPath  string
	OutputPath string
	Title      string
	Markdown   string
	Source     planner.Source
	Images     []ImageOutcome
	Anchors    int
	Placements int
	Duration   time.Duration
}

func New(plan Planner, images ImageGenerator, log *logger.Logger, options Options) (*Pipeline, error) {
	if plan == nil || images == nil {
		return nil, ErrMissingCollaborator
	}

	if options.Workers < 1 {
		options.Workers = 1
	}

	if options.OutputSuffix == "" {
		options.OutputSuffix = defaultOutputSuffix
	}

	return &Pipeline{planner: plan, images: images, logger: log, options: options}, nil
}

// OutputPath is inputPath without its extension plus suffix.
func OutputPath(inputPath, suffix string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + suffix
}

// ProcessFile illustrates one Markdown file and writes the result next to it.
// Nothing is written when any step fails.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath string) (*Result, error) {
	if inputPath == "" {
		return nil, ErrInputRequired
	}

	raw, err := os.ReadFile(filepath.Clean(inputPath))
	if err != nil {
		return nil, fmt.Errorf("read input markdown %s: %w", inputPath, err)
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	title := anchors.Title(string(raw), stem)

	result, err := p.ProcessDocument(ctx, string(raw), title, filepath.Dir(inputPath))
	if err != nil {
		return nil, err
	}

	result.InputPath = inputPath
	result.OutputPath = OutputPath(inputPath, p.options.OutputSuffix)

	if err := writeOutput(result.OutputPath, result.Markdown); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	p.logger.Successf("Wrote %s", result.OutputPath)

	return result, nil
}

// ProcessDocument illustrates markdown in memory. Image references are made
// relative to documentDir.
func (p *Pipeline) ProcessDocument(ctx context.Context, markdown, title, documentDir string) (*Result, error) {
	startTime := time.Now()

	list := anchors.Extract(markdown)
	outcome := p.planner.Plan(ctx, list, title, p.options.MaxImages)

	p.logger.Infof("Planned %d placement(s) for %q from %d anchor(s) using %s planning",
		len(outcome.Placements), title, len(list), outcome.Source)

	known := anchors.Index(list)
	placements := make([]planner.Placement, 0, len(outcome.Placements))

	for _, placement := range outcome.Placements {
		if _, ok := known[placement.AnchorID]; !ok {
			p.logger.Warnf("Dropping placement for unknown anchor %s", placement.AnchorID)

			continue
		}

		placements = append(placements, placement)
	}

	images, err := p.resolveImages(ctx, placements, documentDir)
	if err != nil {
		return nil, err
	}

	resolved := make([]rewriter.ResolvedPlacement, 0, len(placements))
	for index, placement := range placements {
		resolved = append(resolved, rewriter.ResolvedPlacement{
			AnchorID:  placement.AnchorID,
			ImagePath: images[index].RelativePath,
			AltText:   placement.AltText,
			Caption:   placement.Caption,
			Position:  placement.Position,
		})
	}

	result := &Result{
		PlanErr:    outcome.Err,
		Title:      title,
		Markdown:   rewriter.Rewrite(markdown, list, resolved),
		Source:     outcome.Source,
		Images:     images,
		Anchors:    len(list),
		Placements: len(placements),
		Duration:   time.Since(startTime),
	}

	p.logSummary(result)

	return result, nil
}

// resolveImages generates images concurrently and returns them in
// placement order.
func (p *Pipeline) resolveImages(
	ctx context.Context,
	placements []planner.Placement,
	documentDir string,
) ([]ImageOutcome, error) {
	images := make([]ImageOutcome, len(placements))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.options.Workers)

	for index, placement := range placements {
		group.Go(func() error {
			prompt := placement.Prompt
			if strings.TrimSpace(prompt) == "" {
				prompt = placement.AltText
			}

			generated, err := p.images.Generate(groupCtx, imagegen.Request{
				Prompt:      prompt,
				AspectRatio: placement.AspectRatio,
			})
			if err != nil {
				return fmt.Errorf("resolve image for anchor %s: %w", placement.AnchorID, err)
			}

			images[index] = ImageOutcome{
				AnchorID:     placement.AnchorID,
				Path:         generated.Path,
				RelativePath: relativeLink(documentDir, generated.Path),
				Placeholder:  generated.Placeholder,
				Reused:       generated.Reused,
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return images, nil
}

func relativeLink(documentDir, imagePath string) string {
	relative, err := filepath.Rel(documentDir, imagePath)
	if err != nil {
		return filepath.ToSlash(imagePath)
	}

	return filepath.ToSlash(relative)
}

func writeOutput(outputPath, text string) error {
	err := os.MkdirAll(filepath.Dir(outputPath), defaultDirPermission)
	if err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	err = os.WriteFile(outputPath, []byte(text), defaultFilePermission)
	if err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

func (p *Pipeline) logSummary(result *Result) {
	placeholders, reused := 0, 0

	for _, image := range result.Images {
		if image.Placeholder {
			placeholders++
		}

		if image.Reused {
			reused++
		}
	}

	if result.PlanErr != nil {
		p.logger.Warnf("Remote plan unavailable: %v", result.PlanErr)
	}

	p.logger.Infof(
		"Illustration complete: %d anchors, %d placements (%s), %d images, %d placeholders, %d reused in %v",
		result.Anchors,
		result.Placements,
		result.Source,
		len(result.Images),
		placeholders,
		reused,
		result.Duration,
	)
}

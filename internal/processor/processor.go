// Package processor illustrates blog posts submitted over NATS JetStream,
// reading and writing Markdown and images through object stores.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
	"github.com/book-expert/blog-illustrator-service/internal/events"
	"github.com/book-expert/blog-illustrator-service/internal/imagegen"
	"github.com/book-expert/blog-illustrator-service/internal/pipeline"
)

const (
	// MessageProcessingTimeout bounds the illustration of a single post.
	MessageProcessingTimeout = 600 * time.Second
	workDirPattern           = "blog-illustrator-*"
	assetsDirName            = "assets"
)

var (
	ErrMarkdownKeyRequired = errors.New("event has no markdown key")
	ErrMissingDependency   = errors.New("processor dependency is nil")
)

// JetStreamPublisher defines the interface for publishing messages to JetStream.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ObjectStore is the subset of jetstream.ObjectStore the processor uses.
type ObjectStore interface {
	GetBytes(ctx context.Context, name string, opts ...jetstream.GetObjectOpt) ([]byte, error)
	PutBytes(ctx context.Context, name string, data []byte) (*jetstream.ObjectInfo, error)
}

// Stores groups the buckets for source posts, generated images and
// illustrated posts.
type Stores struct {
	Blog   ObjectStore
	Assets ObjectStore
	Output ObjectStore
}

// Dependencies wires a Processor.
type Dependencies struct {
	Planner         pipeline.Planner
	ImageModel      imagegen.ImageModel
	ImageConfig     imagegen.Config
	Options         pipeline.Options
	Publisher       JetStreamPublisher
	ProducerSubject string
	Stores          Stores
	Logger          *logger.Logger
}

// Processor handles BlogSubmittedEvent messages.
type Processor struct {
	planner         pipeline.Planner
	imageModel      imagegen.ImageModel
	imageConfig     imagegen.Config
	options         pipeline.Options
	publisher       JetStreamPublisher
	producerSubject string
	stores          Stores
	serviceLogger   *logger.Logger
}

// New validates deps and returns a Processor. ImageModel may be nil, in which
// case every image is a placeholder.
func New(deps Dependencies) (*Processor, error) {
	if deps.Planner == nil || deps.Publisher == nil || deps.Logger == nil ||
		deps.Stores.Blog == nil || deps.Stores.Assets == nil || deps.Stores.Output == nil {
		return nil, ErrMissingDependency
	}

	subject := deps.ProducerSubject
	if subject == "" {
		subject = events.SubjectBlogIllustrated
	}

	return &Processor{
		planner:         deps.Planner,
		imageModel:      deps.ImageModel,
		imageConfig:     deps.ImageConfig,
		options:         deps.Options,
		publisher:       deps.Publisher,
		producerSubject: subject,
		stores:          deps.Stores,
		serviceLogger:   deps.Logger,
	}, nil
}

// Handle illustrates the post named by event and publishes a
// BlogIllustratedEvent. A returned error leaves redelivery to the worker.
func (p *Processor) Handle(ctx context.Context, event events.BlogSubmittedEvent) error {
	if strings.TrimSpace(event.MarkdownKey) == "" {
		return ErrMarkdownKeyRequired
	}

	jobCtx, cancel := context.WithTimeout(ctx, MessageProcessingTimeout)
	defer cancel()

	p.serviceLogger.Infof("Processing: %s (workflow %s)", event.MarkdownKey, event.Header.WorkflowID)

	illustrated, err := p.executeWorkflow(jobCtx, event)
	if err != nil {
		p.serviceLogger.Errorf("Workflow failed [%s]: %v", event.MarkdownKey, err)

		return err
	}

	p.serviceLogger.Successf("Completed: %s -> %s", event.MarkdownKey, illustrated.OutputKey)

	return nil
}

func (p *Processor) executeWorkflow(ctx context.Context, event events.BlogSubmittedEvent) (*events.BlogIllustratedEvent, error) {
	markdown, err := p.stores.Blog.GetBytes(ctx, event.MarkdownKey)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", event.MarkdownKey, err)
	}

	workDir, err := os.MkdirTemp("", workDirPattern)
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	defer func() {
		if removeErr := os.RemoveAll(workDir); removeErr != nil {
			p.serviceLogger.Warnf("Failed to remove work directory %s: %v", workDir, removeErr)
		}
	}()

	illustrator, err := p.newPipeline(workDir, event.Settings)
	if err != nil {
		return nil, err
	}

	result, err := illustrator.ProcessDocument(ctx, string(markdown), p.resolveTitle(event, string(markdown)), workDir)
	if err != nil {
		return nil, fmt.Errorf("illustrate: %w", err)
	}

	assetKeys, placeholders, err := p.storeAssets(ctx, event.MarkdownKey, result.Images)
	if err != nil {
		return nil, fmt.Errorf("store assets: %w", err)
	}

	outputKey := pipeline.OutputPath(event.MarkdownKey, p.options.OutputSuffix)
	if _, err := p.stores.Output.PutBytes(ctx, outputKey, []byte(result.Markdown)); err != nil {
		return nil, fmt.Errorf("store %s: %w", outputKey, err)
	}

	illustrated := &events.BlogIllustratedEvent{
		Header:       events.DerivedHeader(event.Header),
		MarkdownKey:  event.MarkdownKey,
		OutputKey:    outputKey,
		PlanSource:   string(result.Source),
		AssetKeys:    assetKeys,
		Images:       len(result.Images),
		Placeholders: placeholders,
	}

	data, err := json.Marshal(illustrated)
	if err != nil {
		return nil, fmt.Errorf("marshal illustrated event: %w", err)
	}

	if _, err := p.publisher.Publish(ctx, p.producerSubject, data); err != nil {
		return nil, fmt.Errorf("publish %s: %w", p.producerSubject, err)
	}

	return illustrated, nil
}

func (p *Processor) newPipeline(workDir string, settings *events.IllustrationSettings) (*pipeline.Pipeline, error) {
	imageConfig := p.imageConfig
	imageConfig.AssetsDir = filepath.Join(workDir, assetsDirName)

	generator, err := imagegen.New(imageConfig, p.imageModel, p.serviceLogger)
	if err != nil {
		return nil, fmt.Errorf("image generator: %w", err)
	}

	options := p.options
	if settings != nil && settings.MaxImages != nil {
		options.MaxImages = *settings.MaxImages
	}

	illustrator, err := pipeline.New(p.planner, generator, p.serviceLogger, options)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return illustrator, nil
}

func (p *Processor) resolveTitle(event events.BlogSubmittedEvent, markdown string) string {
	if event.Settings != nil && strings.TrimSpace(event.Settings.Title) != "" {
		return strings.TrimSpace(event.Settings.Title)
	}

	base := path.Base(event.MarkdownKey)

	return anchors.Title(markdown, strings.TrimSuffix(base, path.Ext(base)))
}

// storeAssets uploads each distinct image next to the post, keyed so the
// relative links in the illustrated Markdown resolve inside the bucket.
func (p *Processor) storeAssets(ctx context.Context, markdownKey string, images []pipeline.ImageOutcome) ([]string, int, error) {
	keys := make([]string, 0, len(images))
	seen := make(map[string]struct{}, len(images))
	placeholders := 0

	for _, image := range images {
		if image.Placeholder {
			placeholders++
		}

		key := path.Join(path.Dir(markdownKey), image.RelativePath)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}

		data, err := os.ReadFile(filepath.Clean(image.Path))
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", image.Path, err)
		}

		if _, err := p.stores.Assets.PutBytes(ctx, key, data); err != nil {
			return nil, 0, fmt.Errorf("upload %s: %w", key, err)
		}

		keys = append(keys, key)
	}

	return keys, placeholders, nil
}

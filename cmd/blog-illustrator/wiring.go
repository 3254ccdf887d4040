package main

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/blog-illustrator-service/internal/config"
	"github.com/book-expert/blog-illustrator-service/internal/events"
	"github.com/book-expert/blog-illustrator-service/internal/imagegen"
	"github.com/book-expert/blog-illustrator-service/internal/llm"
	"github.com/book-expert/blog-illustrator-service/internal/pipeline"
	"github.com/book-expert/blog-illustrator-service/internal/planner"
	"github.com/book-expert/blog-illustrator-service/internal/processor"
	"github.com/book-expert/blog-illustrator-service/internal/promptbuilder"
	"github.com/book-expert/blog-illustrator-service/internal/worker"
)

// buildCollaborators returns the planner and image model for cfg. Live mode
// without an API key degrades to offline.
func buildCollaborators(ctx context.Context, cfg *config.Config, log *logger.Logger) (*planner.Planner, imagegen.ImageModel, error) {
	if cfg.Service.Mode == config.ModeLive && cfg.GetAPIKey() == "" {
		log.Warnf("%s is not set, running offline", cfg.LLM.APIKeyEnvironmentVariable)
		cfg.Service.Mode = config.ModeOffline
	}

	if cfg.Service.Mode != config.ModeLive {
		return planner.New(config.ModeOffline, nil, log), nil, nil
	}

	client, err := llm.NewClient(ctx, cfg.GetAPIKey())
	if err != nil {
		return nil, nil, err
	}

	textProcessor, err := llm.NewProcessor(client.Models, llm.Config{
		Models:      cfg.LLM.TextModels,
		Temperature: cfg.LLM.Temperature,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  time.Duration(cfg.LLM.RetryDelaySeconds) * time.Second,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("text model: %w", err)
	}

	remote := planner.NewRemote(textProcessor, directorConfig(cfg))

	return planner.New(config.ModeLive, remote, log), client.Models, nil
}

func directorConfig(cfg *config.Config) promptbuilder.DirectorConfig {
	return promptbuilder.DirectorConfig{
		StyleProfile:       cfg.Illustration.StyleProfile,
		HeroImage:          cfg.Illustration.HeroImage,
		CustomInstructions: cfg.Illustration.CustomInstructions,
		Exclusions:         cfg.Illustration.Exclusions,
	}
}

func imageConfig(cfg *config.Config) imagegen.Config {
	return imagegen.Config{
		Mode:          cfg.Service.Mode,
		Model:         cfg.LLM.ImageModel,
		AssetsDir:     cfg.Illustration.AssetsDir,
		DefaultWidth:  cfg.Illustration.DefaultWidth,
		DefaultHeight: cfg.Illustration.DefaultHeight,
		SkipExisting:  cfg.Illustration.SkipExisting,
	}
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		MaxImages:    cfg.Illustration.MaxImages,
		Workers:      cfg.Service.Workers,
		OutputSuffix: cfg.Illustration.OutputSuffix,
	}
}

func buildIllustrator(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline.Pipeline, error) {
	plan, imageModel, err := buildCollaborators(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	generator, err := imagegen.New(imageConfig(cfg), imageModel, log)
	if err != nil {
		return nil, fmt.Errorf("image generator: %w", err)
	}

	illustrator, err := pipeline.New(plan, generator, log, pipelineOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return illustrator, nil
}

// serve connects to NATS, provisions streams and buckets and runs the worker
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := cfg.ValidateNATS(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	natsConn, err := worker.Connect(cfg.NATS.URL)
	if err != nil {
		return err
	}

	defer func() {
		if drainErr := natsConn.Drain(); drainErr != nil {
			log.Warnf("Failed to drain NATS connection: %v", drainErr)
		}
	}()

	js, err := jetstream.New(natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStreams(ctx, js, cfg); err != nil {
		return err
	}

	stores, err := ensureObjectStores(ctx, js, cfg.NATS.ObjectStore)
	if err != nil {
		return err
	}

	plan, imageModel, err := buildCollaborators(ctx, cfg, log)
	if err != nil {
		return err
	}

	jobProcessor, err := processor.New(processor.Dependencies{
		Planner:         plan,
		ImageModel:      imageModel,
		ImageConfig:     imageConfig(cfg),
		Options:         pipelineOptions(cfg),
		Publisher:       js,
		ProducerSubject: cfg.NATS.Producer.Subject,
		Stores:          stores,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}

	engine, err := worker.New[events.BlogSubmittedEvent](js, log, worker.Config{
		StreamName:        cfg.NATS.Consumer.Stream,
		ConsumerName:      cfg.NATS.Consumer.Durable,
		FilterSubject:     cfg.NATS.Consumer.Subject,
		DeadLetterSubject: cfg.NATS.DLQSubject,
		WorkerCount:       cfg.Service.Workers,
		MaxDeliver:        cfg.NATS.Consumer.MaxDeliver,
	}, jobProcessor.Handle)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	log.Infof("Serving %s on %s (%s mode)", cfg.NATS.Consumer.Subject, cfg.NATS.URL, cfg.Service.Mode)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.Infof("Shutdown complete")

	return nil
}

func ensureStreams(ctx context.Context, js jetstream.JetStream, cfg *config.Config) error {
	consumerSubjects := []string{cfg.NATS.Consumer.Subject}
	if cfg.NATS.DLQSubject != "" {
		consumerSubjects = append(consumerSubjects, cfg.NATS.DLQSubject)
	}

	producer := cfg.NATS.Producer
	if producer.Stream == "" || producer.Stream == cfg.NATS.Consumer.Stream {
		consumerSubjects = append(consumerSubjects, producerSubject(producer))

		return worker.EnsureStream(ctx, js, cfg.NATS.Consumer.Stream, consumerSubjects)
	}

	if err := worker.EnsureStream(ctx, js, cfg.NATS.Consumer.Stream, consumerSubjects); err != nil {
		return err
	}

	return worker.EnsureStream(ctx, js, producer.Stream, []string{producerSubject(producer)})
}

func producerSubject(producer config.ProducerSettings) string {
	if producer.Subject == "" {
		return events.SubjectBlogIllustrated
	}

	return producer.Subject
}

func ensureObjectStores(ctx context.Context, js jetstream.JetStream, buckets config.ObjectStoreSettings) (processor.Stores, error) {
	open := func(bucket string) (jetstream.ObjectStore, error) {
		store, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{Bucket: bucket})
		if err != nil {
			return nil, fmt.Errorf("object store %s: %w", bucket, err)
		}

		return store, nil
	}

	blog, err := open(buckets.BlogBucket)
	if err != nil {
		return processor.Stores{}, err
	}

	assets, err := open(buckets.AssetBucket)
	if err != nil {
		return processor.Stores{}, err
	}

	output, err := open(buckets.OutputBucket)
	if err != nil {
		return processor.Stores{}, err
	}

	return processor.Stores{Blog: blog, Assets: assets, Output: output}, nil
}

// Package worker runs a pool of JetStream pull consumers that decode events
// and hand them to a handler, retrying failures and dead-lettering poison
// messages.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/blog-illustrator-service/internal/events"
)

const (
	// NatsConnectTimeoutSeconds defines the timeout for NATS connection attempts.
	NatsConnectTimeoutSeconds = 10
	// NatsMaxReconnectAttempts defines the maximum number of reconnect attempts for NATS.
	NatsMaxReconnectAttempts = 5
	// DefaultFetchMaxWait bounds a single pull request.
	DefaultFetchMaxWait = 5 * time.Second
	// DefaultNakDelay is the redelivery delay after a failed attempt.
	DefaultNakDelay = 10 * time.Second
	// DefaultMaxDeliver caps redeliveries before a message is dead-lettered.
	DefaultMaxDeliver = 5

	fetchErrorBackoff = time.Second
)

var ErrHandlerRequired = errors.New("worker handler is required")

// Handler processes one decoded event. A returned error triggers redelivery.
type Handler[T any] func(ctx context.Context, event T) error

type Config struct {
	StreamName        string
	ConsumerName      string
	FilterSubject     string
	DeadLetterSubject string
	WorkerCount       int
	MaxDeliver        int
	FetchMaxWait      time.Duration
	NakDelay          time.Duration
}

type Worker[T any] struct {
	jetstream jetstream.JetStream
	handler   Handler[T]
	logger    *logger.Logger
	config    Config
}

// Connect dials NATS with the service's reconnect policy.
func Connect(natsURL string) (*nats.Conn, error) {
	natsConn, err := nats.Connect(
		natsURL,
		nats.Timeout(NatsConnectTimeoutSeconds*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(NatsMaxReconnectAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return natsConn, nil
}

// EnsureStream creates the stream or updates its subjects.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string, subjects []string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: uniqueSubjects(subjects),
	})
	if err != nil {
		return fmt.Errorf("ensure stream '%s': %w", name, err)
	}

	return nil
}

func New[T any](js jetstream.JetStream, log *logger.Logger, configuration Config, handler Handler[T]) (*Worker[T], error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	if configuration.WorkerCount < 1 {
		configuration.WorkerCount = 1
	}

	if configuration.MaxDeliver < 1 {
		configuration.MaxDeliver = DefaultMaxDeliver
	}

	if configuration.FetchMaxWait <= 0 {
		configuration.FetchMaxWait = DefaultFetchMaxWait
	}

	if configuration.NakDelay <= 0 {
		configuration.NakDelay = DefaultNakDelay
	}

	return &Worker[T]{jetstream: js, handler: handler, logger: log, config: configuration}, nil
}

// Start binds the durable consumer and blocks until ctx is cancelled.
func (w *Worker[T]) Start(ctx context.Context) error {
	consumer, err := w.jetstream.CreateOrUpdateConsumer(ctx, w.config.StreamName, jetstream.ConsumerConfig{
		Durable:       w.config.ConsumerName,
		FilterSubject: w.config.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    w.config.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer '%s': %w", w.config.ConsumerName, err)
	}

	w.logger.Infof("Worker pool of %d listening for jobs on '%s'", w.config.WorkerCount, w.config.FilterSubject)

	var waitGroup sync.WaitGroup
	for range w.config.WorkerCount {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			w.run(ctx, consumer)
		}()
	}

	waitGroup.Wait()
	w.logger.Infof("Context canceled, worker shutting down.")

	return nil
}

func (w *Worker[T]) run(ctx context.Context, consumer jetstream.Consumer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(w.config.FetchMaxWait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			w.logger.Errorf("Fetch messages: %v", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorBackoff):
			}

			continue
		}

		for msg := range batch.Messages() {
			w.handleMsg(ctx, msg)
		}

		if batchErr := batch.Error(); batchErr != nil && !isIdle(batchErr) && ctx.Err() == nil {
			w.logger.Warnf("Fetch batch: %v", batchErr)
		}
	}
}

func (w *Worker[T]) handleMsg(ctx context.Context, msg jetstream.Msg) {
	var event T

	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		w.deadLetter(ctx, msg, fmt.Errorf("decode event: %w", err))

		return
	}

	if err := w.handler(ctx, event); err != nil {
		if w.lastDelivery(msg) {
			w.deadLetter(ctx, msg, err)

			return
		}

		w.logger.Errorf("Handler failed on '%s', retrying in %v: %v", msg.Subject(), w.config.NakDelay, err)

		if nakErr := msg.NakWithDelay(w.config.NakDelay); nakErr != nil {
			w.logger.Errorf("failed to nak message: %v", nakErr)
		}

		return
	}

	if ackErr := msg.Ack(); ackErr != nil {
		w.logger.Errorf("failed to acknowledge message: %v", ackErr)
	}
}

func (w *Worker[T]) lastDelivery(msg jetstream.Msg) bool {
	metadata, err := msg.Metadata()
	if err != nil {
		return true
	}

	return metadata.NumDelivered >= uint64(w.config.MaxDeliver)
}

// deadLetter forwards the original payload with the failure attached and
// terminates the message.
func (w *Worker[T]) deadLetter(ctx context.Context, msg jetstream.Msg, cause error) {
	w.logger.Errorf("Dead-lettering message from '%s': %v", msg.Subject(), cause)

	if w.config.DeadLetterSubject != "" {
		deadLetter := nats.NewMsg(w.config.DeadLetterSubject)
		deadLetter.Data = msg.Data()
		deadLetter.Header.Set(events.HeaderError, cause.Error())

		if _, err := w.jetstream.PublishMsg(ctx, deadLetter); err != nil {
			w.logger.Errorf("Failed to publish message to dead-letter subject: %v", err)
		}
	}

	if termErr := msg.Term(); termErr != nil {
		w.logger.Errorf("failed to terminate message: %v", termErr)
	}
}

func isIdle(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func uniqueSubjects(subjects []string) []string {
	seen := make(map[string]struct{}, len(subjects))
	unique := make([]string, 0, len(subjects))

	for _, subject := range subjects {
		if subject == "" {
			continue
		}

		if _, ok := seen[subject]; ok {
			continue
		}

		seen[subject] = struct{}{}
		unique = append(unique, subject)
	}

	return unique
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/metrics"
	"github.com/attendly/backend/pkg/pubsub"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	Ping(ctx context.Context) error
}

type pubSubClient interface {
	Ping(ctx context.Context) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error
	CountUnpublished() (int64, error)
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry *models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(event models.OutboxEvent) (*events.ResolvedEvent, error)
}

// publisherFactory abstracts topic publisher lookup so tests can stub the
// broker without a live Pub/Sub connection.
type publisherFactory interface {
	OrderedPublisher(topic string) publisher
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// Service drains the outbox table and publishes each row to its broker
// topic. Rows that exhaust their attempts or fail non-retryably move to the
// dead letter table inside the same transaction that marks them terminal.
type Service struct {
	cfg            config.OutboxConfig
	logg           *logger.Logger
	db             dbClient
	pubsub         pubSubClient
	repo           outboxRepository
	dlq            dlqRepository
	registry       registryResolver
	publishers     publisherFactory
	relayMetrics   *metrics.RelayMetrics
	batchSize      int
	pollInterval   time.Duration
	publishTimeout time.Duration
	maxAttempts    int
	jitter         *rand.Rand
	sleep          func(ctx context.Context, d time.Duration) error
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   registryResolver
	Publishers publisherFactory
	Metrics    *metrics.RelayMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("db client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.Publishers == nil {
		return nil, errors.New("publisher factory is required")
	}

	batchSize := params.Config.Outbox.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	pollInterval := time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	maxAttempts := params.Config.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		cfg:            params.Config.Outbox,
		logg:           params.Logger,
		db:             params.DB,
		pubsub:         params.PubSub,
		repo:           params.Repository,
		dlq:            params.DLQ,
		registry:       params.Registry,
		publishers:     params.Publishers,
		relayMetrics:   params.Metrics,
		batchSize:      batchSize,
		pollInterval:   pollInterval,
		publishTimeout: defaultPublishTimeout,
		maxAttempts:    maxAttempts,
		jitter:         rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:          sleep,
	}, nil
}

// Run polls the outbox until the context is cancelled. Consecutive empty or
// failed iterations back off exponentially, capped and jittered so multiple
// replicas do not poll in lockstep.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		published, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			backoff = s.nextBackoff(backoff)
		case published == 0:
			backoff = s.nextBackoff(backoff)
		default:
			backoff = s.pollInterval
		}

		s.reportBacklog(ctx)

		if err := s.sleep(ctx, s.withJitter(backoff)); err != nil {
			return err
		}
	}
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub not ready: %w", err)
	}
	return nil
}

func (s *Service) processBatch(ctx context.Context) (int, error) {
	start := time.Now()
	published := 0

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch unpublished: %w", err)
		}

		for _, event := range rows {
			resolved, err := s.registry.Resolve(event)
			if err != nil {
				if err := s.handleTerminal(ctx, tx, event, err); err != nil {
					return err
				}
				continue
			}

			if err := s.publishResolved(ctx, event, resolved); err != nil {
				s.relayMetrics.IncFailure(event.Topic)

				var nonRetryable events.NonRetryableError
				if errors.As(err, &nonRetryable) {
					if err := s.handleTerminal(ctx, tx, event, err); err != nil {
						return err
					}
					continue
				}
				if event.AttemptCount+1 >= s.maxAttempts {
					cause := fmt.Errorf("max publish attempts reached: %w", err)
					if err := s.handleTerminal(ctx, tx, event, cause); err != nil {
						return err
					}
					continue
				}

				s.logg.Warn(
					s.logg.WithFields(ctx, map[string]any{
						"messageId": event.ID,
						"topic":     event.Topic,
						"attempt":   event.AttemptCount + 1,
					}),
					"publish failed, will retry",
				)
				if err := s.repo.MarkFailedTx(tx, event.ID, err); err != nil {
					return fmt.Errorf("mark failed: %w", err)
				}
				continue
			}

			if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
				return fmt.Errorf("mark published: %w", err)
			}
			s.relayMetrics.IncPublished(event.Topic)
			published++
		}
		return nil
	})

	s.relayMetrics.ObserveBatch(time.Since(start))
	return published, err
}

// publishResolved sends the full envelope as the message body so consumers
// can recover the stable message id and topic without broker attributes.
func (s *Service) publishResolved(ctx context.Context, event models.OutboxEvent, resolved *events.ResolvedEvent) error {
	pub := s.publishers.OrderedPublisher(resolved.Descriptor.BrokerTopic)
	if pub == nil {
		return events.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", resolved.Descriptor.BrokerTopic))
	}

	data, err := json.Marshal(resolved.Envelope)
	if err != nil {
		return events.NewNonRetryableError(fmt.Errorf("encode envelope: %w", err))
	}

	msg := &gcppubsub.Message{
		Data:        data,
		OrderingKey: event.OrderingKey,
		Attributes: map[string]string{
			"message_id": event.ID.String(),
			"topic":      event.Topic,
			"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish %s: %w", event.Topic, err)
	}
	return nil
}

// handleTerminal moves a row to the dead letter table and pins it at the
// terminal attempt count, all inside the batch transaction.
func (s *Service) handleTerminal(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, cause error) error {
	s.logg.Error(
		s.logg.WithFields(ctx, map[string]any{
			"messageId": event.ID,
			"topic":     event.Topic,
			"attempts":  event.AttemptCount,
		}),
		"outbox event dead lettered",
		cause,
	)

	message := cause.Error()
	entry := &models.OutboxDLQ{
		MessageID:    event.ID,
		Topic:        event.Topic,
		Payload:      event.Payload,
		ErrorMessage: &message,
		AttemptCount: event.AttemptCount,
		FailedAt:     time.Now(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal: %w", err)
	}
	s.relayMetrics.IncDeadLettered(event.Topic)
	return nil
}

func (s *Service) reportBacklog(ctx context.Context) {
	count, err := s.repo.CountUnpublished()
	if err != nil {
		s.logg.Warn(ctx, "failed to count publish backlog")
		return
	}
	s.relayMetrics.SetUnpublished(count)
}

func (s *Service) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	if next < s.pollInterval {
		return s.pollInterval
	}
	return next
}

func (s *Service) withJitter(d time.Duration) time.Duration {
	if jitterWindow <= 0 {
		return d
	}
	return d + time.Duration(s.jitter.Int63n(int64(jitterWindow)))
}

// gcpPublisherFactory adapts the shared Pub/Sub client to the narrow
// publisher interfaces used by the service.
type gcpPublisherFactory struct {
	client *pubsub.Client
}

func (f gcpPublisherFactory) OrderedPublisher(topic string) publisher {
	pub := f.client.OrderedPublisher(topic)
	if pub == nil {
		return nil
	}
	return gcpPublisher{pub: pub}
}

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.pub.Publish(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

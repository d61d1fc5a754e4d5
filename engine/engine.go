// Package engine implements the guarantee message processing core: queue
// ingestion, the parse/validate/dispatch/respond orchestration and the
// retry/failure coordination.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/bankfabric/guarantee-message-engine/alert"
	"github.com/bankfabric/guarantee-message-engine/engine/message"
	"github.com/bankfabric/guarantee-message-engine/engine/store"
	"github.com/bankfabric/guarantee-message-engine/refnum"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// maxNumberOfMessages is the number of messages that we want to receive
	// from SQS incoming batches.
	maxNumberOfMessages = 1

	// waitTimeSeconds is the longest we're waiting on each SQS receive poll.
	waitTimeSeconds = 1
)

// Store is the persistence consumed by the engine: the message table with
// compare-and-set transitions and the guarantee/amendment aggregate tables
// with transactional commits.
type Store interface {
	PutMessage(ctx context.Context, m *message.Message) error
	GetMessage(ctx context.Context, reference string) (*message.Message, error)
	UpdateMessage(ctx context.Context, m *message.Message, from message.Status) error
	ListForProcessing(ctx context.Context, now time.Time, limit int) ([]*message.Message, error)
	ListStuck(ctx context.Context, cutoff time.Time) ([]*message.Message, error)
	ResponseFor(ctx context.Context, parentRef string) (*message.Message, error)
	FindGuaranteeByCorrelation(ctx context.Context, correlationRef string) (*store.Guarantee, error)
	CommitOutcome(ctx context.Context, m *message.Message, from message.Status, out *store.Outcome) error
	CommitResponse(ctx context.Context, original, response *message.Message) error
}

// Config carries the explicit retry/backoff values so tests can run the
// coordinator against a controllable clock.
type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	StuckThreshold time.Duration
	ScanInterval   time.Duration
	Workers        int
	ScanLimit      int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Minute
	}
	if c.StuckThreshold == 0 {
		c.StuckThreshold = 30 * time.Minute
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = time.Minute
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.ScanLimit == 0 {
		c.ScanLimit = 50
	}
	return c
}

// Engine drives messages through the processing pipeline.
//
// Ingestion is synchronous and returns as soon as the message is persisted
// at RECEIVED; the rest of the pipeline runs on a bounded pool of workers
// consuming message references from an internal channel. Enqueueing is best
// effort: the periodic scan re-delivers RECEIVED messages, so the channel is
// an optimization, not the source of truth. The compare-and-set status guard
// in the store makes redelivery safe.
type Engine struct {
	logger   logrus.FieldLogger
	store    Store
	refs     refnum.Generator
	notifier alert.Notifier
	metrics  *Metrics
	cfg      Config
	now      func() time.Time

	sqsClient sqsiface.SQSAPI
	queueURL  string

	tasks  chan string
	kick   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan chan struct{}

	handlers
}

// New returns a usable Engine with the built-in business handlers
// subscribed. sqsClient may be nil when no queue front end is wanted.
func New(
	logger logrus.FieldLogger, st Store, refs refnum.Generator, notifier alert.Notifier,
	metrics *Metrics, sqsClient sqsiface.SQSAPI, queueURL string, cfg Config) *Engine {
	e := &Engine{
		logger:    logger,
		store:     st,
		refs:      refs,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		sqsClient: sqsClient,
		queueURL:  queueURL,
		kick:      make(chan struct{}),
		stop:      make(chan chan struct{}),
	}
	e.tasks = make(chan string, e.cfg.ScanLimit)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.Subscribe(message.KindReceivedGuarantee, e.handleReceivedGuarantee)
	e.Subscribe(message.KindAmendment, e.handleAmendment)
	e.Subscribe(message.KindAmendmentConfirmation, e.handleAuditOnly)
	e.Subscribe(message.KindAcknowledgement, e.handleAuditOnly)
	e.Subscribe(message.KindDiscrepancyAdvice, e.handleAuditOnly)
	e.Subscribe(message.KindFreeFormat, e.handleAuditOnly)

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	return e
}

// Receive is the ingestion entry point. It persists the message at RECEIVED
// and returns; processing happens asynchronously.
func (e *Engine) Receive(ctx context.Context, raw string, kind message.Kind, sender, receiver string, priority int) (*message.Message, error) {
	if !kind.Known() {
		return nil, errors.Errorf("unsupported message kind %d", kind)
	}
	m := message.New(e.refs.MessageRef(), kind, raw, sender, receiver, priority, e.cfg.MaxRetries, e.now())
	if err := e.store.PutMessage(ctx, m); err != nil {
		return nil, errors.Wrap(err, "persisting message")
	}
	e.metrics.Incoming.Inc()
	e.enqueue(m.Reference)
	return m, nil
}

// MessagesForProcessing returns RECEIVED messages plus retry-eligible error
// messages whose next_retry_at has elapsed.
func (e *Engine) MessagesForProcessing(ctx context.Context, now time.Time) ([]*message.Message, error) {
	return e.store.ListForProcessing(ctx, now, e.cfg.ScanLimit)
}

// enqueue hands a message reference to the worker pool without blocking. A
// full channel is fine; the periodic scan picks the message up later.
func (e *Engine) enqueue(reference string) {
	select {
	case e.tasks <- reference:
	default:
		e.logger.WithField("messageRef", reference).Debug("Worker queue full, deferring to scan")
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ref := <-e.tasks:
			e.process(e.ctx, ref)
		}
	}
}

// Run starts the queue front end and the periodic scan, and blocks until
// Stop is called.
func (e *Engine) Run() {
	if e.sqsClient != nil {
		go e.pollLoop()
	}
	e.scanLoop()
}

// pollLoop receives ingestion envelopes from SQS. Messages are deleted from
// the queue once persisted at RECEIVED; invalid envelopes are counted,
// logged and deleted.
func (e *Engine) pollLoop() {
	for {
		out, err := e.sqsClient.ReceiveMessageWithContext(e.ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(e.queueURL),
			MaxNumberOfMessages: aws.Int64(maxNumberOfMessages),
			WaitTimeSeconds:     aws.Int64(waitTimeSeconds),
		})
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Errorf("Error receiving a message from SQS: %s", err)
			time.Sleep(1 * time.Second)
			continue
		}
		for _, qm := range out.Messages {
			e.openEnvelope(qm)
		}
	}
}

func (e *Engine) openEnvelope(qm *sqs.Message) {
	env, kind, err := message.OpenEnvelope([]byte(aws.StringValue(qm.Body)))
	if err != nil {
		e.metrics.InvalidEnvelopes.Inc()
		e.logger.Warning("Envelope rejected: ", err)
		e.deleteQueueMessage(qm.ReceiptHandle)
		return
	}
	if _, err := e.Receive(e.ctx, env.Payload, kind, env.Sender, env.Receiver, env.Priority); err != nil {
		// Leave the queue message in place so the visibility timeout
		// redelivers it once the store recovers.
		e.logger.Error("Message could not be ingested: ", err)
		return
	}
	e.deleteQueueMessage(qm.ReceiptHandle)
}

// deleteQueueMessage does best effort to delete a message from SQS.
func (e *Engine) deleteQueueMessage(receiptHandle *string) {
	_, err := e.sqsClient.DeleteMessageWithContext(e.ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(e.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		e.logger.Error("Message could not be removed from SQS: ", err)
	}
}

// scanLoop runs the periodic retry/stuck scan until Stop.
func (e *Engine) scanLoop() {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case ch := <-e.stop:
			e.cancel()
			e.wg.Wait()
			close(ch)
			return
		case <-ticker.C:
		case <-e.kick:
		}
		e.ScanOnce(e.ctx)
	}
}

// Kick is a non-blocking request to run a scan immediately. The operation is
// omitted if a scan is already pending.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Stop blocks until the engine terminates.
func (e *Engine) Stop() {
	ch := make(chan struct{})
	e.stop <- ch
	<-ch
}

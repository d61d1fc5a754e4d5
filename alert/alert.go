// Package alert delivers operational alerts for messages that need human
// attention: exhausted retries, permanent business failures and messages
// stuck in processing.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bankfabric/guarantee-message-engine/engine/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/cenkalti/backoff/v3"
	"github.com/sirupsen/logrus"
)

// Reasons distinguish "needs a code/data fix" from "needs manual
// reprocessing" on the monitoring side.
const (
	ReasonRetriesExhausted = "retries-exhausted"
	ReasonPermanentFailure = "permanent-failure"
	ReasonStuckProcessing  = "stuck-processing"
)

// Notifier is the operational alerting sink consumed by the engine.
type Notifier interface {
	Notify(ctx context.Context, reason string, m *message.Message)
}

// alertPayload is the JSON document published for each alert.
type alertPayload struct {
	Reason      string `json:"reason"`
	MessageRef  string `json:"messageRef"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retryCount"`
	MaxRetries  int    `json:"maxRetries"`
	ErrorKind   string `json:"errorKind,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// SNSNotifier publishes alerts to an SNS topic. Publishes are retried with
// exponential backoff since losing an exhaustion alert means losing the only
// automatic signal that a message died.
type SNSNotifier struct {
	logger   logrus.FieldLogger
	client   snsiface.SNSAPI
	topicARN string
}

var _ Notifier = (*SNSNotifier)(nil)

func NewSNSNotifier(logger logrus.FieldLogger, client snsiface.SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{logger: logger, client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Notify(ctx context.Context, reason string, m *message.Message) {
	payload, err := json.Marshal(alertPayload{
		Reason:      reason,
		MessageRef:  m.Reference,
		Kind:        m.Kind.Code(),
		Status:      m.Status.String(),
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		ErrorKind:   string(m.ErrorKind),
		ErrorDetail: m.ErrorDetail,
	})
	if err != nil {
		n.logger.Errorf("Alert payload could not be marshalled: %v", err)
		return
	}

	strategy := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          1.5,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      time.Minute,
		Clock:               backoff.SystemClock,
	}, ctx)

	err = backoff.Retry(func() error {
		_, err := n.client.PublishWithContext(ctx, &sns.PublishInput{
			TopicArn: aws.String(n.topicARN),
			Message:  aws.String(string(payload)),
		})
		return err
	}, strategy)
	if err != nil {
		n.logger.WithFields(logrus.Fields{"messageRef": m.Reference, "reason": reason}).
			Errorf("Alert could not be published: %v", err)
	}
}

// LogNotifier writes alerts to the log only. Used when no topic is
// configured and in tests.
type LogNotifier struct {
	logger logrus.FieldLogger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, reason string, m *message.Message) {
	n.logger.WithFields(logrus.Fields{
		"messageRef": m.Reference,
		"kind":       m.Kind.Code(),
		"status":     m.Status.String(),
		"reason":     reason,
	}).Warn("Operational alert")
}

package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bankfabric/guarantee-message-engine/engine/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	snsiface.SNSAPI
	publish func(*sns.PublishInput) (*sns.PublishOutput, error)
}

func (f *fakeSNS) PublishWithContext(ctx aws.Context, in *sns.PublishInput, opts ...request.Option) (*sns.PublishOutput, error) {
	return f.publish(in)
}

func failedMessage() *message.Message {
	return &message.Message{
		Reference:   "MSG-0001",
		Kind:        message.KindAmendment,
		Status:      message.StatusProcessingError,
		RetryCount:  1,
		MaxRetries:  3,
		ErrorKind:   message.ErrorKindPermanent,
		ErrorDetail: `related aggregate not found for reference "GUAR760REF001"`,
	}
}

func TestSNSNotifier(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	var captured *sns.PublishInput
	n := NewSNSNotifier(logger, &fakeSNS{publish: func(in *sns.PublishInput) (*sns.PublishOutput, error) {
		captured = in
		return &sns.PublishOutput{}, nil
	}}, "arn:aws:sns:us-east-1:123456789012:alerts")

	n.Notify(context.Background(), ReasonPermanentFailure, failedMessage())

	require.NotNil(t, captured)
	require.Equal(t, "arn:aws:sns:us-east-1:123456789012:alerts", *captured.TopicArn)

	var payload alertPayload
	require.NoError(t, json.Unmarshal([]byte(*captured.Message), &payload))
	require.Equal(t, ReasonPermanentFailure, payload.Reason)
	require.Equal(t, "MSG-0001", payload.MessageRef)
	require.Equal(t, "MT767", payload.Kind)
	require.Equal(t, "PROCESSING_ERROR", payload.Status)
	require.Equal(t, "permanent-business", payload.ErrorKind)
}

func TestSNSNotifier_RetriesOnFailure(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	calls := 0
	n := NewSNSNotifier(logger, &fakeSNS{publish: func(in *sns.PublishInput) (*sns.PublishOutput, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("publish failed")
		}
		return &sns.PublishOutput{}, nil
	}}, "arn:topic")

	n.Notify(context.Background(), ReasonRetriesExhausted, failedMessage())
	require.Equal(t, 2, calls)
}

func TestLogNotifier(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	n := NewLogNotifier(logger)

	n.Notify(context.Background(), ReasonStuckProcessing, failedMessage())

	require.Len(t, hook.Entries, 1)
	require.Equal(t, ReasonStuckProcessing, hook.LastEntry().Data["reason"])
	require.Equal(t, "MSG-0001", hook.LastEntry().Data["messageRef"])
}

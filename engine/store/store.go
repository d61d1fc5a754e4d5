// Package store persists messages and aggregates in DynamoDB. Status
// transitions are compare-and-set against the expected pre-state via
// condition expressions, and aggregate mutations commit atomically with the
// source message's transition via TransactWriteItems.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/bankfabric/guarantee-message-engine/engine/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/pkg/errors"
)

var (
	// ErrStaleStatus is returned when a compare-and-set transition finds the
	// message in a different state than expected, meaning another worker got
	// there first.
	ErrStaleStatus = errors.New("message status changed concurrently")

	// ErrDuplicate is returned when a record with the same reference already
	// exists.
	ErrDuplicate = errors.New("record already exists")

	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("record not found")
)

// Store gives access to the message and aggregate tables.
type Store struct {
	client          dynamodbiface.DynamoDBAPI
	messagesTable   string
	guaranteesTable string
	amendmentsTable string
}

func New(client dynamodbiface.DynamoDBAPI, messagesTable, guaranteesTable, amendmentsTable string) *Store {
	return &Store{
		client:          client,
		messagesTable:   messagesTable,
		guaranteesTable: guaranteesTable,
		amendmentsTable: amendmentsTable,
	}
}

// messageRecord is the persisted shape of message.Message. Timestamps are
// unix seconds with zero meaning unset; the field set is stored as JSON.
type messageRecord struct {
	Reference        string   `dynamodbav:"reference"`
	Kind             string   `dynamodbav:"kind"`
	Status           string   `dynamodbav:"status"`
	RawPayload       string   `dynamodbav:"rawPayload"`
	Fields           string   `dynamodbav:"fields,omitempty"`
	Sender           string   `dynamodbav:"sender"`
	Receiver         string   `dynamodbav:"receiver"`
	TransactionRef   string   `dynamodbav:"transactionRef,omitempty"`
	Sequence         int      `dynamodbav:"sequence"`
	Priority         int      `dynamodbav:"priority"`
	RetryCount       int      `dynamodbav:"retryCount"`
	MaxRetries       int      `dynamodbav:"maxRetries"`
	NextRetryAt      int64    `dynamodbav:"nextRetryAt,omitempty"`
	ReceivedAt       int64    `dynamodbav:"receivedAt"`
	ProcessStartedAt int64    `dynamodbav:"processStartedAt,omitempty"`
	ProcessEndedAt   int64    `dynamodbav:"processEndedAt,omitempty"`
	ErrorDetail      string   `dynamodbav:"errorDetail,omitempty"`
	ErrorKind        string   `dynamodbav:"errorKind,omitempty"`
	ParentRef        string   `dynamodbav:"parentRef,omitempty"`
	ResponseRef      string   `dynamodbav:"responseRef,omitempty"`
	AggregateRef     string   `dynamodbav:"aggregateRef,omitempty"`
	StuckFlaggedAt   int64    `dynamodbav:"stuckFlaggedAt,omitempty"`
	ProcessingNotes  []string `dynamodbav:"processingNotes,omitempty"`
}

func unixOrNil(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func nilOrUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func toMessageRecord(m *message.Message) (*messageRecord, error) {
	if m == nil {
		return nil, errors.New("message is nil")
	}
	fields, err := message.EncodeFields(m.Fields)
	if err != nil {
		return nil, errors.Wrap(err, "encoding fields")
	}
	return &messageRecord{
		Reference:        m.Reference,
		Kind:             m.Kind.Code(),
		Status:           m.Status.String(),
		RawPayload:       m.RawPayload,
		Fields:           string(fields),
		Sender:           m.Sender,
		Receiver:         m.Receiver,
		TransactionRef:   m.TransactionRef,
		Sequence:         m.Sequence,
		Priority:         m.Priority,
		RetryCount:       m.RetryCount,
		MaxRetries:       m.MaxRetries,
		NextRetryAt:      nilOrUnix(m.NextRetryAt),
		ReceivedAt:       m.ReceivedAt.Unix(),
		ProcessStartedAt: nilOrUnix(m.ProcessStartedAt),
		ProcessEndedAt:   nilOrUnix(m.ProcessEndedAt),
		ErrorDetail:      m.ErrorDetail,
		ErrorKind:        string(m.ErrorKind),
		ParentRef:        m.ParentRef,
		ResponseRef:      m.ResponseRef,
		AggregateRef:     m.AggregateRef,
		StuckFlaggedAt:   nilOrUnix(m.StuckFlaggedAt),
		ProcessingNotes:  m.ProcessingNotes,
	}, nil
}

func fromMessageRecord(r *messageRecord) (*message.Message, error) {
	kind, err := message.KindFromCode(r.Kind)
	if err != nil {
		return nil, err
	}
	status, ok := message.StatusFromString(r.Status)
	if !ok {
		return nil, errors.Errorf("unknown status %q", r.Status)
	}
	fields, err := message.DecodeFields(kind, []byte(r.Fields))
	if err != nil {
		return nil, errors.Wrap(err, "decoding fields")
	}
	return &message.Message{
		Reference:        r.Reference,
		Kind:             kind,
		Status:           status,
		RawPayload:       r.RawPayload,
		Fields:           fields,
		Sender:           r.Sender,
		Receiver:         r.Receiver,
		TransactionRef:   r.TransactionRef,
		Sequence:         r.Sequence,
		Priority:         r.Priority,
		RetryCount:       r.RetryCount,
		MaxRetries:       r.MaxRetries,
		NextRetryAt:      unixOrNil(r.NextRetryAt),
		ReceivedAt:       time.Unix(r.ReceivedAt, 0).UTC(),
		ProcessStartedAt: unixOrNil(r.ProcessStartedAt),
		ProcessEndedAt:   unixOrNil(r.ProcessEndedAt),
		ErrorDetail:      r.ErrorDetail,
		ErrorKind:        message.ErrorKind(r.ErrorKind),
		ParentRef:        r.ParentRef,
		ResponseRef:      r.ResponseRef,
		AggregateRef:     r.AggregateRef,
		StuckFlaggedAt:   unixOrNil(r.StuckFlaggedAt),
		ProcessingNotes:  r.ProcessingNotes,
	}, nil
}

// PutMessage stores a new message. The condition guarantees global uniqueness
// of the reference.
func (s *Store) PutMessage(ctx context.Context, m *message.Message) error {
	rec, err := toMessageRecord(m)
	if err != nil {
		return err
	}
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling message")
	}
	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.messagesTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#ref)"),
		ExpressionAttributeNames: map[string]*string{
			"#ref": aws.String("reference"),
		},
	})
	if isConditionalFailure(err) {
		return ErrDuplicate
	}
	return err
}

// GetMessage fetches a message by reference.
func (s *Store) GetMessage(ctx context.Context, reference string) (*message.Message, error) {
	output, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.messagesTable),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"reference": {S: aws.String(reference)},
		},
	})
	if err != nil {
		return nil, err
	}
	if output.Item == nil {
		return nil, ErrNotFound
	}
	rec := &messageRecord{}
	if err := dynamodbattribute.UnmarshalMap(output.Item, rec); err != nil {
		return nil, err
	}
	return fromMessageRecord(rec)
}

// UpdateMessage persists the message if it is still in the expected
// pre-state. ErrStaleStatus means another worker owns it.
func (s *Store) UpdateMessage(ctx context.Context, m *message.Message, from message.Status) error {
	rec, err := toMessageRecord(m)
	if err != nil {
		return err
	}
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling message")
	}
	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.messagesTable),
		Item:                item,
		ConditionExpression: aws.String("#st = :from"),
		ExpressionAttributeNames: map[string]*string{
			"#st": aws.String("status"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":from": {S: aws.String(from.String())},
		},
	})
	if isConditionalFailure(err) {
		return ErrStaleStatus
	}
	return err
}

// ListForProcessing returns RECEIVED messages plus retry-eligible error
// messages whose next_retry_at has elapsed, ordered by priority (descending)
// then receipt time.
func (s *Store) ListForProcessing(ctx context.Context, now time.Time, limit int) ([]*message.Message, error) {
	msgs, err := s.scanStatuses(ctx,
		message.StatusReceived,
		message.StatusParseError, message.StatusValidationError, message.StatusProcessingError)
	if err != nil {
		return nil, err
	}
	eligible := msgs[:0]
	for _, m := range msgs {
		if m.Status == message.StatusReceived || m.RetryEligible(now) {
			eligible = append(eligible, m)
		}
	}
	SortForProcessing(eligible)
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// ListStuck returns PROCESSING messages whose processing started before the
// cutoff and that have not been flagged yet.
func (s *Store) ListStuck(ctx context.Context, cutoff time.Time) ([]*message.Message, error) {
	msgs, err := s.scanStatuses(ctx, message.StatusProcessing)
	if err != nil {
		return nil, err
	}
	stuck := msgs[:0]
	for _, m := range msgs {
		if m.StuckFlaggedAt == nil && m.ProcessStartedAt != nil && m.ProcessStartedAt.Before(cutoff) {
			stuck = append(stuck, m)
		}
	}
	return stuck, nil
}

// ResponseFor returns the response generated for the given original message.
// This is the queryable reverse side of the parent link.
//
// TODO: back this with a GSI on parentRef once the table definition is under
// our control; a filtered scan is fine at current volumes.
func (s *Store) ResponseFor(ctx context.Context, parentRef string) (*message.Message, error) {
	res, err := s.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.messagesTable),
		FilterExpression: aws.String("parentRef = :p"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":p": {S: aws.String(parentRef)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, ErrNotFound
	}
	rec := &messageRecord{}
	if err := dynamodbattribute.UnmarshalMap(res.Items[0], rec); err != nil {
		return nil, err
	}
	return fromMessageRecord(rec)
}

func (s *Store) scanStatuses(ctx context.Context, statuses ...message.Status) ([]*message.Message, error) {
	names := map[string]*string{"#st": aws.String("status")}
	values := map[string]*dynamodb.AttributeValue{}
	expr := "#st IN ("
	for i, st := range statuses {
		key := ":s" + string(rune('0'+i))
		values[key] = &dynamodb.AttributeValue{S: aws.String(st.String())}
		if i > 0 {
			expr += ", "
		}
		expr += key
	}
	expr += ")"

	var msgs []*message.Message
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.messagesTable),
		FilterExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	err := s.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		recs := []messageRecord{}
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return false
		}
		for i := range recs {
			m, err := fromMessageRecord(&recs[i])
			if err != nil {
				continue
			}
			msgs = append(msgs, m)
		}
		return true
	})
	return msgs, err
}

// SortForProcessing orders messages by priority (highest first) and then by
// receipt time (oldest first).
func SortForProcessing(msgs []*message.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Priority != msgs[j].Priority {
			return msgs[i].Priority > msgs[j].Priority
		}
		return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
	})
}

func isConditionalFailure(err error) bool {
	if err == nil {
		return false
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case dynamodb.ErrCodeConditionalCheckFailedException, dynamodb.ErrCodeTransactionCanceledException:
			return true
		}
	}
	return false
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/bankfabric/guarantee-message-engine/engine/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/require"
)

// fakeDynamoDB lets each test intercept the DynamoDB calls it cares about.
type fakeDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	putItem   func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	getItem   func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	scan      func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	scanPages func(*dynamodb.ScanInput, func(*dynamodb.ScanOutput, bool) bool) error
	transact  func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
}

func (f *fakeDynamoDB) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error) {
	return f.putItem(in)
}

func (f *fakeDynamoDB) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error) {
	return f.getItem(in)
}

func (f *fakeDynamoDB) ScanWithContext(ctx aws.Context, in *dynamodb.ScanInput, opts ...request.Option) (*dynamodb.ScanOutput, error) {
	return f.scan(in)
}

func (f *fakeDynamoDB) ScanPagesWithContext(ctx aws.Context, in *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, opts ...request.Option) error {
	return f.scanPages(in, fn)
}

func (f *fakeDynamoDB) TransactWriteItemsWithContext(ctx aws.Context, in *dynamodb.TransactWriteItemsInput, opts ...request.Option) (*dynamodb.TransactWriteItemsOutput, error) {
	return f.transact(in)
}

func newTestStore(client dynamodbiface.DynamoDBAPI) *Store {
	return New(client, "messages", "guarantees", "amendments")
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "the conditional request failed", nil)
}

func sampleMessage(t *testing.T) *message.Message {
	t.Helper()
	fields, err := message.Parse(message.KindReceivedGuarantee,
		":20:GUAR760REF001\n:32B:USD100000,00\n:30:260801\n:31E:270801\n:50:ACME\n:59:BANK")
	require.NoError(t, err)

	received := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	started := received.Add(time.Second)
	next := received.Add(5 * time.Minute)
	m := message.New("MSG-0001", message.KindReceivedGuarantee, ":20:GUAR760REF001", "BANKGB2L", "BANKUS33", 5, 3, received)
	m.Status = message.StatusParsed
	m.Fields = fields
	m.TransactionRef = "GUAR760REF001"
	m.Sequence = 1
	m.RetryCount = 1
	m.NextRetryAt = &next
	m.ProcessStartedAt = &started
	m.ErrorKind = message.ErrorKindTransient
	m.ErrorDetail = "first attempt failed"
	m.Note("automatic retry 1/3 from PARSE_ERROR")
	return m
}

func TestMessageRecordRoundTrip(t *testing.T) {
	m := sampleMessage(t)

	rec, err := toMessageRecord(m)
	require.NoError(t, err)
	got, err := fromMessageRecord(rec)
	require.NoError(t, err)

	require.Equal(t, m.Reference, got.Reference)
	require.Equal(t, m.Kind, got.Kind)
	require.Equal(t, m.Status, got.Status)
	require.Equal(t, m.Sender, got.Sender)
	require.Equal(t, m.Priority, got.Priority)
	require.Equal(t, m.RetryCount, got.RetryCount)
	require.True(t, got.ReceivedAt.Equal(m.ReceivedAt))
	require.NotNil(t, got.NextRetryAt)
	require.True(t, got.NextRetryAt.Equal(*m.NextRetryAt))
	require.Nil(t, got.ProcessEndedAt)
	require.Equal(t, m.ProcessingNotes, got.ProcessingNotes)

	fields, ok := got.Fields.(*message.GuaranteeFields)
	require.True(t, ok)
	require.Equal(t, "USD100000,00", fields.CurrencyAmount)
}

func TestPutMessage(t *testing.T) {
	var captured *dynamodb.PutItemInput
	s := newTestStore(&fakeDynamoDB{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		captured = in
		return &dynamodb.PutItemOutput{}, nil
	}})

	err := s.PutMessage(context.Background(), sampleMessage(t))
	require.NoError(t, err)
	require.Equal(t, "messages", *captured.TableName)
	require.Equal(t, "attribute_not_exists(#ref)", *captured.ConditionExpression)
	require.Equal(t, "MSG-0001", *captured.Item["reference"].S)
}

func TestPutMessage_Duplicate(t *testing.T) {
	s := newTestStore(&fakeDynamoDB{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return nil, conditionFailed()
	}})

	err := s.PutMessage(context.Background(), sampleMessage(t))
	require.Equal(t, ErrDuplicate, err)
}

func TestGetMessage(t *testing.T) {
	rec, err := toMessageRecord(sampleMessage(t))
	require.NoError(t, err)
	item, err := dynamodbattribute.MarshalMap(rec)
	require.NoError(t, err)

	s := newTestStore(&fakeDynamoDB{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		require.True(t, *in.ConsistentRead)
		require.Equal(t, "MSG-0001", *in.Key["reference"].S)
		return &dynamodb.GetItemOutput{Item: item}, nil
	}})

	m, err := s.GetMessage(context.Background(), "MSG-0001")
	require.NoError(t, err)
	require.Equal(t, message.StatusParsed, m.Status)
	require.Equal(t, message.KindReceivedGuarantee, m.Kind)
}

func TestGetMessage_NotFound(t *testing.T) {
	s := newTestStore(&fakeDynamoDB{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{}, nil
	}})

	_, err := s.GetMessage(context.Background(), "MSG-MISSING")
	require.Equal(t, ErrNotFound, err)
}

func TestUpdateMessage_Stale(t *testing.T) {
	var captured *dynamodb.PutItemInput
	s := newTestStore(&fakeDynamoDB{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		captured = in
		return nil, conditionFailed()
	}})

	err := s.UpdateMessage(context.Background(), sampleMessage(t), message.StatusProcessing)
	require.Equal(t, ErrStaleStatus, err)
	require.Equal(t, "#st = :from", *captured.ConditionExpression)
	require.Equal(t, "PROCESSING", *captured.ExpressionAttributeValues[":from"].S)
}

func TestListForProcessing(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	notDue := now.Add(time.Hour)

	fresh := message.New("MSG-FRESH", message.KindFreeFormat, ":20:A", "BANKGB2L", "BANKUS33", 0, 3, now)
	urgent := message.New("MSG-URGENT", message.KindFreeFormat, ":20:B", "BANKGB2L", "BANKUS33", 9, 3, now)
	retryDue := message.New("MSG-RETRY", message.KindFreeFormat, ":20:C", "BANKGB2L", "BANKUS33", 0, 3, now.Add(-time.Hour))
	retryDue.Status = message.StatusParseError
	retryDue.ErrorKind = message.ErrorKindTransient
	retryDue.RetryCount = 1
	retryDue.NextRetryAt = &due
	retryLater := message.New("MSG-LATER", message.KindFreeFormat, ":20:D", "BANKGB2L", "BANKUS33", 0, 3, now)
	retryLater.Status = message.StatusParseError
	retryLater.RetryCount = 1
	retryLater.NextRetryAt = &notDue
	permanent := message.New("MSG-PERM", message.KindFreeFormat, ":20:E", "BANKGB2L", "BANKUS33", 0, 3, now)
	permanent.Status = message.StatusProcessingError
	permanent.ErrorKind = message.ErrorKindPermanent
	permanent.RetryCount = 1
	permanent.NextRetryAt = &due

	var items []map[string]*dynamodb.AttributeValue
	for _, m := range []*message.Message{fresh, urgent, retryDue, retryLater, permanent} {
		rec, err := toMessageRecord(m)
		require.NoError(t, err)
		item, err := dynamodbattribute.MarshalMap(rec)
		require.NoError(t, err)
		items = append(items, item)
	}

	s := newTestStore(&fakeDynamoDB{scanPages: func(in *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool) error {
		require.Contains(t, *in.FilterExpression, "#st IN (")
		fn(&dynamodb.ScanOutput{Items: items}, true)
		return nil
	}})

	msgs, err := s.ListForProcessing(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "MSG-URGENT", msgs[0].Reference)
	require.Equal(t, "MSG-RETRY", msgs[1].Reference)
	require.Equal(t, "MSG-FRESH", msgs[2].Reference)
}

func TestFindGuaranteeByCorrelation_NotFound(t *testing.T) {
	s := newTestStore(&fakeDynamoDB{scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
		require.Equal(t, "guarantees", *in.TableName)
		return &dynamodb.ScanOutput{}, nil
	}})

	_, err := s.FindGuaranteeByCorrelation(context.Background(), "GUAR760REF001")
	require.Equal(t, ErrNotFound, err)
}

func TestCommitOutcome(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	s := newTestStore(&fakeDynamoDB{transact: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		captured = in
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}})

	m := sampleMessage(t)
	m.Status = message.StatusProcessed
	out := &Outcome{Guarantee: &Guarantee{
		Reference:      "GTEE-0001",
		CorrelationRef: "GUAR760REF001",
		Status:         GuaranteeStatusReceived,
		Currency:       "USD",
		Amount:         "100000.00",
		Version:        1,
	}}

	err := s.CommitOutcome(context.Background(), m, message.StatusValidated, out)
	require.NoError(t, err)
	require.Len(t, captured.TransactItems, 2)

	msgPut := captured.TransactItems[0].Put
	require.Equal(t, "messages", *msgPut.TableName)
	require.Equal(t, "#st = :from", *msgPut.ConditionExpression)
	require.Equal(t, "VALIDATED", *msgPut.ExpressionAttributeValues[":from"].S)

	gPut := captured.TransactItems[1].Put
	require.Equal(t, "guarantees", *gPut.TableName)
	require.Equal(t, "attribute_not_exists(#ref)", *gPut.ConditionExpression)
	require.Equal(t, "GTEE-0001", *gPut.Item["reference"].S)
}

func TestCommitOutcome_Canceled(t *testing.T) {
	s := newTestStore(&fakeDynamoDB{transact: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		return nil, awserr.New(dynamodb.ErrCodeTransactionCanceledException, "transaction canceled", nil)
	}})

	err := s.CommitOutcome(context.Background(), sampleMessage(t), message.StatusValidated, nil)
	require.Equal(t, ErrStaleStatus, err)
}

func TestCommitResponse(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	s := newTestStore(&fakeDynamoDB{transact: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		captured = in
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}})

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	original := message.New("MSG-0001", message.KindReceivedGuarantee, ":20:REF", "BANKGB2L", "BANKUS33", 0, 3, now)
	response := message.NewResponse(original, "MSG-0002", now)
	original.Status = message.StatusResponded
	original.ResponseRef = response.Reference

	err := s.CommitResponse(context.Background(), original, response)
	require.NoError(t, err)
	require.Len(t, captured.TransactItems, 2)

	respPut := captured.TransactItems[0].Put
	require.Equal(t, "attribute_not_exists(#ref)", *respPut.ConditionExpression)
	require.Equal(t, "MSG-0002", *respPut.Item["reference"].S)

	origPut := captured.TransactItems[1].Put
	require.Equal(t, "#st = :from AND attribute_not_exists(responseRef)", *origPut.ConditionExpression)
	require.Equal(t, "PROCESSED", *origPut.ExpressionAttributeValues[":from"].S)
}

func TestSortForProcessing(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	msgs := []*message.Message{
		{Reference: "B", Priority: 1, ReceivedAt: now},
		{Reference: "C", Priority: 1, ReceivedAt: now.Add(time.Second)},
		{Reference: "A", Priority: 9, ReceivedAt: now.Add(time.Minute)},
	}
	SortForProcessing(msgs)
	require.Equal(t, "A", msgs[0].Reference)
	require.Equal(t, "B", msgs[1].Reference)
	require.Equal(t, "C", msgs[2].Reference)
}

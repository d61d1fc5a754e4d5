package store

import (
	"context"
	"time"

	"github.com/bankfabric/guarantee-message-engine/engine/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/pkg/errors"
)

type guaranteeRecord struct {
	Reference      string `dynamodbav:"reference"`
	CorrelationRef string `dynamodbav:"correlationRef"`
	Status         string `dynamodbav:"status"`
	Currency       string `dynamodbav:"currency"`
	Amount         string `dynamodbav:"amount"`
	IssueDate      int64  `dynamodbav:"issueDate"`
	ExpiryDate     int64  `dynamodbav:"expiryDate"`
	Applicant      string `dynamodbav:"applicant"`
	Beneficiary    string `dynamodbav:"beneficiary"`
	Details        string `dynamodbav:"details,omitempty"`
	SourceMsgRef   string `dynamodbav:"sourceMsgRef"`
	Version        int    `dynamodbav:"version"`
	CreatedAt      int64  `dynamodbav:"createdAt"`
}

type amendmentRecord struct {
	Reference    string `dynamodbav:"reference"`
	GuaranteeRef string `dynamodbav:"guaranteeRef"`
	Number       int    `dynamodbav:"number"`
	Currency     string `dynamodbav:"currency,omitempty"`
	Amount       string `dynamodbav:"amount,omitempty"`
	ExpiryDate   string `dynamodbav:"expiryDate,omitempty"`
	Details      string `dynamodbav:"details,omitempty"`
	SourceMsgRef string `dynamodbav:"sourceMsgRef"`
	CreatedAt    int64  `dynamodbav:"createdAt"`
}

func toGuaranteeRecord(g *Guarantee) *guaranteeRecord {
	return &guaranteeRecord{
		Reference:      g.Reference,
		CorrelationRef: g.CorrelationRef,
		Status:         g.Status,
		Currency:       g.Currency,
		Amount:         g.Amount,
		IssueDate:      g.IssueDate.Unix(),
		ExpiryDate:     g.ExpiryDate.Unix(),
		Applicant:      g.Applicant,
		Beneficiary:    g.Beneficiary,
		Details:        g.Details,
		SourceMsgRef:   g.SourceMsgRef,
		Version:        g.Version,
		CreatedAt:      g.CreatedAt.Unix(),
	}
}

func fromGuaranteeRecord(r *guaranteeRecord) *Guarantee {
	return &Guarantee{
		Reference:      r.Reference,
		CorrelationRef: r.CorrelationRef,
		Status:         r.Status,
		Currency:       r.Currency,
		Amount:         r.Amount,
		IssueDate:      time.Unix(r.IssueDate, 0).UTC(),
		ExpiryDate:     time.Unix(r.ExpiryDate, 0).UTC(),
		Applicant:      r.Applicant,
		Beneficiary:    r.Beneficiary,
		Details:        r.Details,
		SourceMsgRef:   r.SourceMsgRef,
		Version:        r.Version,
		CreatedAt:      time.Unix(r.CreatedAt, 0).UTC(),
	}
}

func toAmendmentRecord(a *Amendment) *amendmentRecord {
	return &amendmentRecord{
		Reference:    a.Reference,
		GuaranteeRef: a.GuaranteeRef,
		Number:       a.Number,
		Currency:     a.Currency,
		Amount:       a.Amount,
		ExpiryDate:   a.ExpiryDate,
		Details:      a.Details,
		SourceMsgRef: a.SourceMsgRef,
		CreatedAt:    a.CreatedAt.Unix(),
	}
}

// FindGuaranteeByCorrelation locates the guarantee a correlation reference
// points at.
func (s *Store) FindGuaranteeByCorrelation(ctx context.Context, correlationRef string) (*Guarantee, error) {
	res, err := s.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.guaranteesTable),
		FilterExpression: aws.String("correlationRef = :c"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":c": {S: aws.String(correlationRef)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, ErrNotFound
	}
	rec := &guaranteeRecord{}
	if err := dynamodbattribute.UnmarshalMap(res.Items[0], rec); err != nil {
		return nil, err
	}
	return fromGuaranteeRecord(rec), nil
}

// CommitOutcome writes the handler's aggregate mutation and the message's
// VALIDATED -> PROCESSED transition in a single transaction, so a mutated
// aggregate always has a traceable source message and vice versa.
func (s *Store) CommitOutcome(ctx context.Context, m *message.Message, from message.Status, out *Outcome) error {
	rec, err := toMessageRecord(m)
	if err != nil {
		return err
	}
	msgItem, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling message")
	}

	items := []*dynamodb.TransactWriteItem{{
		Put: &dynamodb.Put{
			TableName:           aws.String(s.messagesTable),
			Item:                msgItem,
			ConditionExpression: aws.String("#st = :from"),
			ExpressionAttributeNames: map[string]*string{
				"#st": aws.String("status"),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":from": {S: aws.String(from.String())},
			},
		},
	}}

	if out != nil && out.Guarantee != nil {
		item, err := dynamodbattribute.MarshalMap(toGuaranteeRecord(out.Guarantee))
		if err != nil {
			return errors.Wrap(err, "marshaling guarantee")
		}
		items = append(items, &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName:           aws.String(s.guaranteesTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(#ref)"),
				ExpressionAttributeNames: map[string]*string{
					"#ref": aws.String("reference"),
				},
			},
		})
	}
	if out != nil && out.Amendment != nil {
		item, err := dynamodbattribute.MarshalMap(toAmendmentRecord(out.Amendment))
		if err != nil {
			return errors.Wrap(err, "marshaling amendment")
		}
		items = append(items, &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName:           aws.String(s.amendmentsTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(#ref)"),
				ExpressionAttributeNames: map[string]*string{
					"#ref": aws.String("reference"),
				},
			},
		})
	}

	_, err = s.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if isConditionalFailure(err) {
		return ErrStaleStatus
	}
	return err
}

// CommitResponse persists a generated response and links it to its original
// in one transaction. The condition on the original guards both the
// PROCESSED pre-state and the absence of a previous response, keeping
// generation idempotent with at most one response per original.
func (s *Store) CommitResponse(ctx context.Context, original *message.Message, response *message.Message) error {
	origRec, err := toMessageRecord(original)
	if err != nil {
		return err
	}
	origItem, err := dynamodbattribute.MarshalMap(origRec)
	if err != nil {
		return errors.Wrap(err, "marshaling original")
	}
	respRec, err := toMessageRecord(response)
	if err != nil {
		return err
	}
	respItem, err := dynamodbattribute.MarshalMap(respRec)
	if err != nil {
		return errors.Wrap(err, "marshaling response")
	}

	_, err = s.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{
				Put: &dynamodb.Put{
					TableName:           aws.String(s.messagesTable),
					Item:                respItem,
					ConditionExpression: aws.String("attribute_not_exists(#ref)"),
					ExpressionAttributeNames: map[string]*string{
						"#ref": aws.String("reference"),
					},
				},
			},
			{
				Put: &dynamodb.Put{
					TableName:           aws.String(s.messagesTable),
					Item:                origItem,
					ConditionExpression: aws.String("#st = :from AND attribute_not_exists(responseRef)"),
					ExpressionAttributeNames: map[string]*string{
						"#st": aws.String("status"),
					},
					ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
						":from": {S: aws.String(message.StatusProcessed.String())},
					},
				},
			},
		},
	})
	if isConditionalFailure(err) {
		return ErrStaleStatus
	}
	return err
}

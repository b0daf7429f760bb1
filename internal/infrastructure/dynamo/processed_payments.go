package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the part of the DynamoDB client the store calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

const processedSK = "PROCESSED"

type processedItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Provider    string `dynamodbav:"provider"`
	PaymentID   string `dynamodbav:"payment_id"`
	OrderID     string `dynamodbav:"order_id"`
	Amount      int64  `dynamodbav:"amount"`
	ProcessedAt string `dynamodbav:"processed_at"`
}

// ProcessedPaymentStore keeps the dedup records in a single DynamoDB table
// keyed PK=PAYMENT#<provider>#<id>, SK=PROCESSED. The conditional put is the
// uniqueness guarantee.
type ProcessedPaymentStore struct {
	client API
	table  string
}

// NewClient builds a DynamoDB client for region, pointed at endpoint when set
// (DynamoDB Local).
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewProcessedPaymentStore(client API, table string) *ProcessedPaymentStore {
	return &ProcessedPaymentStore{client: client, table: table}
}

func (s *ProcessedPaymentStore) IsProcessed(ctx context.Context, provider domain.Provider, paymentID string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(provider, paymentID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("dynamo: get processed payment: %w", err)
	}
	return len(out.Item) > 0, nil
}

func (s *ProcessedPaymentStore) MarkProcessed(ctx context.Context, p domain.ProcessedPayment) error {
	item, err := attributevalue.MarshalMap(processedItem{
		PK:          pk(p.Provider, p.PaymentID),
		SK:          processedSK,
		Provider:    string(p.Provider),
		PaymentID:   p.PaymentID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		ProcessedAt: p.ProcessedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("dynamo: marshal processed payment: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return domain.ErrAlreadyProcessed
	}
	if err != nil {
		return fmt.Errorf("dynamo: put processed payment: %w", err)
	}
	return nil
}

func pk(provider domain.Provider, paymentID string) string {
	return fmt.Sprintf("PAYMENT#%s#%s", provider, paymentID)
}

func key(provider domain.Provider, paymentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk(provider, paymentID)},
		"SK": &types.AttributeValueMemberS{Value: processedSK},
	}
}

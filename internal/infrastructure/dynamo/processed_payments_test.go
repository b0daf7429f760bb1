package dynamo

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable honours attribute_not_exists(PK) the way DynamoDB does.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	puts  []*dynamodb.PutItemInput
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[pk]}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(PK)" {
		if _, exists := f.items[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestMarkProcessedIsConditional(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	store := NewProcessedPaymentStore(table, "processed_payments")

	processed, err := store.IsProcessed(ctx, domain.ProviderPayPal, "CAP-1")
	require.NoError(t, err)
	assert.False(t, processed)

	p := domain.ProcessedPayment{Provider: domain.ProviderPayPal, PaymentID: "CAP-1", OrderID: "ord-1", Amount: 1000, ProcessedAt: time.Now()}
	require.NoError(t, store.MarkProcessed(ctx, p))
	assert.ErrorIs(t, store.MarkProcessed(ctx, p), domain.ErrAlreadyProcessed)

	processed, err = store.IsProcessed(ctx, domain.ProviderPayPal, "CAP-1")
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, table.puts, 2)
	first := table.puts[0]
	assert.Equal(t, "processed_payments", aws.ToString(first.TableName))
	assert.Equal(t, "PAYMENT#paypal#CAP-1", first.Item["PK"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "PROCESSED", first.Item["SK"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "ord-1", first.Item["order_id"].(*types.AttributeValueMemberS).Value)
}

func TestMarkProcessedConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewProcessedPaymentStore(newFakeTable(), "t")

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.MarkProcessed(ctx, domain.ProcessedPayment{Provider: domain.ProviderPayPal, PaymentID: "CAP-9", OrderID: "o"})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	}
	assert.Equal(t, 1, wins)
}

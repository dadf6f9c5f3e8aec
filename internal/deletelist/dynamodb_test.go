package deletelist

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// mockDynamoDBClient implements DynamoDBAPI for testing.
type mockDynamoDBClient struct {
	GetItemFunc func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItemFunc func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.PutItemFunc != nil {
		return m.PutItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

// tableClient is a one-table in-memory DynamoDB.
func tableClient() (*mockDynamoDBClient, map[string]map[string]ddbtypes.AttributeValue) {
	items := make(map[string]map[string]ddbtypes.AttributeValue)
	keyOf := func(m map[string]ddbtypes.AttributeValue) string {
		return m[DefaultKeyAttr].(*ddbtypes.AttributeValueMemberS).Value
	}
	return &mockDynamoDBClient{
		GetItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: items[keyOf(params.Key)]}, nil
		},
		PutItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			items[keyOf(params.Item)] = params.Item
			return &dynamodb.PutItemOutput{}, nil
		},
	}, items
}

func TestDynamoDB_LoadMissing(t *testing.T) {
	var got *dynamodb.GetItemInput
	mock := &mockDynamoDBClient{
		GetItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			got = params
			return &dynamodb.GetItemOutput{}, nil
		},
	}

	ids, found, err := NewDynamoDB(mock, DynamoDBConfig{}).Load(context.Background())

	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, ids)
	assert.Equal(t, "For_Delete", aws.ToString(got.TableName))
	assert.True(t, aws.ToBool(got.ConsistentRead))
	assert.Equal(t, "instances_list", got.Key["delete_list"].(*ddbtypes.AttributeValueMemberS).Value)
}

func TestDynamoDB_SaveWritesSortedList(t *testing.T) {
	var got *dynamodb.PutItemInput
	mock := &mockDynamoDBClient{
		PutItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			got = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	err := NewDynamoDB(mock, DynamoDBConfig{Table: "ttl"}).Save(context.Background(), resource.NewIDSet("i-2", "i-1"))

	require.NoError(t, err)
	assert.Equal(t, "ttl", aws.ToString(got.TableName))
	list, ok := got.Item["ids"].(*ddbtypes.AttributeValueMemberL)
	require.True(t, ok)
	require.Len(t, list.Value, 2)
	assert.Equal(t, "i-1", list.Value[0].(*ddbtypes.AttributeValueMemberS).Value)
	assert.Equal(t, "i-2", list.Value[1].(*ddbtypes.AttributeValueMemberS).Value)
}

func TestDynamoDB_SaveEmptyKeepsRecord(t *testing.T) {
	mock, items := tableClient()
	backend := NewDynamoDB(mock, DynamoDBConfig{})

	require.NoError(t, backend.Save(context.Background(), resource.NewIDSet()))

	ids, found, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, ids.Len())
	assert.Len(t, items, 1)
}

func TestDynamoDB_DecodeShapes(t *testing.T) {
	tests := []struct {
		name string
		av   ddbtypes.AttributeValue
		want []string
	}{
		{"absent", nil, []string{}},
		{"null", &ddbtypes.AttributeValueMemberNULL{Value: true}, []string{}},
		{"string set", &ddbtypes.AttributeValueMemberSS{Value: []string{"b", "a"}}, []string{"a", "b"}},
		{"list", &ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{
			&ddbtypes.AttributeValueMemberS{Value: "x"},
			&ddbtypes.AttributeValueMemberS{Value: "x"},
		}}, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := decodeIDs(tt.av)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids.Sorted())
		})
	}
}

func TestDynamoDB_DecodeRejectsUnknownShapes(t *testing.T) {
	_, err := decodeIDs(&ddbtypes.AttributeValueMemberS{Value: "i-1"})
	assert.Error(t, err)

	_, err = decodeIDs(&ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{
		&ddbtypes.AttributeValueMemberN{Value: "1"},
	}})
	assert.Error(t, err)
}

func TestDynamoDB_Errors(t *testing.T) {
	mock := &mockDynamoDBClient{
		GetItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return nil, errors.New("ResourceNotFoundException")
		},
		PutItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, errors.New("ProvisionedThroughputExceededException")
		},
	}
	backend := NewDynamoDB(mock, DynamoDBConfig{})

	_, _, err := backend.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ResourceNotFoundException")

	err = backend.Save(context.Background(), resource.NewIDSet("i-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProvisionedThroughputExceededException")
}

func TestDynamoDB_StoreRoundTrip(t *testing.T) {
	mock, _ := tableClient()
	store := New(NewDynamoDB(mock, DynamoDBConfig{}), zerolog.Nop())
	ctx := context.Background()

	_, err := store.MergeAdd(ctx, resource.NewIDSet("A", "B"))
	require.NoError(t, err)
	_, err = store.MergeAdd(ctx, resource.NewIDSet("B", "C"))
	require.NoError(t, err)

	ids, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, ids.Sorted())
}

package deletelist

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// Defaults matching the table the delete list has always lived in.
const (
	DefaultTable     = "For_Delete"
	DefaultKeyAttr   = "delete_list"
	DefaultValueAttr = "ids"
)

// DynamoDBAPI defines the DynamoDB operations used by the delete list.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDBConfig locates the delete list record.
type DynamoDBConfig struct {
	Table     string
	KeyAttr   string
	Key       string
	ValueAttr string
}

func (c *DynamoDBConfig) applyDefaults() {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.KeyAttr == "" {
		c.KeyAttr = DefaultKeyAttr
	}
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.ValueAttr == "" {
		c.ValueAttr = DefaultValueAttr
	}
}

// DynamoDB keeps the delete list in one DynamoDB item.
// IDs are stored as a list of strings: a string set cannot be empty, and
// clearing the list must still leave a record behind.
type DynamoDB struct {
	client DynamoDBAPI
	cfg    DynamoDBConfig
}

// NewDynamoDB creates a DynamoDB backend.
func NewDynamoDB(client DynamoDBAPI, cfg DynamoDBConfig) *DynamoDB {
	cfg.applyDefaults()
	return &DynamoDB{client: client, cfg: cfg}
}

// Name returns the backend identifier.
func (d *DynamoDB) Name() string {
	return "dynamodb"
}

func (d *DynamoDB) key() map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		d.cfg.KeyAttr: &ddbtypes.AttributeValueMemberS{Value: d.cfg.Key},
	}
}

// Load reads the record with a strongly consistent read.
func (d *DynamoDB) Load(ctx context.Context) (resource.IDSet, bool, error) {
	output, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.cfg.Table),
		Key:            d.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("get item %s/%s: %w", d.cfg.Table, d.cfg.Key, err)
	}
	if len(output.Item) == 0 {
		return nil, false, nil
	}

	ids, err := decodeIDs(output.Item[d.cfg.ValueAttr])
	if err != nil {
		return nil, false, fmt.Errorf("decode %s/%s.%s: %w", d.cfg.Table, d.cfg.Key, d.cfg.ValueAttr, err)
	}
	return ids, true, nil
}

// Save writes the whole record.
func (d *DynamoDB) Save(ctx context.Context, ids resource.IDSet) error {
	item := d.key()
	item[d.cfg.ValueAttr] = encodeIDs(ids)

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.cfg.Table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item %s/%s: %w", d.cfg.Table, d.cfg.Key, err)
	}
	return nil
}

func encodeIDs(ids resource.IDSet) ddbtypes.AttributeValue {
	sorted := ids.Sorted()
	list := make([]ddbtypes.AttributeValue, 0, len(sorted))
	for _, id := range sorted {
		list = append(list, &ddbtypes.AttributeValueMemberS{Value: id})
	}
	return &ddbtypes.AttributeValueMemberL{Value: list}
}

// decodeIDs accepts a list of strings, a string set, or an absent/null value.
func decodeIDs(av ddbtypes.AttributeValue) (resource.IDSet, error) {
	ids := resource.NewIDSet()

	switch v := av.(type) {
	case nil:
		return ids, nil
	case *ddbtypes.AttributeValueMemberNULL:
		return ids, nil
	case *ddbtypes.AttributeValueMemberSS:
		for _, id := range v.Value {
			ids.Add(id)
		}
		return ids, nil
	case *ddbtypes.AttributeValueMemberL:
		for i, elem := range v.Value {
			s, ok := elem.(*ddbtypes.AttributeValueMemberS)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want string", i, elem)
			}
			ids.Add(s.Value)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", av)
	}
}

package statestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dynamoTTL = 30 * 24 * time.Hour // 30-day TTL

// dynamoAPI is the minimal DynamoDB interface required by the dynamodb
// driver. Defined here for testability.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps one item per state key: PK is the derived key, the JSON
// record lives in a binary attribute, and a ttl attribute lets the table
// expire stale days on its own.
type DynamoStore struct {
	api       dynamoAPI
	tableName string
}

func newDynamoStore(api dynamoAPI, tableName string) (*DynamoStore, error) {
	if api == nil || strings.TrimSpace(tableName) == "" {
		return nil, ErrInvalidConfig
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// Get fetches the item at key. A missing item is reported as ok=false.
func (d *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("statestore: dynamodb get %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}

	attr, ok := out.Item["state"]
	if !ok {
		return nil, false, fmt.Errorf("statestore: dynamodb item %q missing state attribute", key)
	}
	b, ok := attr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, fmt.Errorf("statestore: dynamodb item %q state attribute is not binary", key)
	}
	return b.Value, true, nil
}

// Put overwrites the item at key.
func (d *DynamoStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":    &types.AttributeValueMemberS{Value: key},
			"state": &types.AttributeValueMemberB{Value: data},
			"ttl":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Add(dynamoTTL).Unix())},
		},
	})
	if err != nil {
		return fmt.Errorf("statestore: dynamodb put %q: %w", key, err)
	}
	return nil
}

// Ping reports whether the table is reachable.
func (d *DynamoStore) Ping(ctx context.Context) error {
	_, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return fmt.Errorf("statestore: dynamodb describe table %q: %w", d.tableName, err)
	}
	return nil
}

// Package dynamo implements catalog.Catalog on Amazon DynamoDB.
//
// DynamoDB provides the compare-and-swap that object stores lack: a version
// is committed with a conditional write that fails if the version already
// exists, so concurrent writers publishing the same index cannot overwrite
// each other.
//
// Table schema:
//   - Partition key: name (string)
//   - Sort key: version (number)
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name vecbench-catalog \
//	  --attribute-definitions AttributeName=name,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=name,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vecbench/catalog"
)

// Client is the subset of the DynamoDB API the catalog uses.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Catalog stores version records in one DynamoDB table.
type Catalog struct {
	client Client
	table  string
}

var _ catalog.Catalog = (*Catalog)(nil)

// New creates a catalog on table using client.
func New(client Client, table string) *Catalog {
	return &Catalog{client: client, table: table}
}

// NewFromEnv loads the default AWS configuration.
func NewFromEnv(ctx context.Context, table string) (*Catalog, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), table), nil
}

func key(name string, version uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"name":    &types.AttributeValueMemberS{Value: name},
		"version": &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
	}
}

func encode(rec catalog.Record) (map[string]types.AttributeValue, error) {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return nil, err
	}
	item := key(rec.Name, rec.Version)
	item["blob"] = &types.AttributeValueMemberS{Value: rec.Blob}
	item["config"] = &types.AttributeValueMemberS{Value: string(cfg)}
	item["vector_count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(rec.VectorCount)}
	item["bytes"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Bytes, 10)}
	item["created_at"] = &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["build_ms"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.BuildMillis, 10)}
	return item, nil
}

func decode(item map[string]types.AttributeValue) (catalog.Record, error) {
	var rec catalog.Record
	str := func(name string) (string, error) {
		v, ok := item[name].(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("dynamo: invalid %s attribute", name)
		}
		return v.Value, nil
	}
	num := func(name string) (int64, error) {
		v, ok := item[name].(*types.AttributeValueMemberN)
		if !ok {
			return 0, fmt.Errorf("dynamo: invalid %s attribute", name)
		}
		return strconv.ParseInt(v.Value, 10, 64)
	}

	var err error
	if rec.Name, err = str("name"); err != nil {
		return rec, err
	}
	version, err := num("version")
	if err != nil {
		return rec, err
	}
	rec.Version = uint64(version)
	if rec.Blob, err = str("blob"); err != nil {
		return rec, err
	}
	cfg, err := str("config")
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
		return rec, fmt.Errorf("dynamo: decode config: %w", err)
	}
	count, err := num("vector_count")
	if err != nil {
		return rec, err
	}
	rec.VectorCount = int(count)
	if rec.Bytes, err = num("bytes"); err != nil {
		return rec, err
	}
	created, err := str("created_at")
	if err != nil {
		return rec, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return rec, err
	}
	rec.BuildMillis, err = num("build_ms")
	return rec, err
}

// Commit writes rec only if its version does not exist yet.
func (c *Catalog) Commit(ctx context.Context, rec catalog.Record) error {
	if err := catalog.ValidateName(rec.Name); err != nil {
		return err
	}
	item, err := encode(rec)
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s version %d", catalog.ErrConcurrentModification, rec.Name, rec.Version)
		}
		return fmt.Errorf("dynamo: commit version: %w", err)
	}
	return nil
}

// Latest queries the partition in descending version order.
func (c *Catalog) Latest(ctx context.Context, name string) (catalog.Record, error) {
	resp, err := c.client.Query(ctx, c.query(name, false, 1, nil))
	if err != nil {
		return catalog.Record{}, fmt.Errorf("dynamo: query: %w", err)
	}
	if len(resp.Items) == 0 {
		return catalog.Record{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, name)
	}
	return decode(resp.Items[0])
}

func (c *Catalog) Get(ctx context.Context, name string, version uint64) (catalog.Record, error) {
	resp, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            key(name, version),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return catalog.Record{}, fmt.Errorf("dynamo: get item: %w", err)
	}
	if len(resp.Item) == 0 {
		return catalog.Record{}, fmt.Errorf("%w: %s version %d", catalog.ErrNotFound, name, version)
	}
	return decode(resp.Item)
}

// List pages through the partition in ascending version order.
func (c *Catalog) List(ctx context.Context, name string) ([]catalog.Record, error) {
	var (
		recs  []catalog.Record
		start map[string]types.AttributeValue
	)
	for {
		resp, err := c.client.Query(ctx, c.query(name, true, 0, start))
		if err != nil {
			return nil, fmt.Errorf("dynamo: query: %w", err)
		}
		for _, item := range resp.Items {
			rec, err := decode(item)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return recs, nil
		}
		start = resp.LastEvaluatedKey
	}
}

func (c *Catalog) Delete(ctx context.Context, name string, version uint64) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       key(name, version),
	})
	if err != nil {
		return fmt.Errorf("dynamo: delete item: %w", err)
	}
	return nil
}

func (c *Catalog) query(name string, ascending bool, limit int32, start map[string]types.AttributeValue) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("#n = :name"),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		ScanIndexForward:  aws.Bool(ascending),
		ConsistentRead:    aws.Bool(true),
		ExclusiveStartKey: start,
	}
	if limit > 0 {
		in.Limit = aws.Int32(limit)
	}
	return in
}

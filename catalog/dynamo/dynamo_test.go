package dynamo

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vecbench/catalog"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is an in-memory DynamoDB table keyed by (name, version).
type mockClient struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
}

func newMockClient() *mockClient {
	return &mockClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["name"].(*types.AttributeValueMemberS).Value + ":" + item["version"].(*types.AttributeValueMemberN).Value
}

func itemVersion(item map[string]types.AttributeValue) uint64 {
	v, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	return v
}

func (m *mockClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := itemKey(params.Item)
	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := m.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	m.items[k] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := params.ExpressionAttributeValues[":name"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["name"].(*types.AttributeValueMemberS).Value == name {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b map[string]types.AttributeValue) int {
		va, vb := itemVersion(a), itemVersion(b)
		if !aws.ToBool(params.ScanIndexForward) {
			va, vb = vb, va
		}
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	})

	if params.ExclusiveStartKey != nil {
		after := itemKey(params.ExclusiveStartKey)
		for i, item := range items {
			if itemKey(item) == after {
				items = items[i+1:]
				break
			}
		}
	}

	limit := len(items)
	if params.Limit != nil {
		limit = min(limit, int(*params.Limit))
	}
	if m.pageSize > 0 {
		limit = min(limit, m.pageSize)
	}
	out := &dynamodb.QueryOutput{Items: items[:limit]}
	if limit < len(items) {
		last := items[limit-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"name": last["name"], "version": last["version"]}
	}
	return out, nil
}

func (m *mockClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: m.items[itemKey(params.Key)]}, nil
}

func (m *mockClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func record(name string, version uint64) catalog.Record {
	return catalog.Record{
		Name:        name,
		Version:     version,
		Blob:        catalog.BlobName(name, version, "abc"),
		Config:      index.Config{Kind: index.KindHNSW, Dim: 4, Metric: distance.MetricL2, Params: index.Params{"m": 8}},
		VectorCount: 42,
		Bytes:       1024,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		BuildMillis: 7,
	}
}

func TestCommitAndLatest(t *testing.T) {
	ctx := context.Background()
	c := New(newMockClient(), "vecbench-catalog")

	_, err := c.Latest(ctx, "docs")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	for v := uint64(1); v <= 12; v++ {
		require.NoError(t, c.Commit(ctx, record("docs", v)))
	}

	latest, err := c.Latest(ctx, "docs")
	require.NoError(t, err)
	want := record("docs", 12)
	assert.Equal(t, want.Version, latest.Version)
	assert.Equal(t, want.Blob, latest.Blob)
	assert.Equal(t, want.Config.Kind, latest.Config.Kind)
	assert.Equal(t, want.Config.Metric, latest.Config.Metric)
	assert.Equal(t, 42, latest.VectorCount)
	assert.Equal(t, int64(1024), latest.Bytes)
	assert.True(t, want.CreatedAt.Equal(latest.CreatedAt))
	assert.Equal(t, int64(7), latest.BuildMillis)
	m, err := latest.Config.Params.Int("m", 0)
	require.NoError(t, err)
	assert.Equal(t, 8, m)

	next, err := catalog.Next(ctx, c, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(13), next)

	assert.ErrorIs(t, c.Commit(ctx, record("docs", 12)), catalog.ErrConcurrentModification)

	got, err := c.Get(ctx, "docs", 3)
	require.NoError(t, err)
	assert.Equal(t, "docs/v000003-abc.vbx", got.Blob)
	_, err = c.Get(ctx, "docs", 99)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	require.NoError(t, c.Delete(ctx, "docs", 12))
	latest, err = c.Latest(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), latest.Version)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	client := newMockClient()
	client.pageSize = 3
	c := New(client, "t")

	for v := uint64(1); v <= 10; v++ {
		require.NoError(t, c.Commit(ctx, record("docs", v)))
	}
	require.NoError(t, c.Commit(ctx, record("other", 1)))

	recs, err := c.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, recs, 10)
	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.Version)
	}
}

func TestConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	c := New(newMockClient(), "t")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := catalog.Next(ctx, c, "docs")
			if !assert.NoError(t, err) {
				return
			}
			err = c.Commit(ctx, record("docs", next))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, catalog.ErrConcurrentModification)
		}()
	}
	wg.Wait()

	recs, err := c.List(ctx, "docs")
	require.NoError(t, err)
	assert.Len(t, recs, int(wins.Load()))
	assert.GreaterOrEqual(t, wins.Load(), int32(1))
}

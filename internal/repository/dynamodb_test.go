package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"sdr-agent/internal/domain"
)

// fakeDynamo is a single-table stand-in that understands exactly the
// expressions DynamoStore issues.
type fakeDynamo struct {
	mu          sync.Mutex
	items       map[string]map[string]types.AttributeValue
	err         error
	lastQueryIn *dynamodb.QueryInput
	lastUpdate  *dynamodb.UpdateItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value + "|" + item["SK"].(*types.AttributeValueMemberS).Value
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := keyOf(in.Item)
	if _, exists := f.items[key]; exists && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[key] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = in
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	for _, clause := range strings.Split(strings.TrimPrefix(*in.UpdateExpression, "SET "), ", ") {
		parts := strings.Split(clause, " = ")
		item[in.ExpressionAttributeNames[parts[0]]] = in.ExpressionAttributeValues[parts[1]]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQueryIn = in
	if f.err != nil {
		return nil, f.err
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value

	var keys []string
	for key := range f.items {
		if strings.HasPrefix(key, pk+"|"+prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}
	if in.Limit != nil && int(*in.Limit) < len(keys) {
		keys = keys[:*in.Limit]
	}
	out := &dynamodb.QueryOutput{}
	for _, key := range keys {
		out.Items = append(out.Items, copyItem(f.items[key]))
	}
	return out, nil
}

func newDynamoStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "sdr-state", WithClock(steppingClock()))
	require.NoError(t, err)
	return s
}

func TestDynamoStore_Contract(t *testing.T) {
	runCheckpointerContract(t, newDynamoStore(t, newFakeDynamo()))
}

func TestNewDynamoStore_Validation(t *testing.T) {
	_, err := NewDynamoStore(nil, "t")
	require.Error(t, err)
	_, err = NewDynamoStore(newFakeDynamo(), " ")
	require.Error(t, err)
}

func TestDynamoStore_ItemLayout(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	s := newDynamoStore(t, db)

	require.NoError(t, s.Save(ctx, domain.NewConversation("57300")))
	meta := db.items["LEAD#57300|META#"]
	require.NotNil(t, meta)
	require.Equal(t, "START", meta["state"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, meta, "ttl")

	require.NoError(t, s.SaveFacts(ctx, "57300", domain.Facts{Name: "Ana", City: "Cali"}))
	require.Equal(t, "SET #a0 = :v0, #a1 = :v1, #a2 = :v2, #a3 = :v3", *db.lastUpdate.UpdateExpression)
	require.Equal(t, "f_ciudad", db.lastUpdate.ExpressionAttributeNames["#a0"])
	require.Equal(t, "f_nombre", db.lastUpdate.ExpressionAttributeNames["#a1"])
	require.Equal(t, "attribute_exists(PK)", *db.lastUpdate.ConditionExpression)

	require.NoError(t, s.AppendMessage(ctx, "57300", domain.DirectionInbound, "hola"))
	var msgKeys []string
	for key := range db.items {
		if strings.HasPrefix(key, "LEAD#57300|MSG#") {
			msgKeys = append(msgKeys, key)
		}
	}
	require.Len(t, msgKeys, 1)

	_, err := s.History(ctx, "57300", 10)
	require.NoError(t, err)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.True(t, *db.lastQueryIn.ConsistentRead)
	require.Equal(t, int32(10), *db.lastQueryIn.Limit)
}

func TestDynamoStore_EmptyDeltaIsNoop(t *testing.T) {
	db := newFakeDynamo()
	s := newDynamoStore(t, db)
	require.NoError(t, s.SaveFacts(context.Background(), "nobody", domain.Facts{}))
	require.Nil(t, db.lastUpdate)
}

func TestDynamoStore_Errors(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	db.err = errors.New("throttled")
	s := newDynamoStore(t, db)

	_, err := s.Load(ctx, "1")
	require.ErrorContains(t, err, "throttled")
	require.ErrorContains(t, s.Save(ctx, domain.NewConversation("1")), "repository: Save")
	require.ErrorContains(t, s.SaveState(ctx, "1", domain.StateWelcome), "repository: SaveState")
	require.ErrorContains(t, s.AppendMessage(ctx, "1", domain.DirectionInbound, "x"), "AppendMessage")
	_, err = s.History(ctx, "1", 5)
	require.ErrorContains(t, err, "History query")

	require.Error(t, s.Save(ctx, &domain.Conversation{}))
}

func TestDynamoStore_CorruptItem(t *testing.T) {
	db := newFakeDynamo()
	db.items["LEAD#1|META#"] = map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "LEAD#1"},
		"SK":    &types.AttributeValueMemberS{Value: "META#"},
		"state": &types.AttributeValueMemberS{Value: "WELCOME"},
		"score": &types.AttributeValueMemberS{Value: "high"},
	}
	_, err := newDynamoStore(t, db).Load(context.Background(), "1")
	require.ErrorContains(t, err, "not a number")
}

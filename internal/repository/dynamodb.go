package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"sdr-agent/internal/domain"
)

const (
	skMeta      = "META#"
	skPrefixMsg = "MSG#"

	factPrefix  = "f_"
	extraPrefix = "fx_"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps every lead in one partition of a single table: the
// META# item holds state, facts and score, MSG# items hold the messages.
// Each known fact is a top-level attribute so a delta is a plain SET.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	opts      options
}

func NewDynamoStore(api dynamodbAPI, tableName string, opts ...Option) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, opts: newOptions(opts)}, nil
}

func leadPK(id string) string {
	return "LEAD#" + id
}

func (s *DynamoStore) ttlValue() string {
	return strconv.FormatInt(s.opts.now().Add(s.opts.ttl).Unix(), 10)
}

func (s *DynamoStore) metaKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: leadPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func (s *DynamoStore) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.metaKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, domain.ErrConversationNotFound
	}
	conv, err := itemToConversation(id, out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: Load decode: %w", err)
	}
	return conv, nil
}

// Save replaces the META# item with conv.
func (s *DynamoStore) Save(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || strings.TrimSpace(conv.ID) == "" {
		return errors.New("repository: conversation id is required")
	}
	breakdown, err := json.Marshal(conv.Breakdown)
	if err != nil {
		return fmt.Errorf("repository: Save marshal breakdown: %w", err)
	}
	item := s.metaKey(conv.ID)
	item["leadId"] = &types.AttributeValueMemberS{Value: conv.ID}
	item["state"] = &types.AttributeValueMemberS{Value: string(conv.State)}
	item["score"] = &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Score)}
	item["breakdown"] = &types.AttributeValueMemberS{Value: string(breakdown)}
	item["lastIntent"] = &types.AttributeValueMemberS{Value: string(conv.LastIntent)}
	item["lastTrigger"] = &types.AttributeValueMemberS{Value: string(conv.LastTrigger)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: s.opts.now().UTC().Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: s.ttlValue()}
	if len(conv.PendingOffer) > 0 {
		item["pendingOffer"] = stringList(conv.PendingOffer)
	}
	for name, v := range factAttributes(conv.Facts) {
		item[name] = v
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// SaveFacts writes only the attributes present in delta.
func (s *DynamoStore) SaveFacts(ctx context.Context, id string, delta domain.Facts) error {
	attrs := factAttributes(delta)
	if len(attrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	u := newUpdate()
	for _, name := range names {
		u.set(name, attrs[name])
	}
	return s.update(ctx, "SaveFacts", id, u)
}

func (s *DynamoStore) SaveScore(ctx context.Context, id string, score int, breakdown domain.BANTScore) error {
	raw, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("repository: SaveScore marshal breakdown: %w", err)
	}
	u := newUpdate()
	u.set("score", &types.AttributeValueMemberN{Value: strconv.Itoa(score)})
	u.set("breakdown", &types.AttributeValueMemberS{Value: string(raw)})
	return s.update(ctx, "SaveScore", id, u)
}

func (s *DynamoStore) SaveState(ctx context.Context, id string, state domain.State) error {
	u := newUpdate()
	u.set("state", &types.AttributeValueMemberS{Value: string(state)})
	return s.update(ctx, "SaveState", id, u)
}

// AppendMessage writes a MSG# item. The sort key orders by time and the
// random suffix keeps two messages in the same instant apart.
func (s *DynamoStore) AppendMessage(ctx context.Context, id string, direction domain.Direction, text string) error {
	now := s.opts.now().UTC()
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: leadPK(id)},
		"SK":        &types.AttributeValueMemberS{Value: skPrefixMsg + now.Format(time.RFC3339Nano) + "#" + uuid.NewString()},
		"leadId":    &types.AttributeValueMemberS{Value: id},
		"direction": &types.AttributeValueMemberS{Value: string(direction)},
		"text":      &types.AttributeValueMemberS{Value: text},
		"at":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: s.ttlValue()},
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// History returns up to limit of the latest messages, oldest first.
func (s *DynamoStore) History(ctx context.Context, id string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: leadPK(id)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// newest first so Limit keeps the most recent context
		ScanIndexForward: aws.Bool(false),
		// the next turn must see the messages the previous one appended
		ConsistentRead: aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := s.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: History query: %w", err)
	}
	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: History unmarshal: %w", err)
		}
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *DynamoStore) update(ctx context.Context, op, id string, u *update) error {
	u.set("updatedAt", &types.AttributeValueMemberS{Value: s.opts.now().UTC().Format(time.RFC3339)})
	u.set("ttl", &types.AttributeValueMemberN{Value: s.ttlValue()})
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.metaKey(id),
		UpdateExpression:          aws.String("SET " + strings.Join(u.clauses, ", ")),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return domain.ErrConversationNotFound
		}
		return fmt.Errorf("repository: %s: %w", op, err)
	}
	return nil
}

// update accumulates SET clauses with placeholder names, since several of
// our attribute names (state, ttl) are DynamoDB reserved words.
type update struct {
	clauses []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdate() *update {
	return &update{names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

func (u *update) set(attr string, v types.AttributeValue) {
	n := strconv.Itoa(len(u.clauses))
	u.names["#a"+n] = attr
	u.values[":v"+n] = v
	u.clauses = append(u.clauses, "#a"+n+" = :v"+n)
}

func factAttributes(f domain.Facts) map[string]types.AttributeValue {
	attrs := map[string]types.AttributeValue{}
	str := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			attrs[factPrefix+key] = &types.AttributeValueMemberS{Value: v}
		}
	}
	str(domain.FactName, f.Name)
	str(domain.FactOrganization, f.Organization)
	str(domain.FactRole, f.Role)
	str(domain.FactCity, f.City)
	str(domain.FactContact, f.Contact)
	str(domain.FactNotes, f.Notes)
	if f.Urgency.Valid() {
		str(domain.FactUrgency, string(f.Urgency))
	}
	if len(f.PainPoints) > 0 {
		attrs[factPrefix+domain.FactPainPoints] = stringList(f.PainPoints)
	}
	if f.BudgetMin != nil {
		attrs[factPrefix+domain.FactBudgetMin] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*f.BudgetMin, 10)}
	}
	if f.BudgetMax != nil {
		attrs[factPrefix+domain.FactBudgetMax] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*f.BudgetMax, 10)}
	}
	for k, v := range f.Extra {
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			attrs[extraPrefix+k] = &types.AttributeValueMemberS{Value: v}
		}
	}
	return attrs
}

func itemToFacts(item map[string]types.AttributeValue) (domain.Facts, error) {
	var f domain.Facts
	f.Name, _ = strAttr(item, factPrefix+domain.FactName)
	f.Organization, _ = strAttr(item, factPrefix+domain.FactOrganization)
	f.Role, _ = strAttr(item, factPrefix+domain.FactRole)
	f.City, _ = strAttr(item, factPrefix+domain.FactCity)
	f.Contact, _ = strAttr(item, factPrefix+domain.FactContact)
	f.Notes, _ = strAttr(item, factPrefix+domain.FactNotes)
	urgency, _ := strAttr(item, factPrefix+domain.FactUrgency)
	f.Urgency = domain.Urgency(urgency)

	if v, ok := item[factPrefix+domain.FactPainPoints].(*types.AttributeValueMemberL); ok {
		for _, el := range v.Value {
			if s, ok := el.(*types.AttributeValueMemberS); ok {
				f.PainPoints = append(f.PainPoints, s.Value)
			}
		}
	}
	for _, key := range []string{domain.FactBudgetMin, domain.FactBudgetMax} {
		if _, ok := item[factPrefix+key]; !ok {
			continue
		}
		n, err := int64Attr(item, factPrefix+key)
		if err != nil {
			return domain.Facts{}, err
		}
		if key == domain.FactBudgetMin {
			f.BudgetMin = &n
		} else {
			f.BudgetMax = &n
		}
	}
	for name, v := range item {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok || !strings.HasPrefix(name, extraPrefix) {
			continue
		}
		if f.Extra == nil {
			f.Extra = map[string]string{}
		}
		f.Extra[strings.TrimPrefix(name, extraPrefix)] = s.Value
	}
	return f, nil
}

func itemToConversation(id string, item map[string]types.AttributeValue) (*domain.Conversation, error) {
	state, err := strAttr(item, "state")
	if err != nil {
		return nil, err
	}
	conv := &domain.Conversation{ID: id, State: domain.State(state)}

	if _, ok := item["score"]; ok {
		score, err := int64Attr(item, "score")
		if err != nil {
			return nil, err
		}
		conv.Score = int(score)
	}
	if raw, _ := strAttr(item, "breakdown"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &conv.Breakdown); err != nil {
			return nil, fmt.Errorf("repository: decode breakdown: %w", err)
		}
	}
	if conv.Facts, err = itemToFacts(item); err != nil {
		return nil, err
	}
	if v, ok := item["pendingOffer"].(*types.AttributeValueMemberL); ok {
		for _, el := range v.Value {
			if s, ok := el.(*types.AttributeValueMemberS); ok {
				conv.PendingOffer = append(conv.PendingOffer, s.Value)
			}
		}
	}
	lastIntent, _ := strAttr(item, "lastIntent")
	lastTrigger, _ := strAttr(item, "lastTrigger")
	conv.LastIntent = domain.Intent(lastIntent)
	conv.LastTrigger = domain.Trigger(lastTrigger)
	if raw, _ := strAttr(item, "updatedAt"); raw != "" {
		conv.UpdatedAt, _ = time.Parse(time.RFC3339, raw)
	}
	return conv, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	direction, err := strAttr(item, "direction")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	t := domain.Turn{Direction: domain.Direction(direction), Text: text}
	if raw, _ := strAttr(item, "at"); raw != "" {
		t.At, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return t, nil
}

func stringList(values []string) *types.AttributeValueMemberL {
	l := &types.AttributeValueMemberL{Value: make([]types.AttributeValue, 0, len(values))}
	for _, v := range values {
		l.Value = append(l.Value, &types.AttributeValueMemberS{Value: v})
	}
	return l
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

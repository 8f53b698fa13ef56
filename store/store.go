package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vishallnvk/knowlio/internal/shard"
)

// API is the subset of the DynamoDB client the store uses.
// *dynamodb.Client implements it.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Store provides DynamoDB operations on entity items.
type Store struct {
	client API
	config Config
}

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

func (s *Store) table(name string) string {
	return s.config.TablePrefix + name
}

// Put writes an item, replacing any item with the same key. Guards are
// claimed in the same transaction.
func (s *Store) Put(ctx context.Context, in PutInput) error {
	if len(in.Guards) == 0 {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table(in.Table)),
			Item:      in.Item,
		})
		return err
	}

	items := make([]types.TransactWriteItem, 0, len(in.Guards)+1)
	for _, g := range in.Guards {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.UniqueTable),
				Item:      guardItem(g),
				// A claim by the same entity is a repeat of this write.
				ConditionExpression: aws.String("attribute_not_exists(pk) OR entity_ref = :ref"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":ref": &types.AttributeValueMemberS{Value: g.EntityRef},
				},
			},
		})
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.table(in.Table)),
			Item:      in.Item,
		},
	})

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return s.mapPutTransactionError(err, len(in.Guards))
}

func guardItem(g Guard) Item {
	return Item{
		"pk":          &types.AttributeValueMemberS{Value: shard.UniqueConstraintPK(g.Kind, g.Field, g.Value)},
		"sk":          &types.AttributeValueMemberS{Value: "CONSTRAINT"},
		"entity_type": &types.AttributeValueMemberS{Value: g.Kind},
		"field_name":  &types.AttributeValueMemberS{Value: g.Field},
		"field_value": &types.AttributeValueMemberS{Value: g.Value},
		"entity_ref":  &types.AttributeValueMemberS{Value: g.EntityRef},
	}
}

// Get retrieves an item by key, returning ErrNotFound if missing.
func (s *Store) Get(ctx context.Context, table string, key PK) (Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table(table)),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return result.Item, nil
}

// Query reads one page of an index partition in ascending sort key order.
func (s *Store) Query(ctx context.Context, in QueryInput) (Page, error) {
	queryInput := &dynamodb.QueryInput{
		TableName:              aws.String(s.table(in.Table)),
		IndexName:              aws.String(in.Index),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": in.KeyAttribute,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: in.KeyValue},
		},
		ScanIndexForward:  aws.Bool(true),
		ExclusiveStartKey: in.StartKey,
	}
	if in.Limit > 0 {
		queryInput.Limit = aws.Int32(in.Limit)
	}

	out, err := s.client.Query(ctx, queryInput)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: out.Items, LastEvaluatedKey: out.LastEvaluatedKey}, nil
}

// Scan reads one page of a full table scan.
func (s *Store) Scan(ctx context.Context, in ScanInput) (Page, error) {
	scanInput := &dynamodb.ScanInput{
		TableName:         aws.String(s.table(in.Table)),
		ExclusiveStartKey: in.StartKey,
	}
	if in.Limit > 0 {
		scanInput.Limit = aws.Int32(in.Limit)
	}

	out, err := s.client.Scan(ctx, scanInput)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: out.Items, LastEvaluatedKey: out.LastEvaluatedKey}, nil
}

// Update applies the assignments to an existing item and returns the item
// as stored afterwards. Every parent of an assigned path must exist.
func (s *Store) Update(ctx context.Context, in UpdateInput) (Item, error) {
	if len(in.Set) == 0 {
		return nil, fmt.Errorf("knowlio: update without assignments")
	}
	expr, names, values := buildUpdateExpression(in.Set, in.Remove)

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table(in.Table)),
		Key:                       in.Key,
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return out.Attributes, nil
}

// buildUpdateExpression renders a SET (and optional REMOVE) expression.
// Every path segment gets a name placeholder, reused when the same name
// appears again.
func buildUpdateExpression(set []Assignment, remove [][]string) (string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{"#id": "id"}
	placeholders := map[string]string{"id": "#id"}
	values := make(map[string]types.AttributeValue, len(set))

	render := func(path []string) string {
		segments := make([]string, len(path))
		for j, seg := range path {
			ph, ok := placeholders[seg]
			if !ok {
				ph = fmt.Sprintf("#n%d", len(placeholders)-1)
				placeholders[seg] = ph
				names[ph] = seg
			}
			segments[j] = ph
		}
		return strings.Join(segments, ".")
	}

	clauses := make([]string, 0, len(set))
	for i, a := range set {
		valueKey := fmt.Sprintf(":v%d", i)
		values[valueKey] = a.Value
		clauses = append(clauses, render(a.Path)+" = "+valueKey)
	}
	expr := "SET " + strings.Join(clauses, ", ")

	if len(remove) > 0 {
		removed := make([]string, len(remove))
		for i, path := range remove {
			removed[i] = render(path)
		}
		expr += " REMOVE " + strings.Join(removed, ", ")
	}
	return expr, names, values
}

// mapPutTransactionError maps a guarded put's transaction error. Guards
// occupy the first numGuards transaction items.
func (s *Store) mapPutTransactionError(err error, numGuards int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" && i < numGuards {
				return ErrDuplicateValue
			}
		}
	}

	return err
}

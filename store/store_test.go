package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vishallnvk/knowlio/store"
)

// fakeAPI records the last input of each call and returns canned results.
type fakeAPI struct {
	getIn      *dynamodb.GetItemInput
	putIn      *dynamodb.PutItemInput
	updateIn   *dynamodb.UpdateItemInput
	queryIn    *dynamodb.QueryInput
	scanIn     *dynamodb.ScanInput
	transactIn *dynamodb.TransactWriteItemsInput

	getOut    *dynamodb.GetItemOutput
	updateOut *dynamodb.UpdateItemOutput
	queryOut  *dynamodb.QueryOutput
	scanOut   *dynamodb.ScanOutput
	err       error
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getIn = in
	if f.getOut == nil {
		f.getOut = &dynamodb.GetItemOutput{}
	}
	return f.getOut, f.err
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	return &dynamodb.PutItemOutput{}, f.err
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = in
	if f.updateOut == nil {
		f.updateOut = &dynamodb.UpdateItemOutput{}
	}
	return f.updateOut, f.err
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = in
	if f.queryOut == nil {
		f.queryOut = &dynamodb.QueryOutput{}
	}
	return f.queryOut, f.err
}

func (f *fakeAPI) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanIn = in
	if f.scanOut == nil {
		f.scanOut = &dynamodb.ScanOutput{}
	}
	return f.scanOut, f.err
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactIn = in
	return &dynamodb.TransactWriteItemsOutput{}, f.err
}

func s(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }

func idKey(id string) store.PK { return store.PK{"id": s(id)} }

// --- Unit Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	if cfg.UniqueTable != "knowlio_unique_constraints" {
		t.Errorf("expected UniqueTable 'knowlio_unique_constraints', got %q", cfg.UniqueTable)
	}
	if cfg.TablePrefix != "" {
		t.Errorf("expected empty TablePrefix, got %q", cfg.TablePrefix)
	}
}

func TestConfigValidation(t *testing.T) {
	st := store.New(&fakeAPI{}, store.Config{})
	if st.Config().UniqueTable != "knowlio_unique_constraints" {
		t.Errorf("expected default UniqueTable, got %q", st.Config().UniqueTable)
	}

	st = store.New(&fakeAPI{}, store.Config{UniqueTable: "custom", TablePrefix: "dev_"})
	if st.Config().UniqueTable != "custom" || st.Config().TablePrefix != "dev_" {
		t.Errorf("expected config preserved, got %+v", st.Config())
	}
}

func TestPut_Unguarded(t *testing.T) {
	api := &fakeAPI{}
	st := store.New(api, store.Config{TablePrefix: "dev_"})

	item := store.Item{"id": s("c-1"), "title": s("Dune")}
	if err := st.Put(context.Background(), store.PutInput{Table: "content", Item: item}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.putIn == nil {
		t.Fatal("expected PutItem call")
	}
	if aws.ToString(api.putIn.TableName) != "dev_content" {
		t.Errorf("expected prefixed table, got %q", aws.ToString(api.putIn.TableName))
	}
	if api.putIn.ConditionExpression != nil {
		t.Errorf("expected unconditional put, got %q", aws.ToString(api.putIn.ConditionExpression))
	}
	if api.transactIn != nil {
		t.Error("expected no transaction without guards")
	}
}

func TestPut_Guarded(t *testing.T) {
	api := &fakeAPI{}
	st := store.New(api, store.DefaultConfig())

	err := st.Put(context.Background(), store.PutInput{
		Table: "users",
		Item:  store.Item{"id": s("u-1"), "email": s("a@example.com")},
		Guards: []store.Guard{
			{Kind: "user", Field: "email", Value: "a@example.com", EntityRef: "user#u-1"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.transactIn == nil || len(api.transactIn.TransactItems) != 2 {
		t.Fatalf("expected 2-item transaction, got %+v", api.transactIn)
	}

	guard := api.transactIn.TransactItems[0].Put
	if aws.ToString(guard.TableName) != "knowlio_unique_constraints" {
		t.Errorf("expected guard on constraint table, got %q", aws.ToString(guard.TableName))
	}
	if cond := aws.ToString(guard.ConditionExpression); cond != "attribute_not_exists(pk) OR entity_ref = :ref" {
		t.Errorf("unexpected guard condition %q", cond)
	}
	if ref := guard.ExpressionAttributeValues[":ref"].(*types.AttributeValueMemberS).Value; ref != "user#u-1" {
		t.Errorf("expected :ref user#u-1, got %q", ref)
	}
	if pk := guard.Item["pk"].(*types.AttributeValueMemberS).Value; len(pk) != 32 {
		t.Errorf("expected hashed pk, got %q", pk)
	}

	put := api.transactIn.TransactItems[1].Put
	if aws.ToString(put.TableName) != "users" || put.ConditionExpression != nil {
		t.Errorf("expected unconditional entity put, got %+v", put)
	}
}

func TestPut_GuardConflict(t *testing.T) {
	code := "ConditionalCheckFailed"
	none := "None"
	api := &fakeAPI{err: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &code}, {Code: &none}},
	}}
	st := store.New(api, store.DefaultConfig())

	err := st.Put(context.Background(), store.PutInput{
		Table:  "users",
		Item:   store.Item{"id": s("u-2")},
		Guards: []store.Guard{{Kind: "user", Field: "email", Value: "a@example.com", EntityRef: "user#u-2"}},
	})
	if !errors.Is(err, store.ErrDuplicateValue) {
		t.Errorf("expected ErrDuplicateValue, got %v", err)
	}
}

func TestGet(t *testing.T) {
	api := &fakeAPI{getOut: &dynamodb.GetItemOutput{Item: store.Item{"id": s("c-1")}}}
	st := store.New(api, store.DefaultConfig())

	item, err := st.Get(context.Background(), "content", idKey("c-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item["id"].(*types.AttributeValueMemberS).Value != "c-1" {
		t.Errorf("unexpected item %v", item)
	}
	if !aws.ToBool(api.getIn.ConsistentRead) {
		t.Error("expected consistent read")
	}
}

func TestGet_NotFound(t *testing.T) {
	st := store.New(&fakeAPI{}, store.DefaultConfig())
	if _, err := st.Get(context.Background(), "content", idKey("missing")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	lek := store.Item{"id": s("c-2"), "owner_key": s("pub-1")}
	api := &fakeAPI{queryOut: &dynamodb.QueryOutput{
		Items:            []store.Item{{"id": s("c-1")}, {"id": s("c-2")}},
		LastEvaluatedKey: lek,
	}}
	st := store.New(api, store.DefaultConfig())

	start := store.Item{"id": s("c-0"), "owner_key": s("pub-1")}
	page, err := st.Query(context.Background(), store.QueryInput{
		Table:        "content",
		Index:        "owner_key-index",
		KeyAttribute: "owner_key",
		KeyValue:     "pub-1",
		Limit:        11,
		StartKey:     start,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 2 || page.LastEvaluatedKey["id"].(*types.AttributeValueMemberS).Value != "c-2" {
		t.Errorf("unexpected page %+v", page)
	}

	in := api.queryIn
	if aws.ToString(in.IndexName) != "owner_key-index" {
		t.Errorf("expected owner index, got %q", aws.ToString(in.IndexName))
	}
	if aws.ToString(in.KeyConditionExpression) != "#pk = :pk" || in.ExpressionAttributeNames["#pk"] != "owner_key" {
		t.Errorf("unexpected key condition %q %v", aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames)
	}
	if aws.ToInt32(in.Limit) != 11 {
		t.Errorf("expected limit 11, got %d", aws.ToInt32(in.Limit))
	}
	if in.ExclusiveStartKey["id"].(*types.AttributeValueMemberS).Value != "c-0" {
		t.Error("expected start key passed through")
	}
	if !aws.ToBool(in.ScanIndexForward) {
		t.Error("expected ascending order")
	}
}

func TestScan_NoLimit(t *testing.T) {
	api := &fakeAPI{}
	st := store.New(api, store.DefaultConfig())

	page, err := st.Scan(context.Background(), store.ScanInput{Table: "content"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.LastEvaluatedKey != nil {
		t.Error("expected exhausted scan")
	}
	if api.scanIn.Limit != nil {
		t.Errorf("expected no limit, got %d", aws.ToInt32(api.scanIn.Limit))
	}
}

func TestUpdate(t *testing.T) {
	api := &fakeAPI{updateOut: &dynamodb.UpdateItemOutput{Attributes: store.Item{"id": s("c-1")}}}
	st := store.New(api, store.DefaultConfig())

	item, err := st.Update(context.Background(), store.UpdateInput{
		Table: "content",
		Key:   idKey("c-1"),
		Set: []store.Assignment{
			{Path: []string{"metadata", "pages"}, Value: &types.AttributeValueMemberN{Value: "475"}},
			{Path: []string{"updated_at"}, Value: s("2024-01-01T00:00:00.000000000Z")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item == nil {
		t.Fatal("expected returned item")
	}

	in := api.updateIn
	if got := aws.ToString(in.UpdateExpression); got != "SET #n0.#n1 = :v0, #n2 = :v1" {
		t.Errorf("unexpected update expression %q", got)
	}
	if in.ExpressionAttributeNames["#n1"] != "pages" || in.ExpressionAttributeNames["#n2"] != "updated_at" {
		t.Errorf("unexpected names %v", in.ExpressionAttributeNames)
	}
	if aws.ToString(in.ConditionExpression) != "attribute_exists(#id)" {
		t.Errorf("expected existence condition, got %q", aws.ToString(in.ConditionExpression))
	}
	if in.ReturnValues != types.ReturnValueAllNew {
		t.Errorf("expected ALL_NEW, got %v", in.ReturnValues)
	}
}

func TestUpdate_Missing(t *testing.T) {
	api := &fakeAPI{err: &types.ConditionalCheckFailedException{}}
	st := store.New(api, store.DefaultConfig())

	_, err := st.Update(context.Background(), store.UpdateInput{
		Table: "content",
		Key:   idKey("missing"),
		Set:   []store.Assignment{{Path: []string{"title"}, Value: s("x")}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_NoAssignments(t *testing.T) {
	st := store.New(&fakeAPI{}, store.DefaultConfig())
	if _, err := st.Update(context.Background(), store.UpdateInput{Table: "content", Key: idKey("x")}); err == nil {
		t.Error("expected error")
	}
}

func TestErrors(t *testing.T) {
	errs := []error{store.ErrNotFound, store.ErrDuplicateValue}
	for i, a := range errs {
		if a == nil || a.Error() == "" {
			t.Errorf("error %d is empty", i)
		}
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("errors %d and %d should be distinct", i, j)
			}
		}
	}
}

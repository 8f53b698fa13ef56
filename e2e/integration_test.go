//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/vishallnvk/knowlio/cursor"
	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
	"github.com/vishallnvk/knowlio/repository"
	"github.com/vishallnvk/knowlio/schema"
	"github.com/vishallnvk/knowlio/store"
)

// Table names are unique per test run to avoid conflicts.
const tablePrefix = "knowlio-e2e"

var (
	testID      string
	prefix      string
	uniqueTable string

	ddbClient *dynamodb.Client
	registry  *schema.Registry
	testStore *store.Store
	codec     *cursor.Codec
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	prefix = fmt.Sprintf("%s-%s-", tablePrefix, testID)
	uniqueTable = prefix + "unique"

	fmt.Printf("Test ID: %s\n", testID)

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if profile := os.Getenv("E2E_AWS_PROFILE"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg)

	if registry, err = schema.Default(); err != nil {
		fmt.Printf("Failed to load schema: %v\n", err)
		os.Exit(1)
	}
	if codec, err = cursor.New([]byte("e2e-cursor-secret")); err != nil {
		fmt.Printf("Failed to create cursor codec: %v\n", err)
		os.Exit(1)
	}

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	testStore = store.New(ddbClient, store.Config{
		TablePrefix: prefix,
		UniqueTable: uniqueTable,
	})

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}

	os.Exit(code)
}

func tableNames() []string {
	names := []string{uniqueTable}
	for _, kind := range registry.Kinds() {
		s, _ := registry.Schema(kind)
		names = append(names, prefix+s.Table())
	}
	return names
}

// entityTable builds the create input for a kind: id hash key plus one GSI
// per declared index.
func entityTable(s *schema.Schema) *dynamodb.CreateTableInput {
	attrs := map[string]bool{"id": true}
	var gsis []types.GlobalSecondaryIndex

	add := func(idx schema.Index) {
		keys := []types.KeySchemaElement{{AttributeName: aws.String(idx.Partition), KeyType: types.KeyTypeHash}}
		attrs[idx.Partition] = true
		if idx.Sort != "" {
			keys = append(keys, types.KeySchemaElement{AttributeName: aws.String(idx.Sort), KeyType: types.KeyTypeRange})
			attrs[idx.Sort] = true
		}
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  keys,
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	for _, get := range []func() (schema.Index, bool){s.OwnerIndex, s.TypeIndex, s.StatusIndex} {
		if idx, ok := get(); ok {
			add(idx)
		}
	}
	for _, f := range s.UniqueFields() {
		if f.Index != "" {
			add(schema.Index{Name: f.Index, Partition: f.Name})
		}
	}

	defs := make([]types.AttributeDefinition, 0, len(attrs))
	for name := range attrs {
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS})
	}
	return &dynamodb.CreateTableInput{
		TableName:              aws.String(prefix + s.Table()),
		KeySchema:              []types.KeySchemaElement{{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash}},
		AttributeDefinitions:   defs,
		GlobalSecondaryIndexes: gsis,
		BillingMode:            types.BillingModePayPerRequest,
	}
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	for _, kind := range registry.Kinds() {
		s, _ := registry.Schema(kind)
		if _, err := ddbClient.CreateTable(ctx, entityTable(s)); err != nil {
			return fmt.Errorf("create table for %s: %w", kind, err)
		}
	}

	// Unique constraints table (pk, sk)
	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(uniqueTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create unique table: %w", err)
	}

	for _, tableName := range tableNames() {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 5*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")

	for _, tableName := range tableNames() {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}

	fmt.Println("Tables deleted")
	return nil
}

func repo(t *testing.T, kind entity.Kind, opts ...repository.Option) *repository.Repository {
	t.Helper()
	s, ok := registry.Schema(kind)
	if !ok {
		t.Fatalf("no schema for %s", kind)
	}
	r, err := repository.New(testStore, s, codec, opts...)
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	return r
}

// eventually retries check until it passes; secondary indexes are
// eventually consistent.
func eventually(t *testing.T, check func() error) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		err := check()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal(err)
		}
		time.Sleep(time.Second)
	}
}

func newBook(owner, title string) document.Map {
	return document.Map{
		"owner_key": document.String(owner),
		"type_tag":  document.String("BOOK"),
		"title":     document.String(title),
		"metadata": document.Object(document.Map{
			"pages":    document.Int(412),
			"language": document.String("en"),
		}),
	}
}

// --- CRUD Tests ---

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	content := repo(t, entity.KindContent)

	created, err := content.Create(ctx, newBook("pub-"+testID, "Dune"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Status != entity.StatusDraft {
		t.Errorf("expected DRAFT, got %s", created.Status)
	}

	got, err := content.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v, _ := got.Field("title"); v.Text() != "Dune" {
		t.Errorf("expected title Dune, got %q", v.Text())
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := repo(t, entity.KindContent).Get(context.Background(), uuid.NewString())
	var nf *errs.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateAttribute_NestedKeepsSiblings(t *testing.T) {
	ctx := context.Background()
	content := repo(t, entity.KindContent)

	created, err := content.Create(ctx, newBook("pub-"+testID, "Emma"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := content.UpdateAttribute(ctx, created.ID, "metadata.pages", document.Int(475))
	if err != nil {
		t.Fatalf("UpdateAttribute failed: %v", err)
	}
	if v, _ := updated.Metadata.Lookup(document.Path{"pages"}); v.Text() != "475" {
		t.Errorf("expected pages 475, got %q", v.Text())
	}
	if v, _ := updated.Metadata.Lookup(document.Path{"language"}); v.Text() != "en" {
		t.Errorf("expected language to survive, got %q", v.Text())
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Error("expected updated_at to advance")
	}
}

func TestUpdateAttribute_TagsSetAndClear(t *testing.T) {
	ctx := context.Background()
	content := repo(t, entity.KindContent)

	created, err := content.Create(ctx, newBook("pub-"+testID, "Tags"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	tagged, err := content.UpdateAttribute(ctx, created.ID, "tags", document.List(document.String("scifi"), document.String("classic")))
	if err != nil {
		t.Fatalf("set tags: %v", err)
	}
	if len(tagged.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", tagged.Tags)
	}
	cleared, err := content.UpdateAttribute(ctx, created.ID, "tags", document.List())
	if err != nil {
		t.Fatalf("clear tags: %v", err)
	}
	if len(cleared.Tags) != 0 {
		t.Errorf("expected no tags, got %v", cleared.Tags)
	}
}

func TestTransitionStatus(t *testing.T) {
	ctx := context.Background()
	content := repo(t, entity.KindContent)

	created, err := content.Create(ctx, newBook("pub-"+testID, "Walden"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := content.TransitionStatus(ctx, created.ID, "ACTIVE"); err != nil {
		t.Fatalf("DRAFT to ACTIVE: %v", err)
	}
	_, err = content.TransitionStatus(ctx, created.ID, "DRAFT")
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError going back to DRAFT, got %v", err)
	}
}

// --- Uniqueness Tests ---

func TestUniqueConstraint_Strict(t *testing.T) {
	ctx := context.Background()
	users := repo(t, entity.KindUser, repository.WithStrictUniqueness(true))
	email := fmt.Sprintf("reader-%s@example.com", testID)

	user := document.Map{
		"email":    document.String(email),
		"type_tag": document.String("CONSUMER"),
	}
	if _, err := users.Create(ctx, user); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// The guard catches the duplicate before the email index catches up.
	_, err := users.Create(ctx, user)
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestUniqueConstraint_BestEffort(t *testing.T) {
	ctx := context.Background()
	users := repo(t, entity.KindUser)
	email := fmt.Sprintf("writer-%s@example.com", testID)

	user := document.Map{
		"email":    document.String(email),
		"type_tag": document.String("PUBLISHER"),
	}
	if _, err := users.Create(ctx, user); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	eventually(t, func() error {
		_, err := users.Create(ctx, user)
		var conflict *errs.ConflictError
		if errors.As(err, &conflict) {
			return nil
		}
		return fmt.Errorf("expected ConflictError, got %v", err)
	})
}

// --- Listing Tests ---

func TestListByOwner_Paginates(t *testing.T) {
	ctx := context.Background()
	content := repo(t, entity.KindContent)
	owner := "pub-list-" + testID

	for i := 0; i < 5; i++ {
		if _, err := content.Create(ctx, newBook(owner, fmt.Sprintf("Book %d", i))); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	eventually(t, func() error {
		seen := map[string]bool{}
		token := ""
		for pages := 0; pages < 10; pages++ {
			page, err := content.ListByOwner(ctx, owner, token, 2)
			if err != nil {
				return err
			}
			for _, e := range page.Items {
				if seen[e.ID] {
					return fmt.Errorf("duplicate item %s", e.ID)
				}
				seen[e.ID] = true
			}
			if !page.HasMore {
				break
			}
			token = page.NextToken
		}
		if len(seen) != 5 {
			return fmt.Errorf("expected 5 items, got %d", len(seen))
		}
		return nil
	})
}

func TestSearch_ResidualFilter(t *testing.T) {
	ctx := context.Background()
	content := repo(t, entity.KindContent)
	owner := "pub-search-" + testID

	for _, lang := range []string{"en", "fr", "en"} {
		fields := newBook(owner, "Lang "+lang)
		fields["metadata"] = document.Object(document.Map{"language": document.String(lang)})
		if _, err := content.Create(ctx, fields); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	filters := document.Map{
		"owner_key": document.String(owner),
		"metadata":  document.Object(document.Map{"language": document.String("en")}),
	}
	eventually(t, func() error {
		page, err := content.Search(ctx, filters, "", 10)
		if err != nil {
			return err
		}
		if len(page.Items) != 2 {
			return fmt.Errorf("expected 2 english books, got %d", len(page.Items))
		}
		return nil
	})
}

package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vishallnvk/knowlio/cursor"
	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/internal/memstore"
	"github.com/vishallnvk/knowlio/repository"
	"github.com/vishallnvk/knowlio/retry"
	"github.com/vishallnvk/knowlio/schema"
	"github.com/vishallnvk/knowlio/store"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// clock advances one second per reading.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	mem  *memstore.Store
	reg  *schema.Registry
	repo *repository.Repository
}

func newFixture(t *testing.T, kind entity.Kind, opts ...repository.Option) *fixture {
	t.Helper()
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	mem := memstore.NewForRegistry(reg)
	return &fixture{mem: mem, reg: reg, repo: newRepo(t, reg, mem, kind, opts...)}
}

func newRepo(t *testing.T, reg *schema.Registry, st repository.DocumentStore, kind entity.Kind, opts ...repository.Option) *repository.Repository {
	t.Helper()
	s, ok := reg.Schema(kind)
	if !ok {
		t.Fatalf("kind %s not registered", kind)
	}
	codec, err := cursor.New([]byte("test-secret"))
	if err != nil {
		t.Fatalf("cursor codec: %v", err)
	}

	c := &clock{now: epoch}
	defaults := []repository.Option{
		repository.WithClock(c.Now),
		repository.WithIDGenerator(sequence(string(kind))),
		repository.WithExecutor(retry.New(retry.DefaultPolicy, store.Classify, retry.WithSleep(noSleep))),
	}
	repo, err := repository.New(st, s, codec, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func book(owner, title string) document.Map {
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

func user(email string) document.Map {
	return document.Map{
		"type_tag": document.String("CONSUMER"),
		"email":    document.String(email),
		"name":     document.String("Reader"),
	}
}

func mustCreate(t *testing.T, repo *repository.Repository, fields document.Map) *entity.Entity {
	t.Helper()
	e, err := repo.Create(context.Background(), fields)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return e
}

// recorder wraps a store and keeps every put.
type recorder struct {
	repository.DocumentStore
	mu   sync.Mutex
	puts []store.PutInput
}

func (r *recorder) Put(ctx context.Context, in store.PutInput) error {
	r.mu.Lock()
	r.puts = append(r.puts, in)
	r.mu.Unlock()
	return r.DocumentStore.Put(ctx, in)
}

// Package stream provides DynamoDB Streams handlers that keep the search
// index in step with the entity table.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/internal/metrics"
	"github.com/vishallnvk/knowlio/retry"
	"github.com/vishallnvk/knowlio/search"
)

// Index is the search index the handler writes to.
// *search.Client implements it.
type Index interface {
	IndexDocument(ctx context.Context, id string, doc map[string]any) error
	DeleteDocument(ctx context.Context, id string) error
}

var _ Index = (*search.Client)(nil)

// Sync actions, also used as metric labels.
const (
	actionIndex  = "index"
	actionDelete = "delete"
	actionSkip   = "skip"
)

// Handler processes DynamoDB stream events for one kind.
type Handler struct {
	index   Index
	kind    entity.Kind
	hidden  map[entity.Status]bool
	exec    *retry.Executor
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithExecutor replaces the retry executor around index writes.
func WithExecutor(e *retry.Executor) Option {
	return func(h *Handler) {
		if e != nil {
			h.exec = e
		}
	}
}

// WithHidden sets the statuses whose entities are removed from the index
// instead of indexed. Default: ARCHIVED.
func WithHidden(statuses ...entity.Status) Option {
	return func(h *Handler) {
		h.hidden = make(map[entity.Status]bool, len(statuses))
		for _, s := range statuses {
			h.hidden[s] = true
		}
	}
}

// NewHandler creates a stream handler that indexes entities of kind.
func NewHandler(index Index, kind entity.Kind, opts ...Option) *Handler {
	h := &Handler{
		index:  index,
		kind:   kind,
		hidden: map[entity.Status]bool{entity.StatusArchived: true},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.exec == nil {
		h.exec = retry.New(retry.DefaultPolicy, search.Classify,
			retry.WithLogger(h.logger), retry.WithRecorder(h.metrics))
	}
	return h
}

// HandleSync processes a batch of stream records in order.
// This function is designed to be used as an AWS Lambda handler. A failed
// write fails the batch so the stream retries it.
func (h *Handler) HandleSync(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"eventName", record.EventName,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// errSkip marks records that carry nothing to sync.
var errSkip = errors.New("skip")

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	action, id, doc, err := h.plan(record)
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		// Undecodable images never become decodable; retrying would block
		// the shard.
		h.logger.Warn("skipping undecodable stream record", "eventID", record.EventID, "error", err)
		h.metrics.Synced(actionSkip, "malformed")
		return nil
	}

	_, err = h.exec.Do(ctx, "search."+action, func(ctx context.Context) error {
		if action == actionDelete {
			return h.index.DeleteDocument(ctx, id)
		}
		return h.index.IndexDocument(ctx, id, doc)
	})
	if err != nil {
		h.metrics.Synced(action, "error")
		return fmt.Errorf("%s %s: %w", action, id, err)
	}
	h.metrics.Synced(action, "ok")
	h.logger.Debug("synced search index", "action", action, "id", id, "kind", h.kind)
	return nil
}

// plan decides what a record means for the index.
func (h *Handler) plan(record events.DynamoDBEventRecord) (string, string, map[string]any, error) {
	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeInsert, events.DynamoDBOperationTypeModify:
	case events.DynamoDBOperationTypeRemove:
		id := keyID(record.Change.Keys)
		if id == "" {
			return "", "", nil, errors.New("record key has no id")
		}
		if !h.owns(record.Change.OldImage) {
			return "", "", nil, errSkip
		}
		return actionDelete, id, nil, nil
	default:
		return "", "", nil, errSkip
	}

	if !h.owns(record.Change.NewImage) {
		return "", "", nil, errSkip
	}
	item, err := ConvertImage(record.Change.NewImage)
	if err != nil {
		return "", "", nil, err
	}
	e, err := entity.FromItem(item)
	if err != nil {
		return "", "", nil, err
	}
	if h.hidden[e.Status] {
		return actionDelete, e.ID, nil, nil
	}
	return actionIndex, e.ID, Document(e), nil
}

// owns reports whether the image belongs to the handler's kind. Images
// without a kind (keys-only streams) are accepted.
func (h *Handler) owns(image map[string]events.DynamoDBAttributeValue) bool {
	v, ok := image[entity.FieldKind]
	if !ok || v.DataType() != events.DataTypeString {
		return true
	}
	return v.String() == string(h.kind)
}

// Document renders the indexed form of an entity.
func Document(e *entity.Entity) map[string]any {
	doc := e.Map()
	doc["ref"] = e.Ref()
	return doc
}

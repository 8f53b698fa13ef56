package handler

import (
	"context"
	"sort"

	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/repository"
)

const (
	reportPageSize = repository.MaxLimit
	maxReportPages = 100
	recentLogs     = 10
	unknown        = "UNKNOWN"
)

// Usage summarizes the usage logs of one content item or one consumer.
type Usage struct {
	ContentID       string           `json:"content_id,omitempty"`
	ConsumerID      string           `json:"consumer_id,omitempty"`
	TotalAccesses   int              `json:"total_accesses"`
	UniqueConsumers int              `json:"unique_consumers,omitempty"`
	UniqueContent   int              `json:"unique_content,omitempty"`
	AccessTypes     map[string]int   `json:"access_types"`
	Regions         map[string]int   `json:"regions,omitempty"`
	Publishers      map[string]int   `json:"publishers,omitempty"`
	RecentLogs      []map[string]any `json:"recent_logs"`

	// Truncated is set when the logs exceeded the report read limit.
	Truncated bool `json:"truncated,omitempty"`
}

// contentUsage reports on the logs of one content item: accesses by type
// and region, and distinct consumers.
func contentUsage(contentID string, logs collected) Usage {
	u := summarize(logs)
	u.ContentID = contentID
	u.Regions = count(logs.items, func(e *entity.Entity) string { return attr(e, "region") })
	u.UniqueConsumers = len(count(logs.items, func(e *entity.Entity) string { return e.OwnerKey }))
	return u
}

// consumerUsage reports on the logs of one consumer: accesses by type and
// publisher, and distinct content items.
func consumerUsage(consumerID string, logs collected) Usage {
	u := summarize(logs)
	u.ConsumerID = consumerID
	u.Publishers = count(logs.items, func(e *entity.Entity) string { return attr(e, "publisher_id") })
	u.UniqueContent = len(count(logs.items, func(e *entity.Entity) string { return attr(e, "content_id") }))
	return u
}

func summarize(logs collected) Usage {
	u := Usage{
		TotalAccesses: len(logs.items),
		AccessTypes: count(logs.items, func(e *entity.Entity) string {
			if e.TypeTag == "" {
				return string(entity.TagView)
			}
			return string(e.TypeTag)
		}),
		Truncated: logs.truncated,
	}

	recent := append([]*entity.Entity(nil), logs.items...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].CreatedAt.After(recent[j].CreatedAt) })
	if len(recent) > recentLogs {
		recent = recent[:recentLogs]
	}
	u.RecentLogs = make([]map[string]any, len(recent))
	for i, e := range recent {
		u.RecentLogs[i] = e.Map()
	}
	return u
}

func count(items []*entity.Entity, key func(*entity.Entity) string) map[string]int {
	out := make(map[string]int)
	for _, e := range items {
		out[key(e)]++
	}
	return out
}

func attr(e *entity.Entity, name string) string {
	if v, ok := e.Attributes[name]; ok && v.Text() != "" {
		return v.Text()
	}
	return unknown
}

type collected struct {
	items     []*entity.Entity
	truncated bool
}

// collect follows continuation tokens until the listing is exhausted or
// the page limit is reached.
func collect(ctx context.Context, fetch func(token string) (repository.Page, error)) (collected, error) {
	var out collected
	token := ""
	for pages := 0; ; pages++ {
		if pages == maxReportPages {
			out.truncated = true
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return collected{}, err
		}
		page, err := fetch(token)
		if err != nil {
			return collected{}, err
		}
		out.items = append(out.items, page.Items...)
		if !page.HasMore {
			return out, nil
		}
		token = page.NextToken
	}
}

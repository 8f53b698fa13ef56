package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vishallnvk/knowlio/internal/metrics"
)

// gateway records the pushes it receives.
type gateway struct {
	mu     sync.Mutex
	status int
	pushes []string
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, r.Method+" "+r.URL.Path)
	w.WriteHeader(g.status)
}

func (g *gateway) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.pushes...)
}

func newGateway(t *testing.T, status int) (*gateway, string) {
	t.Helper()
	g := &gateway{status: status}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv.URL
}

func TestPusher_Push(t *testing.T) {
	g, url := newGateway(t, http.StatusOK)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Synced("index", "ok")

	p := metrics.NewPusher(url, "indexsync", "i-1", reg, nil)
	if err := p.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}
	pushes := g.seen()
	if len(pushes) != 1 || pushes[0] != "PUT /metrics/job/indexsync/instance/i-1" {
		t.Errorf("unexpected pushes %v", pushes)
	}
}

func TestPusher_DisabledWithoutURL(t *testing.T) {
	p := metrics.NewPusher("", "knowlio", "", prometheus.NewRegistry(), nil)
	if p != nil {
		t.Fatal("expected nil pusher")
	}
	if err := p.Push(context.Background()); err != nil {
		t.Errorf("expected nil pusher to do nothing, got %v", err)
	}
	p.Flush(context.Background())
}

func TestWrap(t *testing.T) {
	errHandler := errors.New("handler failed")

	tests := []struct {
		name    string
		status  int
		err     error
		out     string
		wantErr error
	}{
		{"pushes after success", http.StatusOK, nil, "done", nil},
		{"pushes after failure", http.StatusOK, errHandler, "", errHandler},
		{"gateway down keeps result", http.StatusInternalServerError, nil, "done", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, url := newGateway(t, tt.status)
			reg := prometheus.NewRegistry()
			metrics.New(reg)
			p := metrics.NewPusher(url, "knowlio", "", reg, nil)

			fn := metrics.Wrap(p, func(context.Context, int) (string, error) { return tt.out, tt.err })
			out, err := fn(context.Background(), 1)
			if out != tt.out || !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %q/%v, got %q/%v", tt.out, tt.wantErr, out, err)
			}
			if pushes := g.seen(); len(pushes) != 1 || pushes[0] != "PUT /metrics/job/knowlio" {
				t.Errorf("expected one push, got %v", pushes)
			}
		})
	}
}

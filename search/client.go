// Package search writes entity documents to an OpenSearch index over
// SigV4-signed HTTP. Both managed domains ("es") and serverless
// collections ("aoss") are supported.
package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/vishallnvk/knowlio/retry"
)

// Signing service names.
const (
	ServiceManaged    = "es"
	ServiceServerless = "aoss"
)

// DefaultIndex is the index name used when none is configured.
const DefaultIndex = "content-index"

// Config holds the index location.
type Config struct {
	// Endpoint is the domain or collection endpoint. A missing scheme
	// means https.
	Endpoint string

	// Index is the target index name.
	Index string

	// Region is the signing region.
	Region string

	// Serverless selects the "aoss" signing service. An endpoint
	// containing "aoss" implies it.
	Serverless bool
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.New("search: endpoint is required")
	}
	if c.Region == "" {
		return errors.New("search: region is required")
	}
	if c.Index == "" {
		c.Index = DefaultIndex
	}
	if strings.Contains(c.Endpoint, ".aoss.") {
		c.Serverless = true
	}
	return nil
}

// Client writes documents to one index.
type Client struct {
	base    *url.URL
	index   string
	region  string
	service string
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	http    *http.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Default: a client with a 10s
// timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock replaces the signing clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client. creds signs every request.
func New(cfg Config, creds aws.CredentialsProvider, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, errors.New("search: credentials are required")
	}
	endpoint := cfg.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("search: parse endpoint: %w", err)
	}

	service := ServiceManaged
	if cfg.Serverless {
		service = ServiceServerless
	}
	c := &Client{
		base:    base,
		index:   cfg.Index,
		region:  cfg.Region,
		service: service,
		creds:   creds,
		signer:  v4.NewSigner(),
		http:    &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Index returns the target index name.
func (c *Client) Index() string { return c.index }

// Service returns the signing service name.
func (c *Client) Service() string { return c.service }

// IndexDocument creates or replaces the document with the given id.
func (c *Client) IndexDocument(ctx context.Context, id string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("search: encode document %s: %w", id, err)
	}
	_, err = c.do(ctx, http.MethodPut, c.docPath(id), body)
	return err
}

// DeleteDocument removes the document with the given id. A missing
// document is not an error.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.docPath(id), nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) docPath(id string) string {
	return "/" + url.PathEscape(c.index) + "/_doc/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	// Serverless collections require the payload hash header.
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: retrieve credentials: %w", err)
	}
	if err := c.signer.SignHTTP(ctx, creds, req, payloadHash, c.service, c.region, c.now()); err != nil {
		return nil, fmt.Errorf("search: sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("search: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// StatusError is a non-2xx response from the index.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Classify maps index faults onto retry classes. Throttling and 5xx
// responses are transient, as are network failures. Other 4xx are
// permanent.
func Classify(err error) retry.Class {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests, se.Code >= 500:
			return retry.Transient
		case se.Code >= 400:
			return retry.Permanent
		}
		return retry.Unknown
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return retry.Transient
	}
	return retry.Unknown
}

package grein

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Errors reported by FetchDataset. Callers classify them with errors.Is.
var (
	// ErrDatasetNotFound means the source does not know the accession.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrDatasetUnavailable means the source knows the accession but
	// cannot deliver a complete dataset for it.
	ErrDatasetUnavailable = errors.New("dataset not available")

	// ErrConnection covers transport failures and overloaded upstreams.
	ErrConnection = errors.New("connection failure")
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

// Client talks to the remote GREIN catalog.
type Client interface {
	// ListDatasets returns up to limit catalog entries.
	ListDatasets(ctx context.Context, limit int) ([]CatalogEntry, error)

	// FetchDataset downloads the description, metadata and raw counts
	// of one accession.
	FetchDataset(ctx context.Context, accession string) (*Dataset, error)

	// CloseIdleConnections drops pooled connections to the source.
	CloseIdleConnections()
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log     logrus.FieldLogger
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Client for the configured source.
func NewClient(log logrus.FieldLogger, cfg *config.SourceConfig) Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	c := &client{
		log:     log.WithField("component", "grein-client"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.GetRequestTimeout(),
			Transport: transport,
		},
	}

	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return c
}

// ListDatasets fetches {base}/datasets?limit=N.
func (c *client) ListDatasets(
	ctx context.Context, limit int,
) ([]CatalogEntry, error) {
	u := c.baseURL + "/datasets?limit=" + strconv.Itoa(limit)

	body, status, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf(
			"listing catalog: unexpected status code %d: %s", status, body,
		)
	}

	var entries []CatalogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// datasetResponse is the wire shape of {base}/datasets/{accession}.
type datasetResponse struct {
	Description map[string]any `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	RawCounts   *CountsTable   `json:"raw_counts"`
}

// FetchDataset fetches {base}/datasets/{accession}.
func (c *client) FetchDataset(
	ctx context.Context, accession string,
) (*Dataset, error) {
	u := c.baseURL + "/datasets/" + url.PathEscape(accession)

	body, status, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		if sentinel := classifyStatus(status); sentinel != nil {
			return nil, fmt.Errorf(
				"%w: %s returned status %d", sentinel, accession, status,
			)
		}

		return nil, fmt.Errorf(
			"fetching %s: unexpected status code %d: %s",
			accession, status, body,
		)
	}

	var resp datasetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding dataset %s: %w", accession, err)
	}

	var desc Description
	if err := mapstructure.Decode(resp.Description, &desc); err != nil {
		return nil, fmt.Errorf(
			"%w: decoding description of %s: %v",
			ErrDatasetUnavailable, accession, err,
		)
	}

	if desc.Title == "" || desc.Species == "" ||
		resp.Metadata == nil || resp.RawCounts == nil {
		return nil, fmt.Errorf(
			"%w: incomplete payload for %s", ErrDatasetUnavailable, accession,
		)
	}

	return &Dataset{
		Accession:   accession,
		Description: desc,
		Metadata:    resp.Metadata,
		RawCounts:   resp.RawCounts,
	}, nil
}

// CloseIdleConnections drops pooled keep-alive connections.
func (c *client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// get performs a rate-limited GET and returns the body and status.
// Transport failures and a starved rate limiter are wrapped in
// ErrConnection.
func (c *client) get(ctx context.Context, u string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("%w: waiting for rate limiter: %w", ErrConnection, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	c.log.WithField("url", u).Debug("Requesting")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: requesting %s: %v", ErrConnection, u, err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading %s: %v", ErrConnection, u, err)
	}

	if resp.StatusCode != http.StatusOK && len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return body, resp.StatusCode, nil
}

// classifyStatus maps an error status code onto a sentinel error, or
// returns nil when the status carries no known meaning.
func classifyStatus(status int) error {
	switch status {
	case http.StatusNotFound:
		return ErrDatasetNotFound
	case http.StatusGone, http.StatusUnprocessableEntity:
		return ErrDatasetUnavailable
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ErrConnection
	default:
		return nil
	}
}

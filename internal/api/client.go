// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geotrack/livetrack/pkg/core"
	"github.com/geotrack/livetrack/pkg/streaming"
)

// ErrStatus is wrapped when the API answers with a non-200 status.
var ErrStatus = errors.New("unexpected status")

const assetPageSize = 200

// Client handles communication with the geotrack REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	decoder    *streaming.Decoder
	logger     *slog.Logger
}

// New creates a new API client. A zero timeout means 30 seconds.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		decoder:    streaming.NewDecoder(nil),
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger used for skipped records.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// LatestPositions fetches the most recent sample of every asset.
func (c *Client) LatestPositions(ctx context.Context) ([]core.PositionSample, error) {
	return c.positions(ctx, "/positions/latest", nil)
}

// PositionHistory fetches an asset's samples between from and to.
func (c *Client) PositionHistory(ctx context.Context, assetID string, from, to time.Time) ([]core.PositionSample, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339Nano))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339Nano))
	}
	return c.positions(ctx, "/assets/"+url.PathEscape(assetID)+"/positions", q)
}

// Assets fetches the whole asset registry, page by page.
func (c *Client) Assets(ctx context.Context) ([]core.Asset, error) {
	var all []core.Asset
	for page := 0; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("size", strconv.Itoa(assetPageSize))

		var batch []core.Asset
		if err := c.getJSON(ctx, "/assets", q, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < assetPageSize {
			return all, nil
		}
	}
}

// Healthcheck checks if the API is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	var discard json.RawMessage
	if err := c.getJSON(ctx, "/positions/latest", nil, &discard); err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	return nil
}

// positions decodes a JSON array of position records. Records that fail
// decoding are skipped so one bad row does not void the batch.
func (c *Client) positions(ctx context.Context, path string, q url.Values) ([]core.PositionSample, error) {
	var raw []json.RawMessage
	if err := c.getJSON(ctx, path, q, &raw); err != nil {
		return nil, err
	}
	out := make([]core.PositionSample, 0, len(raw))
	for i, r := range raw {
		s, err := c.decoder.Position(r)
		if err != nil {
			c.logger.Debug("skipping position record", "path", path, "index", i, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %w %d", path, ErrStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

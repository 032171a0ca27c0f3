// Package client is a thin net/http wrapper around the administrative
// API's routes, the shape cmd/stairway's CLI subcommands call into.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/stairway/pkg/journal"
	"github.com/cuemby/stairway/pkg/types"
)

// Client calls a Stairway instance's administrative HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client pointed at addr (e.g. "http://127.0.0.1:8080").
func NewClient(addr string) *Client {
	return &Client{
		baseURL: addr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type submitRequest struct {
	FlightID  string            `json:"flight_id"`
	ClassName string            `json:"class_name"`
	Inputs    types.InputParams `json:"inputs"`
}

// Submit creates and schedules a new flight.
func (c *Client) Submit(ctx context.Context, flightID, className string, inputs types.InputParams) error {
	body, err := json.Marshal(submitRequest{FlightID: flightID, ClassName: className, Inputs: inputs})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/flights", bytes.NewReader(body), nil)
}

// List enumerates flights matching filter, returning the page and the
// token for the next one (empty when there is no more data).
func (c *Client) List(ctx context.Context, filter journal.EnumerateFilter, pageToken string, limit int) (*journal.Page, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.ClassName != "" {
		q.Set("class_name", filter.ClassName)
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	var page journal.Page
	if err := c.do(ctx, http.MethodGet, "/flights?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get fetches a single flight's row.
func (c *Client) Get(ctx context.Context, flightID string) (*types.FlightRow, error) {
	var row types.FlightRow
	if err := c.do(ctx, http.MethodGet, "/flights/"+url.PathEscape(flightID), nil, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// Count returns the number of flights in each status.
func (c *Client) Count(ctx context.Context) (map[string]int64, error) {
	var counts map[string]int64
	if err := c.do(ctx, http.MethodGet, "/flights/count", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// ForceReady overrides flightID's status to READY, bypassing the ordinary
// state machine. An operator action; see pkg/api's doc comment.
func (c *Client) ForceReady(ctx context.Context, flightID string) error {
	return c.do(ctx, http.MethodPost, "/flights/"+url.PathEscape(flightID)+"/force-ready", nil, nil)
}

// ForceFatal overrides flightID's status to FATAL.
func (c *Client) ForceFatal(ctx context.Context, flightID string) error {
	return c.do(ctx, http.MethodPost, "/flights/"+url.PathEscape(flightID)+"/force-fatal", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("client: %s %s: %s", method, path, apiErr.Error)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

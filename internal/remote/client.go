// Package remote is the HTTP client for the compliance API: per-entity
// create/update/delete calls used while draining the queue, list calls
// used to reload the cache, and the health probe the scheduler uses to
// detect reconnection.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/models"
)

// Client talks to the remote compliance API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewClient creates a Client for the given base URL. The token may be
// empty for unauthenticated deployments.
func NewClient(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// rejected marks responses where the server understood the request and
// refused it. Retrying a rejection can never succeed, so the caller
// should drop the operation rather than requeue it.
type rejected struct {
	status int
	msg    string
}

func (e *rejected) Error() string {
	return fmt.Sprintf("api rejected request (%d): %s", e.status, e.msg)
}

// IsRejection reports whether err is a terminal server-side rejection as
// opposed to a transient transport or availability failure.
func IsRejection(err error) bool {
	return apperrors.Is(err, apperrors.ErrRemoteRejected)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)

		// 4xx means the request itself is bad and will never succeed;
		// 5xx means the server is unhealthy and the request may succeed
		// later.
		if resp.StatusCode < 500 {
			return apperrors.Wrap(apperrors.ErrRemoteRejected, "request rejected",
				&rejected{status: resp.StatusCode, msg: errResp.Error})
		}
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable,
			fmt.Sprintf("api error (%d)", resp.StatusCode), fmt.Errorf("%s", errResp.Error))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Health probes the API health endpoint. Any response below 400 counts
// as reachable.
func (c *Client) Health(ctx context.Context) bool {
	err := c.doRequest(ctx, "GET", "/api/health", nil, nil)
	return err == nil
}

// Create posts a new record and returns the server-assigned id. The input
// object may carry a temporary local id, which the server replaces.
func (c *Client) Create(ctx context.Context, entity models.Entity, input json.RawMessage) (models.ID, error) {
	var resp struct {
		ID models.ID `json:"id"`
	}

	path := fmt.Sprintf("/api/%s", entity)
	if err := c.doRequest(ctx, "POST", path, input, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create response for %s carried no id", entity)
	}
	return resp.ID, nil
}

// Update applies a partial update to an existing record.
func (c *Client) Update(ctx context.Context, entity models.Entity, id models.ID, input json.RawMessage) error {
	path := fmt.Sprintf("/api/%s/%s", entity, id)
	return c.doRequest(ctx, "PUT", path, input, nil)
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, entity models.Entity, id models.ID) error {
	path := fmt.Sprintf("/api/%s/%s", entity, id)
	return c.doRequest(ctx, "DELETE", path, nil, nil)
}

// ListEquipment fetches the full equipment list. forceFresh asks the API
// to bypass its own caches after a drain.
func (c *Client) ListEquipment(ctx context.Context, forceFresh bool) ([]models.Equipment, error) {
	var resp struct {
		Data []models.Equipment `json:"data"`
	}
	err := c.doRequest(ctx, "GET", listPath(models.EntityEquipment, forceFresh), nil, &resp)
	return resp.Data, err
}

// ListPlant fetches the full plant list.
func (c *Client) ListPlant(ctx context.Context, forceFresh bool) ([]models.Plant, error) {
	var resp struct {
		Data []models.Plant `json:"data"`
	}
	err := c.doRequest(ctx, "GET", listPath(models.EntityPlant, forceFresh), nil, &resp)
	return resp.Data, err
}

// ListInspections fetches recent inspections newest-first.
func (c *Client) ListInspections(ctx context.Context, forceFresh bool) ([]models.Inspection, error) {
	var resp struct {
		Data []models.Inspection `json:"data"`
	}
	err := c.doRequest(ctx, "GET", listPath(models.EntityInspection, forceFresh), nil, &resp)
	return resp.Data, err
}

func listPath(entity models.Entity, forceFresh bool) string {
	path := fmt.Sprintf("/api/%s", entity)
	if forceFresh {
		path += "?fresh=1"
	}
	return path
}

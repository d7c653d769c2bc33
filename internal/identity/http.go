package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPResolver asks a schema service for the SKU of a display name:
// GET {base}/getSku/fromName/{name} -> {"success": true, "sku": "5021;6"}.
type HTTPResolver struct {
	client *resty.Client
}

type skuResponse struct {
	Success bool   `json:"success"`
	SKU     string `json:"sku"`
	Message string `json:"message"`
}

// NewHTTPResolver creates a resolver against baseURL.
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &HTTPResolver{client: client}
}

// Resolve looks the name up remotely.
func (r *HTTPResolver) Resolve(ctx context.Context, name string) (string, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("name", name).
		Get("/getSku/fromName/{name}")
	if err != nil {
		return "", fmt.Errorf("sku lookup failed: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return "", ErrUnknownItem
	}
	if resp.IsError() {
		return "", fmt.Errorf("sku lookup: http %d", resp.StatusCode())
	}

	var out skuResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("failed to parse sku response: %w", err)
	}
	if !out.Success || out.SKU == "" {
		return "", ErrUnknownItem
	}
	return out.SKU, nil
}

package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ops-gateway/internal/config"
	"ops-gateway/internal/models"
)

// CloudflareClient calls the DNS provider's API for dns_update,
// cache_purge and firewall_rule tasks.
type CloudflareClient struct {
	base   string
	token  string
	zoneID string
	http   *http.Client
}

// NewCloudflareClient builds a client from the Cloudflare config section.
func NewCloudflareClient(cfg config.Config) *CloudflareClient {
	return &CloudflareClient{
		base:   cfg.Cloudflare.APIBase,
		token:  cfg.Cloudflare.Token,
		zoneID: cfg.Cloudflare.ZoneID,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CloudflareClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, models.Permanentf("encode request: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return nil, models.Permanentf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// DNSUpdateHandler updates a DNS record at the provider.
type DNSUpdateHandler struct {
	Client *CloudflareClient
}

func (h *DNSUpdateHandler) Validate(payload map[string]any) error {
	if _, err := payloadString(payload, "record"); err != nil {
		return err
	}
	if _, err := payloadString(payload, "content"); err != nil {
		return err
	}
	return nil
}

func (h *DNSUpdateHandler) Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error) {
	record, _ := payloadString(payload, "record")
	content, _ := payloadString(payload, "content")
	recordType := optString(payload, "type", "A")

	body := map[string]any{
		"name":    record,
		"type":    recordType,
		"content": content,
		"proxied": optBool(payload, "proxied"),
	}
	path := fmt.Sprintf("/zones/%s/dns_records", h.Client.zoneID)
	resp, err := h.Client.do(ctx, http.MethodPost, path, body)
	if err := classifyHTTP("dns update", resp, err); err != nil {
		return nil, err
	}
	drainBody(resp)

	return &models.TaskResult{
		Service: "cloudflare",
		Data: map[string]any{
			"record":     record,
			"type":       recordType,
			"content":    content,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// CachePurgeHandler purges CDN cache entries.
type CachePurgeHandler struct {
	Client *CloudflareClient
}

func (h *CachePurgeHandler) Validate(payload map[string]any) error {
	if optBool(payload, "purge_everything") {
		return nil
	}
	urls, ok := payload["urls"].([]any)
	if !ok || len(urls) == 0 {
		return models.NewValidationError("urls", "must provide urls or purge_everything")
	}
	return nil
}

func (h *CachePurgeHandler) Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error) {
	body := map[string]any{}
	purged := []any{}
	if optBool(payload, "purge_everything") {
		body["purge_everything"] = true
	} else {
		purged, _ = payload["urls"].([]any)
		body["files"] = purged
	}

	path := fmt.Sprintf("/zones/%s/purge_cache", h.Client.zoneID)
	resp, err := h.Client.do(ctx, http.MethodPost, path, body)
	if err := classifyHTTP("cache purge", resp, err); err != nil {
		return nil, err
	}
	drainBody(resp)

	return &models.TaskResult{
		Service: "cloudflare",
		Data: map[string]any{
			"purged_urls":      purged,
			"purge_everything": optBool(payload, "purge_everything"),
			"purged_at":        time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// FirewallRuleHandler manages firewall/ACL rules at the provider.
type FirewallRuleHandler struct {
	Client *CloudflareClient
}

func (h *FirewallRuleHandler) Validate(payload map[string]any) error {
	action, err := payloadString(payload, "action")
	if err != nil {
		return err
	}
	switch action {
	case "block", "allow", "challenge", "list":
		return nil
	default:
		return models.NewValidationError("action", "unknown firewall action %q", action)
	}
}

func (h *FirewallRuleHandler) Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error) {
	action, _ := payloadString(payload, "action")
	path := fmt.Sprintf("/zones/%s/firewall/rules", h.Client.zoneID)

	if action == "list" {
		resp, err := h.Client.do(ctx, http.MethodGet, path, nil)
		if err := classifyHTTP("firewall list", resp, err); err != nil {
			return nil, err
		}
		return &models.TaskResult{
			Service: "cloudflare",
			Data:    map[string]any{"action": "list", "rules": drainBody(resp)},
		}, nil
	}

	body := map[string]any{
		"action":     action,
		"expression": optString(payload, "expression", ""),
	}
	resp, err := h.Client.do(ctx, http.MethodPost, path, body)
	if err := classifyHTTP("firewall rule", resp, err); err != nil {
		return nil, err
	}
	drainBody(resp)

	return &models.TaskResult{
		Service: "cloudflare",
		Data: map[string]any{
			"action":     action,
			"expression": optString(payload, "expression", ""),
			"applied_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

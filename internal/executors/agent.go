package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ops-gateway/internal/config"
	"ops-gateway/internal/models"
)

// AgentClient calls the on-host executor agent for tasks that run against
// local infrastructure: health checks, monitoring sweeps, deploys,
// backups and remediations.
type AgentClient struct {
	base string
	http *http.Client
}

// NewAgentClient builds a client from the Agent config section.
func NewAgentClient(cfg config.Config) *AgentClient {
	return &AgentClient{
		base: cfg.Agent.BaseURL,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *AgentClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, models.Permanentf("build request: %v", err)
	}
	return c.http.Do(req)
}

func (c *AgentClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, models.Permanentf("encode request: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return nil, models.Permanentf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// HealthCheckHandler probes the agent's health endpoint.
type HealthCheckHandler struct {
	Client *AgentClient
}

func (h *HealthCheckHandler) Validate(map[string]any) error { return nil }

func (h *HealthCheckHandler) Execute(ctx context.Context, _ map[string]any) (*models.TaskResult, error) {
	resp, err := h.Client.get(ctx, "/health")
	if err := classifyHTTP("health check", resp, err); err != nil {
		return nil, err
	}
	return &models.TaskResult{Service: "agent", Data: drainBody(resp)}, nil
}

// MonitorHandler collects an infrastructure snapshot from the agent.
type MonitorHandler struct {
	Client *AgentClient
}

func (h *MonitorHandler) Validate(map[string]any) error { return nil }

func (h *MonitorHandler) Execute(ctx context.Context, _ map[string]any) (*models.TaskResult, error) {
	resp, err := h.Client.get(ctx, "/metrics")
	if err := classifyHTTP("monitor", resp, err); err != nil {
		return nil, err
	}
	return &models.TaskResult{Service: "agent", Data: drainBody(resp)}, nil
}

// DeployHandler triggers a deployment run on the agent.
type DeployHandler struct {
	Client *AgentClient
}

func (h *DeployHandler) Validate(payload map[string]any) error {
	env := optString(payload, "environment", "production")
	switch env {
	case "dev", "staging", "production":
		return nil
	default:
		return models.NewValidationError("environment", "unknown environment %q", env)
	}
}

func (h *DeployHandler) Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error) {
	body := map[string]any{
		"branch":      optString(payload, "branch", "main"),
		"environment": optString(payload, "environment", "production"),
	}
	resp, err := h.Client.post(ctx, "/deploy", body)
	if err := classifyHTTP("deploy", resp, err); err != nil {
		return nil, err
	}
	return &models.TaskResult{Service: "agent", Data: drainBody(resp)}, nil
}

// BackupHandler triggers a backup run on the agent.
type BackupHandler struct {
	Client *AgentClient
}

func (h *BackupHandler) Validate(map[string]any) error { return nil }

func (h *BackupHandler) Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error) {
	resp, err := h.Client.post(ctx, "/backup", payload)
	if err := classifyHTTP("backup", resp, err); err != nil {
		return nil, err
	}
	return &models.TaskResult{Service: "agent", Data: drainBody(resp)}, nil
}

// RemediateHandler asks the agent to restart or repair a service. Created
// automatically when a critical alert arrives.
type RemediateHandler struct {
	Client *AgentClient
}

func (h *RemediateHandler) Validate(payload map[string]any) error {
	_, err := payloadString(payload, "service")
	return err
}

func (h *RemediateHandler) Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error) {
	service, _ := payloadString(payload, "service")
	body := map[string]any{
		"service": service,
		"action":  optString(payload, "action", "restart"),
	}
	resp, err := h.Client.post(ctx, "/remediate", body)
	if err := classifyHTTP("remediate", resp, err); err != nil {
		return nil, err
	}
	return &models.TaskResult{Service: "agent", Data: drainBody(resp)}, nil
}

// RegisterDefaults wires the standard task types into a registry.
func RegisterDefaults(r *Registry, cfg config.Config) {
	cf := NewCloudflareClient(cfg)
	agent := NewAgentClient(cfg)

	r.Register(models.TaskDNSUpdate, &DNSUpdateHandler{Client: cf})
	r.Register(models.TaskCachePurge, &CachePurgeHandler{Client: cf})
	r.Register(models.TaskFirewallRule, &FirewallRuleHandler{Client: cf})
	r.Register(models.TaskSSLCheck, &SSLCheckHandler{})
	r.Register(models.TaskHealthCheck, &HealthCheckHandler{Client: agent})
	r.Register(models.TaskMonitor, &MonitorHandler{Client: agent})
	r.Register(models.TaskDeploy, &DeployHandler{Client: agent})
	r.Register(models.TaskBackup, &BackupHandler{Client: agent})
	r.Register(models.TaskRemediate, &RemediateHandler{Client: agent})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ops-gateway/internal/alerts"
	"ops-gateway/internal/broadcast"
	"ops-gateway/internal/dispatch"
	"ops-gateway/internal/executors"
	"ops-gateway/internal/health"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
	"ops-gateway/internal/proxy"
	"ops-gateway/internal/store"
)

// AlertArchive serves alert history from durable storage. Optional; the
// in-memory log is used when no archive is configured or a read fails.
type AlertArchive interface {
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

type Handler struct {
	store      *store.Store
	registry   *executors.Registry
	dispatcher *dispatch.Dispatcher
	poller     *health.Poller
	proxy      *proxy.Router
	hub        *broadcast.Hub
	alertLog   *alerts.Log
	archive    AlertArchive
	logger     *logging.Logger
	started    time.Time
	upgrader   websocket.Upgrader
}

// WithArchive enables serving alert history from durable storage.
func (h *Handler) WithArchive(archive AlertArchive) *Handler {
	h.archive = archive
	return h
}

func NewHandler(st *store.Store, reg *executors.Registry, d *dispatch.Dispatcher, p *health.Poller, px *proxy.Router, hub *broadcast.Hub, alertLog *alerts.Log, logger *logging.Logger) *Handler {
	return &Handler{
		store:      st,
		registry:   reg,
		dispatcher: d,
		poller:     p,
		proxy:      px,
		hub:        hub,
		alertLog:   alertLog,
		logger:     logger,
		started:    time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type createTaskRequest struct {
	Type       string         `json:"type" binding:"required"`
	Priority   string         `json:"priority"`
	Data       map[string]any `json:"data"`
	Timeout    int            `json:"timeout"`
	MaxRetries *int           `json:"max_retries"`
}

type createTaskResponse struct {
	TaskID              string    `json:"task_id"`
	Status              string    `json:"status"`
	Message             string    `json:"message"`
	CreatedAt           time.Time `json:"created_at"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid task request body: %v", err)
		writeAPIError(c, http.StatusBadRequest, "Invalid request", "malformed request body")
		return
	}
	if req.Priority == "" {
		req.Priority = string(models.PriorityMedium)
	}

	enq := store.EnqueueRequest{
		Type:     models.TaskType(req.Type),
		Priority: models.Priority(req.Priority),
		Payload:  req.Data,
		Timeout:  time.Duration(req.Timeout) * time.Second,
	}
	if req.MaxRetries != nil {
		enq.MaxRetries = *req.MaxRetries
	}

	task, err := h.store.Enqueue(enq)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeAPIError(c, http.StatusBadRequest, "Invalid task", verr.Error())
			return
		}
		h.logger.Errorf("Enqueue failed: %v", err)
		writeAPIError(c, http.StatusInternalServerError, "Internal error", "failed to create task")
		return
	}

	// Critical tasks skip the scheduler queue entirely.
	if task.Priority == models.PriorityCritical {
		h.dispatcher.DispatchNow(task)
	} else {
		h.dispatcher.Wake()
	}

	h.logger.Infof("Created task %s type=%s priority=%s", task.ID, task.Type, task.Priority)
	c.JSON(http.StatusCreated, createTaskResponse{
		TaskID:              task.ID,
		Status:              string(task.Status),
		Message:             "Task " + string(task.Type) + " queued for processing",
		CreatedAt:           task.CreatedAt,
		EstimatedCompletion: task.CreatedAt.Add(task.Timeout),
	})
}

func (h *Handler) GetTask(c *gin.Context) {
	id := c.Param("id")
	task, err := h.store.Get(id)
	if err != nil {
		writeAPIError(c, http.StatusNotFound, "Task not found", "no task with id "+id)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) ListTasks(c *gin.Context) {
	status := models.TaskStatus(c.Query("status"))
	tasks := h.store.List(status)
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *Handler) CancelTask(c *gin.Context) {
	id := c.Param("id")
	err := h.store.Cancel(id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"task_id": id, "status": string(models.StatusCancelled)})
	case errors.Is(err, models.ErrNotFound):
		writeAPIError(c, http.StatusNotFound, "Task not found", "no task with id "+id)
	case errors.Is(err, models.ErrInvalidTransition):
		writeAPIError(c, http.StatusConflict, "Cannot cancel", "only pending tasks can be cancelled")
	default:
		h.logger.Errorf("Cancel task %s failed: %v", id, err)
		writeAPIError(c, http.StatusInternalServerError, "Internal error", "failed to cancel task")
	}
}

func (h *Handler) GatewayStatus(c *gin.Context) {
	snapshot := h.poller.Snapshot()
	services := make(map[string]string, len(snapshot.Services))
	for name, svc := range snapshot.Services {
		services[name] = string(svc.Status)
	}
	c.JSON(http.StatusOK, gin.H{
		"gateway":   "online",
		"grade":     snapshot.Grade,
		"services":  services,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) Metrics(c *gin.Context) {
	counts := h.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"tasks":      counts,
		"ws_clients": h.hub.ClientCount(),
		"uptime":     time.Since(h.started).Seconds(),
	})
}

type taskTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Service     string `json:"service"`
}

var taskTypeDetails = map[models.TaskType]taskTypeInfo{
	models.TaskDNSUpdate:    {Type: "dns_update", Description: "Update a DNS record", Service: "cloudflare"},
	models.TaskCachePurge:   {Type: "cache_purge", Description: "Purge cached content", Service: "cloudflare"},
	models.TaskFirewallRule: {Type: "firewall_rule", Description: "Manage a firewall rule", Service: "cloudflare"},
	models.TaskSSLCheck:     {Type: "ssl_check", Description: "Check certificate expiry for a domain", Service: "gateway"},
	models.TaskHealthCheck:  {Type: "health_check", Description: "Probe a service endpoint", Service: "agent"},
	models.TaskDeploy:       {Type: "deploy", Description: "Deploy a service version", Service: "agent"},
	models.TaskMonitor:      {Type: "monitor", Description: "Collect system metrics", Service: "agent"},
	models.TaskRemediate:    {Type: "remediate", Description: "Run a remediation action", Service: "agent"},
	models.TaskBackup:       {Type: "backup", Description: "Back up service data", Service: "agent"},
}

// Capabilities lists the task types this gateway can execute, so clients
// can discover what to submit without hardcoding the type list.
func (h *Handler) Capabilities(c *gin.Context) {
	registered := h.registry.Types()
	types := make([]taskTypeInfo, 0, len(registered))
	seen := make(map[string]bool)
	services := make([]string, 0, 3)
	for _, t := range registered {
		info, ok := taskTypeDetails[t]
		if !ok {
			info = taskTypeInfo{Type: string(t), Service: "gateway"}
		}
		types = append(types, info)
		if !seen[info.Service] {
			seen[info.Service] = true
			services = append(services, info.Service)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"task_types": types,
		"priorities": []string{
			string(models.PriorityCritical),
			string(models.PriorityHigh),
			string(models.PriorityMedium),
			string(models.PriorityLow),
		},
		"services": services,
		"features": []string{"priority_queue", "automatic_retry", "websocket_updates", "service_proxy"},
	})
}

func (h *Handler) Alerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var recent []models.Alert
	if h.archive != nil {
		archived, err := h.archive.RecentAlerts(c.Request.Context(), limit)
		if err != nil {
			h.logger.Errorf("Read alert archive failed: %v", err)
		} else {
			recent = archived
		}
	}
	if recent == nil {
		recent = h.alertLog.Recent(limit)
	}
	c.JSON(http.StatusOK, gin.H{"alerts": recent, "count": len(recent)})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.started).Seconds(),
	})
}

func (h *Handler) Proxy(c *gin.Context) {
	service := c.Param("service")
	rest := c.Param("path")
	userID := c.GetString(userIDKey)
	h.proxy.Forward(c.Writer, c.Request, service, rest, userID)
}

func (h *Handler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	h.hub.Register(conn)
}

func writeAPIError(c *gin.Context, status int, code, detail string) {
	c.JSON(status, models.APIError{Error: code, Detail: detail, StatusCode: status})
}

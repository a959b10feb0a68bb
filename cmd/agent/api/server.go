package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/gpu-agent/cmd/agent/consumer"
	"github.com/lyzr/gpu-agent/cmd/agent/engine"
	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/logger"
	"github.com/lyzr/gpu-agent/common/redis"
)

// Server is the thin HTTP façade over the engine's stats endpoints plus
// a local test-enqueue helper. It never touches the dispatch pipeline.
type Server struct {
	engines *engine.Cache
	queue   *redis.Client
	log     *logger.Logger
}

// NewServer creates the façade. queue may be nil in HTTP consumer mode;
// the test-enqueue endpoint then reports the queue as unconfigured.
func NewServer(engines *engine.Cache, queue *redis.Client, log *logger.Logger) *Server {
	return &Server{engines: engines, queue: queue, log: log}
}

// Echo builds the configured echo instance
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	e.GET("/health", s.health)
	e.GET("/api/comfyui-queue-status", s.queueStatus)
	e.GET("/api/comfyui-system-stats", s.systemStats)
	e.GET("/api/comfyui-server-info", s.serverInfo)
	e.POST("/api/comfyui-interrupt", s.interrupt)
	e.POST("/api/test-task", s.pushTestTask)

	return e
}

func (s *Server) client() *engine.Client {
	return s.engines.Get("default")
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"service":      "gpu-agent",
		"engine_ready": s.client().CheckHealth(c.Request().Context()),
	})
}

func (s *Server) queueStatus(c echo.Context) error {
	status, err := s.client().QueueStatus(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) systemStats(c echo.Context) error {
	stats, err := s.client().SystemStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

// serverInfo aggregates health, queue depth and recent history into one
// response for dashboards
func (s *Server) serverInfo(c echo.Context) error {
	ctx := c.Request().Context()
	client := s.client()

	info := map[string]any{
		"engine_ready": client.CheckHealth(ctx),
	}
	if queueStatus, err := client.QueueStatus(ctx); err == nil {
		info["queue"] = queueStatus
	}
	if history, err := client.QueueHistory(ctx, 10); err == nil {
		info["recent_history"] = history
	}
	if s.queue != nil {
		lengths := map[string]int64{}
		for _, lane := range []string{task.PriorityVIP, task.PriorityNormal, task.PriorityGuest} {
			if n, err := s.queue.QueueLength(ctx, consumer.QueueName(lane)); err == nil {
				lengths[lane] = n
			}
		}
		info["pending_tasks"] = lengths
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) interrupt(c echo.Context) error {
	if err := s.client().Interrupt(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "interrupted"})
}

// testTaskRequest is the local enqueue helper's body
type testTaskRequest struct {
	TaskID   string         `json:"task_id"`
	Workflow string         `json:"workflow_name"`
	Priority string         `json:"priority"`
	Params   map[string]any `json:"params"`
}

// pushTestTask enqueues a job into a Redis priority lane, for exercising
// the consumer without a producer
func (s *Server) pushTestTask(c echo.Context) error {
	if s.queue == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "redis queue not configured"})
	}

	var req testTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if req.TaskID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "task_id is required"})
	}

	priority := req.Priority
	switch priority {
	case task.PriorityVIP, task.PriorityNormal, task.PriorityGuest:
	case "":
		priority = task.PriorityNormal
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown priority: " + priority})
	}

	payload, err := json.Marshal(map[string]any{
		"task_id":       req.TaskID,
		"workflow_name": req.Workflow,
		"priority":      priority,
		"params":        req.Params,
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := s.queue.Push(c.Request().Context(), consumer.QueueName(priority), string(payload)); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.log.Info("test task enqueued", "task_id", req.TaskID, "priority", priority)
	return c.JSON(http.StatusOK, map[string]string{"status": "queued", "queue": consumer.QueueName(priority)})
}

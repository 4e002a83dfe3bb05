package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kfir-abbou/Dapr/internal/bus"
	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

type (
	// Server implements the HTTP API of the orchestration service
	Server struct {
		config   *config.Config
		machine  StateMachine
		engine   Workflows
		store    Store
		bus      Bus
		metrics  http.Handler
		newCID   func() api.CorrelationID
		sockets  map[*Client]struct{}
		socketMu sync.Mutex
	}

	// Dependencies are the collaborators a Server is built from
	Dependencies struct {
		Machine StateMachine
		Engine  Workflows
		Store   Store
		Bus     Bus
		Metrics http.Handler
	}

	// StateMachine validates and records changes to the shared status
	StateMachine interface {
		GetCurrent(context.Context) (*api.SystemState, error)
		AllowedTransitions(context.Context) (*api.TransitionsResponse, error)
		Transition(context.Context, string) (*api.StateChangeResult, error)
		ForceTransition(
			context.Context, string,
		) (*api.StateChangeResult, error)
	}

	// Workflows looks up instances and delivers external events to them
	Workflows interface {
		GetStatus(context.Context, api.InstanceID) (*api.WorkflowState, error)
		RaiseEvent(
			ctx context.Context, id api.InstanceID, name string, payload any,
		) error
	}

	// Store reads stored batch results
	Store interface {
		GetBatchResult(
			context.Context, api.CorrelationID,
		) (*api.BatchResult, error)
		Ping(context.Context) error
	}

	// Bus publishes requests and exposes every message for streaming
	Bus interface {
		Publish(ctx context.Context, topic string, payload any) error
		Tap() bus.Subscription
	}
)

var (
	ErrInvalidJSON = errors.New("invalid JSON")
	ErrGetState    = errors.New("failed to get system state")
)

// NewServer creates a new HTTP API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	return &Server{
		config:  cfg,
		machine: deps.Machine,
		engine:  deps.Engine,
		store:   deps.Store,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		newCID:  newCorrelationID,
		sockets: map[*Client]struct{}{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods", "GET, POST, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	st := router.Group("/state")
	{
		st.GET("", s.getState)
		st.POST("", s.changeState)
		st.GET("/transitions", s.getTransitions)
		st.POST("/force", s.forceState)
	}

	batch := router.Group("/batch")
	{
		batch.POST("/start", s.startBatch)
		batch.GET("/status/:correlationId", s.getBatchStatus)
	}

	wf := router.Group("/workflow")
	{
		wf.POST("/approve", s.approve)
		wf.GET("/pending-approvals", s.pendingApprovals)
		wf.GET("/ws", s.handleWebSocket)
		wf.GET("/:instanceId", s.getWorkflow)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.socketMu.Lock()
	defer s.socketMu.Unlock()
	s.sockets[c] = struct{}{}
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.socketMu.Lock()
	defer s.socketMu.Unlock()
	delete(s.sockets, c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.socketMu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.socketMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func bindError(c *gin.Context, err error) {
	writeError(c, http.StatusBadRequest,
		fmt.Errorf("%w: %w", ErrInvalidJSON, err),
	)
}

func newCorrelationID() api.CorrelationID {
	return api.CorrelationID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/distributor"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/ingest"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/queue"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/search"
)

const (
	defaultRecentLimit = 20
	maxSearchLimit     = 100
)

// Submitter accepts new content.
type Submitter interface {
	Submit(ctx context.Context, req ingest.SubmitRequest) (moderation.ContentItem, error)
}

// Deps are the collaborators behind the HTTP boundary. Nil fields disable
// the routes that need them.
type Deps struct {
	Gateway Submitter
	Store   search.Store
	Live    *distributor.LiveChannel
	Recent  *distributor.Recent
	Stats   *distributor.Stats
}

// Server exposes submission, search, result reads and the live channel.
type Server struct {
	deps         Deps
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *zap.Logger
}

// New constructs the HTTP boundary.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Handler returns the gin engine serving every route.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if s.deps.Gateway != nil {
		r.POST("/content", s.handleSubmit)
	}
	if s.deps.Store != nil {
		r.GET("/search", s.handleSearch)
		r.GET("/results/:id", s.handleResult)
	}
	if s.deps.Live != nil {
		r.GET("/ws", s.handleLive)
	}
	if s.deps.Recent != nil {
		r.GET("/results/recent", s.handleRecent)
	}
	if s.deps.Stats != nil {
		r.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.deps.Stats.Snapshot())
		})
	}
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req ingest.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid json payload"})
		return
	}
	item, err := s.deps.Gateway.Submit(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidSubmission):
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "moderation queue is full, retry later"})
		default:
			s.logger.Error("submit content", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "submission failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "query parameter q is required"})
		return
	}
	limit := intQuery(c, "limit", search.DefaultLimit)
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	items, err := s.deps.Store.SearchContent(c.Request.Context(), query, limit)
	if err != nil {
		s.logger.Error("search content", zap.String("query", query), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "search failed"})
		return
	}
	if items == nil {
		items = []moderation.ContentItem{}
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) handleResult(c *gin.Context) {
	result, err := s.deps.Store.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, search.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "no result for content " + c.Param("id")})
			return
		}
		s.logger.Error("get result", zap.String("content_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRecent(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Recent.Snapshot(intQuery(c, "limit", defaultRecentLimit)))
}

// handleLive upgrades the request and serves it until the client leaves.
func (s *Server) handleLive(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := distributor.NewWebsocketConn(ws, s.writeTimeout)
	s.deps.Live.Attach(conn)
	conn.ReadPump(s.logger)
	s.deps.Live.Detach(conn)
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Package apiserver exposes kirorelay's dispatcher over HTTP: the three
// call endpoints, a Prometheus metrics endpoint, and a health check that
// reports credential-pool status. It builds the engine with gin.New() plus
// explicit middleware rather than gin.Default(), so logging and recovery
// share the injected logger instead of gin's package defaults.
package apiserver

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirorelay/kirorelay/internal/credstore"
	apperrors "github.com/kirorelay/kirorelay/internal/errors"
	"github.com/kirorelay/kirorelay/internal/kirodispatch"
	"github.com/kirorelay/kirorelay/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server wires the gin engine to a Dispatcher and a credential Store.
type Server struct {
	engine     *gin.Engine
	dispatcher *kirodispatch.Dispatcher
	store      *credstore.Store
	apiKeys    map[string]struct{}
	log        *logrus.Logger
}

// New builds a Server. apiKeys, if non-empty, requires clients to present
// one of them via the Authorization: Bearer header on call endpoints; an
// empty set leaves the endpoints unauthenticated (suitable only for
// loopback-bound deployments).
func New(dispatcher *kirodispatch.Dispatcher, store *credstore.Store, apiKeys []string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	keySet := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		keySet[k] = struct{}{}
	}

	s := &Server{dispatcher: dispatcher, store: store, apiKeys: keySet, log: log}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinRecovery(log), logging.GinLogger(log))
	s.engine = engine

	s.registerRoutes()
	return s
}

// Engine exposes the underlying http.Handler for use with http.Server or
// httptest.
func (s *Server) Engine() http.Handler { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1", s.authenticate)
	v1.POST("/messages", s.handleCallAPI)
	v1.POST("/messages/stream", s.handleCallAPIStream)
	v1.POST("/mcp", s.handleCallMCP)
	v1.GET("/logs", s.handleLogs)
}

// authenticate enforces the configured API key set, if any, against the
// Authorization: Bearer header using a constant-time comparison.
func (s *Server) authenticate(c *gin.Context) {
	if len(s.apiKeys) == 0 {
		c.Next()
		return
	}
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	presented := header[len(prefix):]
	for key := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			c.Next()
			return
		}
	}
	c.AbortWithStatus(http.StatusUnauthorized)
}

func (s *Server) handleHealthz(c *gin.Context) {
	snapshot := s.store.Snapshot()
	healthy := 0
	for _, cred := range snapshot {
		if cred.Health == credstore.HealthHealthy || cred.Health == credstore.HealthFailing {
			healthy++
		}
	}
	status := http.StatusOK
	if healthy == 0 && len(snapshot) > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"credentials_total":   len(snapshot),
		"credentials_healthy": healthy,
	})
}

func (s *Server) handleCallAPI(c *gin.Context) {
	s.forward(c, "call_api", s.dispatcher.CallAPI)
}

func (s *Server) handleCallAPIStream(c *gin.Context) {
	s.forward(c, "call_api_stream", s.dispatcher.CallAPIStream)
}

func (s *Server) handleCallMCP(c *gin.Context) {
	s.forward(c, "call_mcp", s.dispatcher.CallMCP)
}

// handleLogs serves the process's in-memory log tail for operators
// diagnosing a running instance without shelling in to read its log file.
// ?n= bounds the response to the N most recent entries; omitted or
// non-positive returns everything currently buffered.
func (s *Server) handleLogs(c *gin.Context) {
	entries := logging.GetGlobalEntries()
	if raw := c.Query("n"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			entries = logging.GetRecentGlobalEntries(n)
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type callFunc func(ctx context.Context, body []byte) (*http.Response, error)

// forward reads the client's pre-serialized body, dispatches it via call,
// and relays the upstream response (or a mapped error) back to the client.
// The response body is streamed through unbuffered so call_api_stream
// clients see bytes as they arrive.
func (s *Server) forward(c *gin.Context, label string, call callFunc) {
	body, err := c.GetRawData()
	if err != nil {
		appErr := apperrors.BadRequest("failed to read request body", err)
		c.JSON(appErr.HTTPStatusCode, appErr)
		return
	}

	resp, err := call(c.Request.Context(), body)
	if err != nil {
		appErr := mapError(err)
		s.log.WithFields(logrus.Fields{"label": label, "status": appErr.HTTPStatusCode}).Warn(appErr.Message)
		c.JSON(appErr.HTTPStatusCode, appErr)
		return
	}
	defer resp.Body.Close()

	c.Status(resp.StatusCode)
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	_, _ = io.Copy(c.Writer, resp.Body)
}

// mapError translates a DispatchError's taxonomy into the HTTP status and
// client-facing body a caller of this service should see.
func mapError(err error) *apperrors.AppError {
	de, ok := err.(*kirodispatch.DispatchError)
	if !ok {
		return apperrors.BadGateway(err.Error(), err)
	}
	switch de.Code {
	case kirodispatch.RequestRejected:
		return apperrors.BadRequest(de.Message, de)
	case kirodispatch.AcquireFailure, kirodispatch.HeaderBuildFailure:
		return apperrors.Unauthorized(de.Message, de)
	case kirodispatch.AllCredentialsExhausted:
		return apperrors.ServiceUnavailable(de.Message, de)
	default:
		return apperrors.BadGateway(de.Message, de)
	}
}

// ListenAndServe runs the HTTP server on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

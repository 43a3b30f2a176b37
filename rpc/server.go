package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tolelom/tolmarket/config"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20
	rpcMethodKey = "rpc_method"
)

// Server serves JSON-RPC on POST /, plus /health and /metrics.
type Server struct {
	handler *Handler
	addr    string
	srv     *http.Server
	log     *zap.Logger
}

// NewServer creates a Server from cfg. If cfg.AuthToken is non-empty every
// JSON-RPC request must carry a matching bearer token; /health and /metrics
// stay open. gatherer may be nil to disable /metrics.
func NewServer(cfg config.RPCConfig, handler *Handler, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("rpc")
	s := &Server{handler: handler, addr: cfg.Addr, log: log}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recovery(log), requestLog(log))
	if len(cfg.CORSOrigins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = cfg.CORSOrigins
		cc.AllowHeaders = append(cc.AllowHeaders, "Authorization", requestIDHeader)
		r.Use(cors.New(cc))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "chain_id": handler.chainID})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.Pprof {
		pprof.Register(r)
	}

	api := r.Group("/")
	if cfg.AuthToken != "" {
		api.Use(bearerAuth(cfg.AuthToken))
	}
	api.Use(rateLimit(newClientLimiter(cfg.RateLimit, cfg.RateBurst, 0)))
	api.POST("/", s.serveRPC)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting until ctx is done for
// in-flight requests to complete.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveRPC(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		c.JSON(http.StatusOK, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}
	c.Set(rpcMethodKey, req.Method)
	c.JSON(http.StatusOK, s.handler.Dispatch(c.Request.Context(), req))
}

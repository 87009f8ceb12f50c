// Package monitor serves an optional local HTTP status surface: liveness,
// a JSON status document and pprof.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"pepe/internal/runtime/supervisor"
	logx "pepe/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6061"

func init() { gin.SetMode(gin.ReleaseMode) }

// Config controls the monitor server.
//
// Security: bind to localhost (default). A non-loopback Addr requires Token.
type Config struct {
	Enabled bool
	Addr    string
	Token   string
	Pprof   bool
}

// StatusFunc returns the document served at /status. It must be safe for
// concurrent use.
type StatusFunc func() any

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	status StatusFunc

	addr string
	srv  *http.Server
	sup  *supervisor.Supervisor
}

func New(cfg Config, status StatusFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if status == nil {
		status = func() any { return gin.H{} }
	}
	return &Service{cfg: cfg, log: log, status: status}
}

// Handler builds the gin engine. Exposed for tests and embedding.
func (s *Service) Handler() http.Handler {
	e := gin.New()
	e.Use(gin.Recovery(), s.requestLog(), bearerAuth(s.cfg.Token))

	e.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	e.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status())
	})
	if s.cfg.Pprof {
		// net/http/pprof.Index expects the canonical /debug/pprof/ root.
		e.GET("/debug/pprof/*name", func(c *gin.Context) {
			switch strings.TrimPrefix(c.Param("name"), "/") {
			case "cmdline":
				hpprof.Cmdline(c.Writer, c.Request)
			case "profile":
				hpprof.Profile(c.Writer, c.Request)
			case "symbol":
				hpprof.Symbol(c.Writer, c.Request)
			case "trace":
				hpprof.Trace(c.Writer, c.Request)
			default:
				hpprof.Index(c.Writer, c.Request)
			}
		})
	}
	return e
}

func (s *Service) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("monitor request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Addr reports the bound address while running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens and serves under a restart loop. It is a no-op when disabled
// or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return nil
	}
	if s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		return errors.New("monitor: non-loopback addr requires a token")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.srv
	// Monitoring is optional; its failures never cancel the app.
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "monitor"))))

	first := true
	s.sup.GoRestart("monitor.serve", func(c context.Context) error {
		l := ln
		if !first {
			var err error
			if l, err = net.Listen("tcp", s.Addr()); err != nil {
				return err
			}
		}
		first = false
		err := srv.Serve(l)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	s.log.Info("monitor started", logx.String("addr", s.addr), logx.Bool("token_set", s.cfg.Token != ""), logx.Bool("pprof", s.cfg.Pprof))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup, s.addr = nil, nil, ""
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	_ = sup.Stop(ctx)
	s.log.Info("monitor stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

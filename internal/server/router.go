package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rosechou/dipot/internal/metrics"
)

// Router provides embeddable HTTP handlers for observing a running suite.
// Endpoints:
//
//	GET {basePath}/status    slot occupancy and result counts
//	GET {basePath}/journal   every recorded id -> code word
//	GET {basePath}/metrics   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	board    *Board
	basePath string
}

func NewRouter(b *Board, basePath string) *Router {
	return &Router{board: b, basePath: sanitizeBase(basePath)}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimRight(bp, "/")
	if bp != "" && !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return bp
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/journal", r.handleJournal)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.board.Snapshot())
}

func (r *Router) handleJournal(c *gin.Context) {
	c.JSON(http.StatusOK, r.board.Journal())
}

// NewServer starts a standalone HTTP server on addr serving this router.
func NewServer(addr, basePath string, b *Board) *http.Server {
	r := NewRouter(b, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Package status exposes a small read-mostly HTTP surface: job statuses,
// dashboard stats, and a manual trigger endpoint for operators.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/internal/scheduler"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

type Server struct {
	orch  *scheduler.Orchestrator
	store ports.Store
	clock ports.Clock
	log   logx.Logger
	srv   *http.Server
}

func New(addr string, orch *scheduler.Orchestrator, store ports.Store, clock ports.Clock, log logx.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{orch: orch, store: store, clock: clock, log: log}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	api := r.Group("/api")
	{
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:name", s.getJob)
		api.POST("/jobs/:name/run", s.runJob)
		api.GET("/stats", s.stats)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks; run it in its own goroutine.
func (s *Server) Start() error {
	s.log.Info("status server listening", logx.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.clock.Now().UTC()})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.orch.Statuses()})
}

func (s *Server) getJob(c *gin.Context) {
	st, ok := s.orch.Status(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// runJob triggers a job out of schedule. An already-running job makes the
// trigger a no-op on the scheduler side; the 202 only acknowledges the
// request was dispatched.
func (s *Server) runJob(c *gin.Context) {
	name := c.Param("name")
	if err := s.orch.TriggerNow(name); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrUnknownJob) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("manual job trigger", logx.String("job", name), logx.String("remote", c.ClientIP()))
	c.JSON(http.StatusAccepted, gin.H{"job": name, "triggered": true})
}

func (s *Server) stats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	st, err := s.store.DashboardStats(ctx, s.clock.Now())
	if err != nil {
		s.log.Error("dashboard stats query failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_deals":   st.TotalDeals,
		"today_deals":   st.TodayDeals,
		"total_revenue": st.TotalRevenue,
		"average_ctr":   st.AverageCTR,
	})
}

package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bhandras/termhub/internal/api/middleware"
	"github.com/bhandras/termhub/internal/audit"
	"github.com/bhandras/termhub/internal/session"
	"github.com/gin-gonic/gin"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500

	snapshotTimeout = 2 * time.Second
)

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Sessions      int   `json:"sessions"`
	LiveTerminals int   `json:"liveTerminals"`
	LimitGlobal   int   `json:"limitGlobal"`
	LimitPerUser  int   `json:"limitPerUser"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// SessionView is one entry of GET /v1/sessions.
type SessionView struct {
	ID        string                 `json:"id"`
	Identity  string                 `json:"identity"`
	Terminals []session.TerminalInfo `json:"terminals"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Sessions:      s.registry.Len(),
		LiveTerminals: s.counter.Count(),
		LimitGlobal:   s.counter.Limit(),
		LimitPerUser:  s.cfg.LimitPerUser,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleSessions lists sessions and their terminals. Authenticated callers
// only see the session bound to their own identity.
func (s *Server) handleSessions(c *gin.Context) {
	userID, scoped := middleware.GetUserID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	views := make([]SessionView, 0)
	for _, sess := range s.registry.Sessions() {
		if scoped && sess.ID() != userID {
			continue
		}
		terminals, err := sess.Terminals(ctx)
		if err != nil {
			// Closed between listing and snapshot.
			continue
		}
		views = append(views, SessionView{
			ID:        sess.ID(),
			Identity:  sess.Identity().Kind().String(),
			Terminals: terminals,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// handleAudit lists recent terminal events. Authenticated callers only see
// events recorded for their own identity.
func (s *Server) handleAudit(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}

	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	var (
		events []audit.Event
		err    error
	)
	if userID, scoped := middleware.GetUserID(c); scoped {
		events, err = s.store.RecentForSession(c.Request.Context(), userID, limit)
	} else {
		events, err = s.store.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

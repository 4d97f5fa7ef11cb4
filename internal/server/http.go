package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/score"
)

const (
	snapshotTimeout = 2 * time.Second
	qrSize          = 256
)

func (s *Server) routes() http.Handler {
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	pprof.Register(e, "/debug/pprof")

	e.GET("/ws", gin.WrapH(s.ws))
	e.GET("/healthz", s.healthz)
	e.GET("/session", s.getSession)
	e.GET("/quizzes", s.listQuizzes)
	e.GET("/leaderboard/:session", s.getLeaderboard)
	e.GET("/results/:session", s.listResults)
	e.GET("/qr", s.joinQR)

	return e
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	if _, err := s.service.session.Snapshot(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSession(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.service.session.Snapshot(ctx)
	if err != nil {
		abort(c, errors.New(errors.CodeUnavailable, errors.WithMessagef("session is not running"), errors.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (s *Server) listQuizzes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"quizzes": s.service.catalog.List()})
}

func (s *Server) getLeaderboard(c *gin.Context) {
	if s.service.leaderboard == nil {
		abort(c, errors.New(errors.CodeUnavailable, errors.WithMessagef("leaderboard is not configured")))
		return
	}

	lb, err := s.service.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("session"),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, lb)
}

func (s *Server) listResults(c *gin.Context) {
	if s.service.score == nil {
		abort(c, errors.New(errors.CodeUnavailable, errors.WithMessagef("results archive is not configured")))
		return
	}

	results, err := s.service.score.ListResults(c.Request.Context(), score.ListResultsRequest{
		SessionID: c.Param("session"),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// joinQR renders the join link as a PNG. Without a configured public URL the
// link is derived from the request.
func (s *Server) joinQR(c *gin.Context) {
	url := s.c.HTTP.PublicURL
	if url == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
			scheme = p
		}
		url = fmt.Sprintf("%s://%s/", scheme, c.Request.Host)
	}

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		abort(c, err)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "server: request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"code": e.Code, "message": "internal error"})
		return
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

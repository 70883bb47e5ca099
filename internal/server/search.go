package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/internal/auth"
	"github.com/mohammad-safakhou/yurei/internal/orchestrator"
	"github.com/mohammad-safakhou/yurei/internal/ratelimit"
	"github.com/mohammad-safakhou/yurei/internal/stream"
	"github.com/mohammad-safakhou/yurei/internal/telemetry"
)

const (
	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"

	mimeNDJSON = "application/x-ndjson; charset=utf-8"
)

type searchBody struct {
	Messages []messageBody `json:"messages"`
	Domain   string        `json:"domain"`
}

// search answers with an NDJSON stream of frames. Everything that can
// reject the request happens before the status line is written.
func (s *Server) search(c echo.Context) error {
	var body searchBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	msgs, err := conversation(body.Messages)
	if err != nil {
		return err
	}
	domainID := s.deps.Domains.Resolve(body.Domain).ID
	if err := s.checkLimit(c); err != nil {
		s.deps.Metrics.SearchRequest(domainID, telemetry.OutcomeRejected)
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, mimeNDJSON)
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	reqID := res.Header().Get(echo.HeaderXRequestID)
	out := s.deps.Search.Run(c.Request().Context(), orchestrator.Request{
		ID:       reqID,
		Domain:   body.Domain,
		Messages: msgs,
	}, stream.NewWriter(res))

	entry := s.log.WithFields(logrus.Fields{
		"request_id": reqID,
		"domain":     out.Domain,
		"state":      out.State,
		"degraded":   out.Degraded,
	})
	if out.Err != nil {
		entry = entry.WithError(out.Err).WithField("failed_in", out.FailedIn)
	}
	entry.Info("search finished")
	return nil
}

// checkLimit counts the request against the caller's window. A limiter
// that cannot be reached lets the request through.
func (s *Server) checkLimit(c echo.Context) error {
	if s.deps.Limiter == nil {
		return nil
	}
	id, ok := auth.FromContext(c.Request().Context())
	if !ok {
		id = auth.Identity{Subject: c.RealIP(), Anonymous: true}
	}
	d, err := s.deps.Limiter.Allow(c.Request().Context(), id.Key())
	switch {
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		setLimitHeaders(c, d)
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded, try again later")
	case err != nil:
		s.log.WithError(err).Warn("rate limiter unavailable, allowing request")
		return nil
	}
	setLimitHeaders(c, d)
	return nil
}

func setLimitHeaders(c echo.Context, d ratelimit.Decision) {
	h := c.Response().Header()
	h.Set(headerLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(headerRemaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(headerReset, strconv.FormatInt(d.Reset.UnixMilli(), 10))
}

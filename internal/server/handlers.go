package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"

	"github.com/aitprotocol/logicnet-dashboard/internal/aggregator"
	"github.com/aitprotocol/logicnet-dashboard/internal/logging"
	"github.com/aitprotocol/logicnet-dashboard/internal/metrics"
	"github.com/aitprotocol/logicnet-dashboard/internal/session"
	"github.com/aitprotocol/logicnet-dashboard/internal/stats"
	"github.com/aitprotocol/logicnet-dashboard/internal/traces"
	"github.com/gin-gonic/gin"
)

const sessionKey = "logicnet.session"

// statusClientClosedRequest reports a render abandoned by its caller.
const statusClientClosedRequest = 499

var errUnknownValidator = errors.New("validator is not offered by this dashboard")

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

// selectValidator resolves the requested validator against the configured
// list. An empty request selects the default.
func (s *Server) selectValidator(requested string) (string, error) {
	if requested == "" {
		return s.cfg.DefaultValidator, nil
	}
	if !slices.Contains(s.cfg.ValidatorUIDs, requested) {
		return "", errUnknownValidator
	}
	return requested, nil
}

// view loads the session's snapshots and aggregates them for validator.
func (s *Server) view(ctx context.Context, sess *session.Session, validator string) (v *aggregator.View, err error) {
	ctx, span := traces.StartSpan(ctx, "dashboard.view", traces.Validator(validator))
	defer func() { traces.End(span, err) }()
	defer func() { metrics.RendersTotal.WithLabelValues(renderOutcome(err)).Inc() }()

	snaps, err := sess.Snapshots(ctx, s.fetcher)
	if err != nil {
		return nil, err
	}
	return s.aggregator.BuildView(snaps.Information, snaps.Statistics, validator)
}

func renderOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, aggregator.ErrValidatorNotFound):
		return "not_found"
	case isUpstreamError(err):
		return "upstream_error"
	default:
		return "error"
	}
}

func isUpstreamError(err error) bool {
	return errors.Is(err, stats.ErrNetwork) ||
		errors.Is(err, stats.ErrUnexpectedStatus) ||
		errors.Is(err, stats.ErrMalformedResponse) ||
		errors.Is(err, stats.ErrUpstreamUnavailable)
}

// errorResponse maps a render error to a status, code and user message.
func errorResponse(err error) (int, string, string) {
	switch {
	case errors.Is(err, errUnknownValidator):
		return http.StatusBadRequest, "unknown_validator", "Select one of the listed validators"
	case errors.Is(err, aggregator.ErrValidatorNotFound):
		return http.StatusNotFound, "validator_not_found", "The selected validator is not present in the current statistics"
	case errors.Is(err, stats.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable", "The statistics proxy is failing; requests are paused briefly"
	case isUpstreamError(err):
		return http.StatusBadGateway, "upstream_error", "Failed to load statistics from the validator proxy"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "request_canceled", "The request was canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout", "The statistics proxy took too long to answer"
	default:
		return http.StatusInternalServerError, "internal_error", "Failed to build the dashboard"
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status, code, message := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("render failed", "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

// -----------------------------------------------------------------------------
// Pages
// -----------------------------------------------------------------------------

func (s *Server) dashboardHandler(c *gin.Context) {
	validator, err := s.selectValidator(c.Query("validator"))
	if err != nil {
		s.renderError(c, s.cfg.DefaultValidator, err)
		return
	}

	v, err := s.view(c.Request.Context(), currentSession(c), validator)
	if err != nil {
		s.renderError(c, validator, err)
		return
	}

	s.render(c, http.StatusOK, "dashboard.html", newDashboardPage(s.cfg.ValidatorUIDs, v))
}

func (s *Server) renderError(c *gin.Context, selected string, err error) {
	status, code, message := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("render failed", "validator", selected, "error", err)
	}
	s.render(c, status, "error.html", errorPage{
		Validators: s.cfg.ValidatorUIDs,
		Selected:   selected,
		Status:     status,
		Code:       code,
		Message:    message,
	})
}

func (s *Server) resetSessionHandler(c *gin.Context) {
	sess := currentSession(c)
	s.sessions.Reset(sess.ID)
	logging.L(c.Request.Context()).Info("session snapshots reset")

	target := "/"
	if v := c.PostForm("validator"); v != "" {
		if _, err := s.selectValidator(v); err == nil {
			target += "?validator=" + url.QueryEscape(v)
		}
	}
	c.Redirect(http.StatusSeeOther, target)
}

// -----------------------------------------------------------------------------
// JSON API
// -----------------------------------------------------------------------------

// CategoryCount is one slice of the category distribution.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

func (s *Server) listValidators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"validators": s.cfg.ValidatorUIDs,
		"default":    s.cfg.DefaultValidator,
	})
}

// apiView resolves the :uid param and builds its view, writing the error
// response itself on failure.
func (s *Server) apiView(c *gin.Context) (*aggregator.View, bool) {
	validator, err := s.selectValidator(c.Param("uid"))
	if err != nil {
		s.abortWithError(c, err)
		return nil, false
	}
	v, err := s.view(c.Request.Context(), currentSession(c), validator)
	if err != nil {
		s.abortWithError(c, err)
		return nil, false
	}
	return v, true
}

func (s *Server) getOverview(c *gin.Context) {
	v, ok := s.apiView(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) getCategories(c *gin.Context) {
	v, ok := s.apiView(c)
	if !ok {
		return
	}
	counts := make([]CategoryCount, 0, len(v.Categories))
	for _, cat := range v.Categories {
		counts = append(counts, CategoryCount{Category: cat, Count: v.CategoryCounts[cat]})
	}
	c.JSON(http.StatusOK, gin.H{
		"validator":  v.Validator,
		"categories": counts,
		"total":      v.CategoryCounts.Total(),
	})
}

func (s *Server) getTimeline(c *gin.Context) {
	v, ok := s.apiView(c)
	if !ok {
		return
	}
	points := v.Timeline
	if points == nil {
		points = []aggregator.TimelinePoint{}
	}
	c.JSON(http.StatusOK, gin.H{
		"validator": v.Validator,
		"available": v.HasTimeline,
		"points":    points,
	})
}

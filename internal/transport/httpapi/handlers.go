package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"TopicPulse/internal/domain"
)

// CreateRequest is the body of POST /api/v1/jobs.
type CreateRequest struct {
	Text    string                `json:"text"`
	Session domain.SessionContext `json:"session"`
}

// ConfirmRequest is the body of POST /api/v1/jobs/:id/confirm.
type ConfirmRequest struct {
	Confirmed     *bool                 `json:"confirmed"`
	Modifications *domain.Modifications `json:"modifications,omitempty"`
}

// ArtifactUpdateRequest is the renderer callback body.
type ArtifactUpdateRequest struct {
	Status  domain.ArtifactStatus `json:"status"`
	Locator string                `json:"locator,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreate(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	res, err := s.jobs.Create(c.Request().Context(), req.Text, req.Session)
	if err != nil {
		s.logger.Warn("create job failed", "error", err)
		return toHTTPError(err)
	}
	if res.Job == nil {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleGet(c echo.Context) error {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleConfirm(c echo.Context) error {
	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Confirmed == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "confirmed field is required")
	}

	job, err := s.jobs.Confirm(c.Request().Context(), c.Param("id"), *req.Confirmed, req.Modifications)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancel(c echo.Context) error {
	job, err := s.jobs.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleArtifact(c echo.Context) error {
	var req ArtifactUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	h, err := s.jobs.UpdateArtifact(c.Request().Context(), c.Param("id"), c.Param("artifactId"), req.Status, req.Locator)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, h)
}

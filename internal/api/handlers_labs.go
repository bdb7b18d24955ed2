package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cewlabs/cew/models"
)

// handleHealthz reports backend mode and the active lab count.
func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"backend":     s.orch.BackendMode(),
		"active_labs": len(s.orch.ListActiveLabs()),
	})
}

// handleCreateLab activates a scenario: validates, materializes and returns
// the running lab.
func (s *Server) handleCreateLab(c echo.Context) error {
	var req models.ActivationRequest
	if err := c.Bind(&req); err != nil {
		return NewAPIError(http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.ScenarioID == "" {
		return NewAPIError(http.StatusBadRequest, "Invalid request body", "scenario_id is required")
	}

	lab, err := s.orch.CreateLab(c.Request().Context(), req)
	if err != nil {
		return fromCoreError(err)
	}
	return c.JSON(http.StatusCreated, lab)
}

// handleStopLab stops a lab and releases everything it owns.
func (s *Server) handleStopLab(c echo.Context) error {
	lab, err := s.orch.StopLab(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fromCoreError(err)
	}
	return c.JSON(http.StatusOK, lab)
}

// handleKillAll engages the kill-switch and returns the stopped lab ids.
func (s *Server) handleKillAll(c echo.Context) error {
	var req struct {
		Activator string `json:"activator"`
	}
	_ = c.Bind(&req) // activator is bookkeeping only

	stopped := s.orch.KillAll(c.Request().Context(), req.Activator)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stopped": stopped,
	})
}

func (s *Server) handleGetLab(c echo.Context) error {
	lab, err := s.orch.GetLab(c.Param("id"))
	if err != nil {
		return fromCoreError(err)
	}
	return c.JSON(http.StatusOK, lab)
}

func (s *Server) handleListLabs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.ListAllLabs())
}

func (s *Server) handleListActiveLabs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.ListActiveLabs())
}

func (s *Server) handleLabHealth(c echo.Context) error {
	health, err := s.orch.Supervisor().ContainerHealth(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fromCoreError(err)
	}
	return c.JSON(http.StatusOK, health)
}

func (s *Server) handleLabUsage(c echo.Context) error {
	usage, err := s.orch.Supervisor().ResourceUsage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fromCoreError(err)
	}
	return c.JSON(http.StatusOK, usage)
}

// handleRecoverLab restarts the lab's unhealthy containers.
func (s *Server) handleRecoverLab(c echo.Context) error {
	restarted, err := s.orch.RestartUnhealthy(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fromCoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"restarted": restarted,
	})
}

package treatment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicdata/internal/platform/apierr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/treatment-plans/:id/procedures", h.GetProcedures)
	api.PUT("/treatment-plans/:id/procedures", h.SaveProcedures)
	api.POST("/treatment-plans/:id/procedures/from-templates", h.ApplyTemplates)
	api.GET("/procedure-templates", h.ListTemplates)
	api.PUT("/procedure-templates", h.UpdateTemplates)
}

type proceduresResponse struct {
	Data          []Procedure `json:"data"`
	TotalCost     float64     `json:"total_cost"`
	TotalDuration int         `json:"total_duration"`
}

func newProceduresResponse(procs []Procedure) proceduresResponse {
	if procs == nil {
		procs = []Procedure{}
	}
	return proceduresResponse{Data: procs, TotalCost: TotalCost(procs), TotalDuration: TotalDuration(procs)}
}

func toHTTPError(err error) *echo.HTTPError {
	var be *BatchError
	switch {
	case errors.Is(err, ErrInvalid):
		return apierr.BadRequest(err.Error())
	case errors.As(err, &be):
		he := apierr.From(be.Err)
		return echo.NewHTTPError(he.Code, batchBody(be)).SetInternal(be)
	default:
		return apierr.From(err)
	}
}

func batchBody(be *BatchError) map[string]any {
	return map[string]any{
		"message":   be.Err.Error(),
		"applied":   be.Applied,
		"failed_id": be.FailedID,
	}
}

func (h *Handler) GetProcedures(c echo.Context) error {
	procs, err := h.svc.GetProcedures(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newProceduresResponse(procs))
}

func (h *Handler) SaveProcedures(c echo.Context) error {
	var procs []Procedure
	if err := c.Bind(&procs); err != nil {
		return apierr.BadRequest("body must be a JSON array of procedures")
	}
	saved, err := h.svc.SaveProcedures(c.Request().Context(), c.Param("id"), procs)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newProceduresResponse(saved))
}

type applyTemplatesRequest struct {
	TemplateIDs []string `json:"template_ids"`
}

func (h *Handler) ApplyTemplates(c echo.Context) error {
	var req applyTemplatesRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	if len(req.TemplateIDs) == 0 {
		return apierr.BadRequest("template_ids is required")
	}
	saved, err := h.svc.ApplyTemplates(c.Request().Context(), c.Param("id"), req.TemplateIDs)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newProceduresResponse(saved))
}

func (h *Handler) ListTemplates(c echo.Context) error {
	templates, err := h.svc.ListProcedureTemplates(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	if templates == nil {
		templates = []ProcedureTemplate{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": templates})
}

// UpdateTemplates applies the batch one template at a time. With
// ?atomic=true the batch is all-or-nothing.
func (h *Handler) UpdateTemplates(c echo.Context) error {
	var templates []ProcedureTemplate
	if err := c.Bind(&templates); err != nil {
		return apierr.BadRequest("body must be a JSON array of procedure templates")
	}

	atomic, _ := strconv.ParseBool(c.QueryParam("atomic"))
	var err error
	if atomic {
		err = h.svc.ResyncProcedureTemplates(c.Request().Context(), templates)
	} else {
		err = h.svc.UpdateProcedureTemplates(c.Request().Context(), templates)
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

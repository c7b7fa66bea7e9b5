package settings

import (
	"errors"
	"net/http"

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
	api.GET("/users/:id/settings", h.GetSettings)
	api.PUT("/users/:id/settings", h.UpdateSettings)
}

func toHTTPError(err error) *echo.HTTPError {
	if errors.Is(err, ErrInvalid) {
		return apierr.BadRequest(err.Error())
	}
	return apierr.From(err)
}

func (h *Handler) GetSettings(c echo.Context) error {
	us, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, us)
}

func (h *Handler) UpdateSettings(c echo.Context) error {
	var u Update
	if err := c.Bind(&u); err != nil {
		return apierr.BadRequest(err.Error())
	}
	us, err := h.svc.Update(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, us)
}

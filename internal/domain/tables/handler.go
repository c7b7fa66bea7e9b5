// Package tables serves the generic table operations over HTTP for an
// allow-list of tables.
package tables

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicdata/internal/platform/apierr"
	"github.com/ehr/clinicdata/internal/platform/store"
	"github.com/ehr/clinicdata/pkg/pagination"
)

// Store is the part of *store.Store the handler uses.
type Store interface {
	Fetch(ctx context.Context, table string, opts store.FetchOptions) ([]store.Record, error)
	GetByID(ctx context.Context, table string, id any, columns ...string) (store.Record, error)
	Create(ctx context.Context, table string, item store.Record) (store.Record, error)
	Update(ctx context.Context, table string, id any, updates store.Record) (store.Record, error)
	Delete(ctx context.Context, table string, id any) error
}

// Query parameters with a meaning of their own; every other parameter is an
// equality filter.
var reserved = map[string]bool{"select": true, "order": true, "limit": true, "offset": true}

type Handler struct {
	store   Store
	exposed map[string]bool
}

func NewHandler(s Store, exposed []string) *Handler {
	m := make(map[string]bool, len(exposed))
	for _, t := range exposed {
		m[t] = true
	}
	return &Handler{store: s, exposed: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/tables/:table", h.requireExposed)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) requireExposed(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.exposed[c.Param("table")] {
			return echo.NewHTTPError(http.StatusNotFound, "unknown table")
		}
		return next(c)
	}
}

func splitParam(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// List handles GET /tables/:table?select=a,b&order=name&status=active.
func (h *Handler) List(c echo.Context) error {
	page := pagination.FromContext(c)
	opts := store.FetchOptions{
		Columns: splitParam(c.QueryParam("select")),
		OrderBy: splitParam(c.QueryParam("order")),
		Limit:   page.Probe(),
		Offset:  uint64(page.Offset),
	}
	for key, values := range c.QueryParams() {
		if reserved[key] {
			continue
		}
		if len(values) != 1 {
			return apierr.BadRequest("filter " + key + " must be given once")
		}
		if opts.Filters == nil {
			opts.Filters = make(map[string]any)
		}
		opts.Filters[key] = store.FilterValue(values[0])
	}

	rows, err := h.store.Fetch(c.Request().Context(), c.Param("table"), opts)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rows, page))
}

func (h *Handler) Get(c echo.Context) error {
	rec, err := h.store.GetByID(c.Request().Context(), c.Param("table"), c.Param("id"),
		splitParam(c.QueryParam("select"))...)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func bindRecord(c echo.Context) (store.Record, error) {
	// Decode the body only; Bind would also copy path params into the map.
	var rec store.Record
	if err := c.Echo().JSONSerializer.Deserialize(c, &rec); err != nil || rec == nil {
		return nil, apierr.BadRequest("body must be a JSON object")
	}
	return rec, nil
}

func (h *Handler) Create(c echo.Context) error {
	rec, err := bindRecord(c)
	if err != nil {
		return err
	}
	created, err := h.store.Create(c.Request().Context(), c.Param("table"), rec)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Update(c echo.Context) error {
	rec, err := bindRecord(c)
	if err != nil {
		return err
	}
	delete(rec, store.IDColumn)
	updated, err := h.store.Update(c.Request().Context(), c.Param("table"), c.Param("id"), rec)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("table"), c.Param("id")); err != nil {
		return apierr.From(err)
	}
	return c.NoContent(http.StatusNoContent)
}

package concept

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/metadata-mapping/internal/domain/mapping"
	"github.com/ehr/metadata-mapping/internal/platform/auth"
	"github.com/ehr/metadata-mapping/pkg/pagination"
)

// Handler provides REST endpoints for the concept dictionary.
type Handler struct {
	svc *Service
}

// NewHandler creates a new concept handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers concept routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/concepts")
	write := api.Group("/concepts", auth.RequireRole("terminology-manager"))

	write.POST("", h.SaveConcept)
	read.GET("", h.ListConcepts)
	read.GET("/:mapping", h.GetConcept)
	write.POST("/:uuid/retire", h.RetireConcept)
	write.POST("/:uuid/unretire", h.UnretireConcept)
	write.DELETE("/:uuid", h.PurgeConcept)
}

func httpError(err error) error {
	if errors.Is(err, mapping.ErrInvalidArgument) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func (h *Handler) SaveConcept(c echo.Context) error {
	var concept Concept
	if err := c.Bind(&concept); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created := concept.ID == 0
	saved, err := h.svc.SaveConcept(c.Request().Context(), &concept)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, saved)
}

// ListConcepts returns a page of concepts ordered by id.
func (h *Handler) ListConcepts(c echo.Context) error {
	p := pagination.FromContext(c)
	concepts, err := h.svc.ListConcepts(c.Request().Context(), p.First, p.Max)
	if err != nil {
		return httpError(err)
	}
	if concepts == nil {
		concepts = []*Concept{}
	}
	return c.JSON(http.StatusOK, concepts)
}

// GetConcept resolves a concept by numeric id or "source:code" mapping
// string.
func (h *Handler) GetConcept(c echo.Context) error {
	concept, err := h.svc.GetConcept(c.Request().Context(), c.Param("mapping"))
	if err != nil {
		return httpError(err)
	}
	if concept == nil {
		return echo.NewHTTPError(http.StatusNotFound, "concept not found")
	}
	return c.JSON(http.StatusOK, concept)
}

func (h *Handler) lookup(c echo.Context) (*Concept, error) {
	concept, err := h.svc.GetConceptByUUID(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return nil, httpError(err)
	}
	if concept == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "concept not found")
	}
	return concept, nil
}

func (h *Handler) RetireConcept(c echo.Context) error {
	concept, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	retired, err := h.svc.RetireConcept(c.Request().Context(), concept, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, retired)
}

func (h *Handler) UnretireConcept(c echo.Context) error {
	concept, err := h.lookup(c)
	if err != nil {
		return err
	}
	unretired, err := h.svc.UnretireConcept(c.Request().Context(), concept)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, unretired)
}

func (h *Handler) PurgeConcept(c echo.Context) error {
	concept, err := h.lookup(c)
	if err != nil {
		return err
	}
	if err := h.svc.PurgeConcept(c.Request().Context(), concept); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

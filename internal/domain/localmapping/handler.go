package localmapping

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/metadata-mapping/internal/domain/concept"
	"github.com/ehr/metadata-mapping/internal/domain/mapping"
	"github.com/ehr/metadata-mapping/internal/platform/auth"
)

// Handler exposes local mapping administration endpoints.
type Handler struct {
	sync *Synchronizer
}

// NewHandler creates a new local mapping handler.
func NewHandler(sync *Synchronizer) *Handler {
	return &Handler{sync: sync}
}

// RegisterRoutes registers local mapping routes on the API group. All of
// them mutate or expose configuration, so the whole group is restricted.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/metadatamapping/localmappings", auth.RequireRole("terminology-manager"))

	g.GET("/source", h.GetLocalSource)
	g.POST("/source", h.CreateLocalSource)
	g.PUT("/source", h.SetLocalSource)

	g.GET("/subscribed-sources", h.GetSubscribedSources)
	g.POST("/subscribed-sources", h.AddSubscribedSource)
	g.DELETE("/subscribed-sources/:uuid", h.RemoveSubscribedSource)

	g.POST("/publish", h.Publish)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, mapping.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLocalSourceNotConfigured):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

// GetLocalSource returns the configured local concept source.
func (h *Handler) GetLocalSource(c echo.Context) error {
	source, err := h.sync.LocalSource(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, source)
}

// CreateLocalSource creates the local source from the implementation id
// and records it as configured. An absent id falls back to the server's
// configured implementation id.
func (h *Handler) CreateLocalSource(c echo.Context) error {
	var req struct {
		ImplementationID string `json:"implementationId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	source, err := h.sync.CreateLocalSourceFromImplementationID(c.Request().Context(), req.ImplementationID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, source)
}

// SetLocalSource points the local source at an existing concept source.
func (h *Handler) SetLocalSource(c echo.Context) error {
	var req struct {
		SourceUUID string `json:"sourceUuid"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	source, err := h.lookupSource(c, req.SourceUUID)
	if err != nil {
		return err
	}
	if err := h.sync.SetLocalSource(ctx, source); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, source)
}

// GetSubscribedSources lists the subscribed concept sources.
func (h *Handler) GetSubscribedSources(c echo.Context) error {
	sources, err := h.sync.SubscribedSources(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if sources == nil {
		sources = []*concept.Source{}
	}
	return c.JSON(http.StatusOK, sources)
}

// AddSubscribedSource subscribes to a concept source.
func (h *Handler) AddSubscribedSource(c echo.Context) error {
	var req struct {
		SourceUUID string `json:"sourceUuid"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	source, err := h.lookupSource(c, req.SourceUUID)
	if err != nil {
		return err
	}
	added, err := h.sync.AddSubscribedSource(c.Request().Context(), source)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]bool{"added": added})
}

// RemoveSubscribedSource unsubscribes from a concept source.
func (h *Handler) RemoveSubscribedSource(c echo.Context) error {
	source, err := h.lookupSource(c, c.Param("uuid"))
	if err != nil {
		return err
	}
	removed, err := h.sync.RemoveSubscribedSource(c.Request().Context(), source)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"removed": removed})
}

// Publish runs the backfill over all concepts. Large installations can
// take a while, the endpoint blocks until done.
func (h *Handler) Publish(c echo.Context) error {
	published, err := h.sync.PublishAll(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"published": published})
}

func (h *Handler) lookupSource(c echo.Context, sourceUUID string) (*concept.Source, error) {
	if sourceUUID == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "sourceUuid is required")
	}
	source, err := h.sync.concepts.GetSourceByUUID(c.Request().Context(), sourceUUID)
	if err != nil {
		return nil, httpError(err)
	}
	if source == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "concept source not found")
	}
	return source, nil
}

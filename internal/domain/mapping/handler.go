package mapping

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/metadata-mapping/internal/platform/auth"
	"github.com/ehr/metadata-mapping/internal/platform/metadata"
	"github.com/ehr/metadata-mapping/pkg/pagination"
)

// Handler provides REST endpoints for the mapping engine.
type Handler struct {
	svc *Service
}

// NewHandler creates a new mapping handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers mapping routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/metadatamapping")
	write := api.Group("/metadatamapping", auth.RequireRole("terminology-manager"))

	write.POST("/sources", h.SaveSource)
	read.GET("/sources", h.SearchSources)
	read.GET("/sources/:uuid", h.GetSource)
	write.POST("/sources/:uuid/retire", h.RetireSource)

	write.POST("/termmappings", h.SaveTermMapping)
	write.POST("/termmappings/batch", h.SaveTermMappings)
	read.GET("/termmappings", h.SearchTermMappings)
	read.GET("/termmappings/:uuid", h.GetTermMapping)
	write.POST("/termmappings/:uuid/retire", h.RetireTermMapping)

	read.GET("/items/:class", h.GetMetadataItems)
	read.GET("/items/:class/:source/:code", h.GetMetadataItem)
	write.POST("/map", h.MapMetadataItem)
	write.POST("/mapitems", h.MapMetadataItems)

	write.POST("/sets", h.SaveSet)
	read.GET("/sets", h.SearchSets)
	read.GET("/sets/by-mapping/:source/:code", h.GetSetByMapping)
	read.GET("/sets/:uuid", h.GetSet)
	write.POST("/sets/:uuid/retire", h.RetireSet)
	read.GET("/sets/:uuid/members", h.GetSetMembers)
	read.GET("/sets/:uuid/items/:class", h.GetSetItems)

	write.POST("/setmembers", h.SaveSetMember)
	write.POST("/setmembers/batch", h.SaveSetMembers)
	read.GET("/setmembers/:uuid", h.GetSetMember)
	write.POST("/setmembers/:uuid/retire", h.RetireSetMember)
}

// httpError translates engine errors into HTTP responses.
func httpError(err error) error {
	var validationErr *ValidationError
	var mismatchErr *metadata.TypeMismatchError
	var unknownErr *metadata.UnknownClassError
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.As(err, &validationErr), errors.As(err, &unknownErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &mismatchErr):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func pageParams(c echo.Context) (first, max int) {
	p := pagination.FromContext(c)
	return p.First, p.Max
}

func retiredMode(c echo.Context) RetiredMode {
	if c.QueryParam("includeRetired") == "true" {
		return IncludeRetired
	}
	return OnlyActive
}

type retireRequest struct {
	Reason string `json:"reason"`
}

// -- Sources --

func (h *Handler) SaveSource(c echo.Context) error {
	var source Source
	if err := c.Bind(&source); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created := source.ID == 0
	saved, err := h.svc.SaveSource(c.Request().Context(), &source)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, saved)
}

func (h *Handler) GetSource(c echo.Context) error {
	source, err := h.svc.GetSourceByUUID(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if source == nil {
		return echo.NewHTTPError(http.StatusNotFound, "source not found")
	}
	return c.JSON(http.StatusOK, source)
}

func (h *Handler) SearchSources(c echo.Context) error {
	first, max := pageParams(c)
	criteria := NewSourceCriteriaBuilder().
		Name(c.QueryParam("name")).
		IncludeAll(c.QueryParam("includeAll") == "true").
		Page(first, max).
		Build()
	sources, err := h.svc.SearchSources(c.Request().Context(), criteria)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sources)
}

func (h *Handler) RetireSource(c echo.Context) error {
	ctx := c.Request().Context()
	source, err := h.svc.GetSourceByUUID(ctx, c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if source == nil {
		return echo.NewHTTPError(http.StatusNotFound, "source not found")
	}
	var req retireRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	retired, err := h.svc.RetireSource(ctx, source, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, retired)
}

// -- Term mappings --

func (h *Handler) SaveTermMapping(c echo.Context) error {
	var tm TermMapping
	if err := c.Bind(&tm); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	saved, err := h.svc.SaveTermMapping(c.Request().Context(), &tm)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) SaveTermMappings(c echo.Context) error {
	var mappings []*TermMapping
	if err := c.Bind(&mappings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	saved, err := h.svc.SaveTermMappings(c.Request().Context(), mappings)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) GetTermMapping(c echo.Context) error {
	tm, err := h.svc.GetTermMapping(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if tm == nil {
		return echo.NewHTTPError(http.StatusNotFound, "term mapping not found")
	}
	return c.JSON(http.StatusOK, tm)
}

func (h *Handler) SearchTermMappings(c echo.Context) error {
	first, max := pageParams(c)
	builder := NewTermMappingCriteriaBuilder().
		SourceUUID(c.QueryParam("sourceUuid")).
		SourceName(c.QueryParam("sourceName")).
		Code(c.QueryParam("code")).
		Name(c.QueryParam("name")).
		IncludeAll(c.QueryParam("includeAll") == "true").
		Page(first, max)
	if class, uuid := c.QueryParam("referentClass"), c.QueryParam("referentUuid"); class != "" && uuid != "" {
		builder.Referent(metadata.Reference{Class: class, UUID: uuid})
	}
	mappings, err := h.svc.SearchTermMappings(c.Request().Context(), builder.Build())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, mappings)
}

func (h *Handler) RetireTermMapping(c echo.Context) error {
	ctx := c.Request().Context()
	tm, err := h.svc.GetTermMapping(ctx, c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if tm == nil {
		return echo.NewHTTPError(http.StatusNotFound, "term mapping not found")
	}
	var req retireRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	retired, err := h.svc.RetireTermMapping(ctx, tm, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, retired)
}

// -- Resolution --

func (h *Handler) GetMetadataItem(c echo.Context) error {
	item, err := h.svc.GetMetadataItem(c.Request().Context(),
		c.Param("class"), c.Param("source"), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no item mapped at this code")
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) GetMetadataItems(c echo.Context) error {
	sourceName := c.QueryParam("source")
	items, err := h.svc.GetMetadataItems(c.Request().Context(), c.Param("class"), sourceName)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type mapItemRequest struct {
	Referent   metadata.Reference `json:"referent"`
	SourceName string             `json:"sourceName"`
	Code       string             `json:"code"`
}

func (h *Handler) MapMetadataItem(c echo.Context) error {
	var req mapItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tm, err := h.svc.MapMetadataItem(c.Request().Context(), req.Referent, req.SourceName, req.Code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tm)
}

type mapItemsRequest struct {
	Referents  []metadata.Reference `json:"referents"`
	SourceName string               `json:"sourceName"`
	Code       string               `json:"code"`
}

func (h *Handler) MapMetadataItems(c echo.Context) error {
	var req mapItemsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tm, err := h.svc.MapMetadataItems(c.Request().Context(), req.Referents, req.SourceName, req.Code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tm)
}

// -- Sets --

func (h *Handler) SaveSet(c echo.Context) error {
	var set Set
	if err := c.Bind(&set); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	saved, err := h.svc.SaveSet(c.Request().Context(), &set)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) GetSet(c echo.Context) error {
	set, err := h.svc.GetSet(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if set == nil {
		return echo.NewHTTPError(http.StatusNotFound, "set not found")
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) GetSetByMapping(c echo.Context) error {
	set, err := h.svc.GetMetadataSet(c.Request().Context(), c.Param("source"), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	if set == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no set mapped at this code")
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) SearchSets(c echo.Context) error {
	first, max := pageParams(c)
	criteria := NewSetCriteriaBuilder().
		IncludeAll(c.QueryParam("includeAll") == "true").
		Page(first, max).
		Build()
	sets, err := h.svc.SearchSets(c.Request().Context(), criteria)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sets)
}

func (h *Handler) RetireSet(c echo.Context) error {
	ctx := c.Request().Context()
	set, err := h.svc.GetSet(ctx, c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if set == nil {
		return echo.NewHTTPError(http.StatusNotFound, "set not found")
	}
	var req retireRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	retired, err := h.svc.RetireSet(ctx, set, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, retired)
}

func (h *Handler) GetSetMembers(c echo.Context) error {
	first, max := pageParams(c)
	members, err := h.svc.GetMetadataSetMembers(c.Request().Context(),
		c.Param("uuid"), retiredMode(c), first, max)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, members)
}

func (h *Handler) GetSetItems(c echo.Context) error {
	first, max := pageParams(c)
	items, err := h.svc.GetMetadataSetItems(c.Request().Context(),
		c.Param("class"), c.Param("uuid"), retiredMode(c), first, max)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Set members --

func (h *Handler) SaveSetMember(c echo.Context) error {
	var member SetMember
	if err := c.Bind(&member); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	saved, err := h.svc.SaveSetMember(c.Request().Context(), &member)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) SaveSetMembers(c echo.Context) error {
	var members []*SetMember
	if err := c.Bind(&members); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	saved, err := h.svc.SaveSetMembers(c.Request().Context(), members)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) GetSetMember(c echo.Context) error {
	member, err := h.svc.GetSetMember(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if member == nil {
		return echo.NewHTTPError(http.StatusNotFound, "set member not found")
	}
	return c.JSON(http.StatusOK, member)
}

func (h *Handler) RetireSetMember(c echo.Context) error {
	ctx := c.Request().Context()
	member, err := h.svc.GetSetMember(ctx, c.Param("uuid"))
	if err != nil {
		return httpError(err)
	}
	if member == nil {
		return echo.NewHTTPError(http.StatusNotFound, "set member not found")
	}
	var req retireRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	retired, err := h.svc.RetireSetMember(ctx, member, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, retired)
}

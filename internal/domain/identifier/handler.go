package identifier

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

// MaxMintPerRequest caps the count accepted by the mint endpoint.
const MaxMintPerRequest = 10000

// TxRunner runs fn inside a database session; db.Sessions satisfies it.
type TxRunner interface {
	Run(ctx context.Context, action db.Action, fn func(ctx context.Context) error) error
}

type Handler struct {
	svc    *Service
	runner TxRunner
}

func NewHandler(svc *Service, runner TxRunner) *Handler {
	return &Handler{svc: svc, runner: runner}
}

func (h *Handler) RegisterRoutes(read, write *echo.Group) {
	read.GET("/identifier/:id", h.Lookup)
	read.GET("/identifier-sets", h.ListSets)
	read.GET("/identifier-sets/:name", h.GetSet)
	read.GET("/identifier-sets/:name/batches", h.ListBatches)
	read.GET("/identifier-set-uses", h.ListSetUses)

	write.PUT("/identifier-sets/:name", h.PutSet)
	write.POST("/identifier-sets/:name/identifiers", h.Mint)
}

func (h *Handler) Lookup(c echo.Context) error {
	id, err := h.svc.Lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, id)
}

func (h *Handler) ListSets(c echo.Context) error {
	sets, err := h.svc.ListSets(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if sets == nil {
		sets = []*Set{}
	}
	return c.JSON(http.StatusOK, sets)
}

func (h *Handler) GetSet(c echo.Context) error {
	set, err := h.svc.GetSet(c.Request().Context(), c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) ListBatches(c echo.Context) error {
	batches, err := h.svc.ListBatches(c.Request().Context(), c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	if batches == nil {
		batches = []*Batch{}
	}
	return c.JSON(http.StatusOK, batches)
}

func (h *Handler) ListSetUses(c echo.Context) error {
	uses, err := h.svc.ListSetUses(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if uses == nil {
		uses = []*SetUse{}
	}
	return c.JSON(http.StatusOK, uses)
}

type putSetRequest struct {
	Use         string  `json:"use"`
	Description *string `json:"description"`
}

// PutSet creates or updates a set; 201 when a row was written, 200 when the
// set already matched.
func (h *Handler) PutSet(c echo.Context) error {
	var req putSetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	set := &Set{Name: c.Param("name"), Use: req.Use, Description: req.Description}

	var changed bool
	err := h.runner.Run(c.Request().Context(), db.ActionCommit, func(ctx context.Context) error {
		var err error
		changed, err = h.svc.MakeSet(ctx, set)
		return err
	})
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	return c.JSON(status, set)
}

func (h *Handler) Mint(c echo.Context) error {
	count := 1
	if raw := c.QueryParam("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxMintPerRequest {
			return echo.NewHTTPError(http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(MaxMintPerRequest))
		}
		count = n
	}

	var minted []*Identifier
	err := h.runner.Run(c.Request().Context(), db.ActionCommit, func(ctx context.Context) error {
		var err error
		minted, err = h.svc.Mint(ctx, c.Param("name"), count)
		return err
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, minted)
}

func httpError(err error) error {
	var tooMany *TooManyFailuresError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &tooMany):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrSetExists), errors.Is(err, ErrSetUseExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownUse), errors.Is(err, ErrInvalidCount), errors.Is(err, ErrInvalidSet):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case db.IsInsufficientPrivilege(err):
		return echo.NewHTTPError(http.StatusForbidden, "insufficient privilege")
	}
	return err
}

package receiving

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes adds POST /receiving/<table> for every receiving table.
func (h *Handler) RegisterRoutes(write *echo.Group) {
	for _, t := range Tables {
		write.POST("/receiving/"+t.Slug(), h.Receive(t))
	}
}

// Receive stores the request body verbatim and answers 204.
func (h *Handler) Receive(table Table) echo.HandlerFunc {
	accepted := map[string]bool{echo.MIMEApplicationJSON: true}
	if table == FHIR {
		accepted["application/fhir+json"] = true
	}

	return func(c echo.Context) error {
		mediaType, _, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
		if err != nil || !accepted[mediaType] {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, "expected a JSON document")
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			// The body limit middleware surfaces as a read error.
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		if _, err := h.svc.Receive(c.Request().Context(), table, body); err != nil {
			var bad *BadDocumentError
			switch {
			case errors.As(err, &bad):
				return echo.NewHTTPError(http.StatusBadRequest, bad.Error())
			case db.IsInsufficientPrivilege(err):
				return echo.NewHTTPError(http.StatusForbidden, "insufficient privilege")
			case db.IsDataError(err):
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

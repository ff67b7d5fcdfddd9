// Package restserver exposes a remote.Transport over REST JSON, mirroring
// the requests remote.HTTP sends.
package restserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/remote"
)

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	t      remote.Transport
	logger *slog.Logger
}

func NewHandler(t remote.Transport, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{t: t, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/:resource", h.handleList)
	e.POST("/:resource", h.handleCreate)
	e.GET("/:resource/:id", h.handleRead)
	e.PUT("/:resource/:id", h.handleUpdate)
	e.DELETE("/:resource/:id", h.handleDelete)
}

// New returns an echo instance serving t.
func New(t remote.Transport, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	NewHandler(t, logger).RegisterRoutes(e)
	return e
}

func (h *Handler) handleList(c echo.Context) error {
	query := make(map[string]any)
	for k, vs := range c.QueryParams() {
		switch len(vs) {
		case 0:
		case 1:
			query[k] = parseValue(vs[0])
		default:
			// Repeated keys match any of their values.
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = parseValue(v)
			}
			query[k] = list
		}
	}
	if len(query) == 0 {
		query = nil
	}
	return h.do(c, http.StatusOK, remote.Request{Method: remote.Read, URL: c.Param("resource"), Query: query})
}

func (h *Handler) handleCreate(c echo.Context) error {
	body, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return h.do(c, http.StatusCreated, remote.Request{Method: remote.Create, URL: c.Param("resource"), Body: body})
}

func (h *Handler) handleRead(c echo.Context) error {
	return h.do(c, http.StatusOK, remote.Request{Method: remote.Read, URL: url(c)})
}

func (h *Handler) handleUpdate(c echo.Context) error {
	body, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return h.do(c, http.StatusOK, remote.Request{Method: remote.Update, URL: url(c), Body: body})
}

func (h *Handler) handleDelete(c echo.Context) error {
	return h.do(c, http.StatusNoContent, remote.Request{Method: remote.Delete, URL: url(c)})
}

func (h *Handler) do(c echo.Context, status int, req remote.Request) error {
	ctx := c.Request().Context()

	raw, err := h.t.Do(ctx, req)
	if errors.Is(err, remote.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "request failed",
			slog.String("method", string(req.Method)),
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	if len(raw) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSONBlob(status, raw)
}

func url(c echo.Context) string {
	return c.Param("resource") + "/" + c.Param("id")
}

func bind(c echo.Context) (map[string]any, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err //nolint:wrapcheck // reported to the client
	}
	doc, err := model.Decode(raw)
	if err != nil {
		return nil, err //nolint:wrapcheck // reported to the client
	}
	attrs, ok := model.AsAttributes(doc)
	if !ok {
		return nil, fmt.Errorf("body is %T, want an object", doc)
	}
	return attrs, nil
}

// parseValue reads integers as int64, other numbers as float64 and the
// literals true and false as bools. Everything else stays a string.
func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

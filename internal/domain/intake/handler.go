package intake

import (
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/labflow/intake/internal/domain/order"
	"github.com/labflow/intake/internal/platform/webhook"
)

const maxSourceLen = 64

type Handler struct {
	svc          *Service
	secretHeader string
}

func NewHandler(svc *Service, secretHeader string) *Handler {
	return &Handler{svc: svc, secretHeader: secretHeader}
}

// RegisterRoutes mounts the public webhook endpoint. Senders authenticate
// with the shared secret, not a bearer token.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook/:source", h.Receive)
}

type receiveResponse struct {
	ID             string `json:"id"`
	OrderNumber    string `json:"orderNumber"`
	TestsMatched   int    `json:"testsMatched"`
	TestsSubmitted int    `json:"testsSubmitted"`
	TotalAmount    string `json:"totalAmount"`
	Message        string `json:"message"`
}

func (h *Handler) Receive(c echo.Context) error {
	req := Request{
		Source:       sourceName(c.Param("source")),
		ContentType:  c.Request().Header.Get(echo.HeaderContentType),
		HeaderSecret: c.Request().Header.Get(h.secretHeader),
		QuerySecret:  c.QueryParam(webhook.SecretQueryParam),
	}

	var err error
	req.Body, err = io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge:
			return toHTTPError(h.svc.Reject(c.Request().Context(), req, KindPayloadTooLarge, "request body too large"))
		case he != nil:
			return he
		default:
			return toHTTPError(h.svc.Reject(c.Request().Context(), req, KindMalformedPayload, "could not read request body"))
		}
	}

	res, err := h.svc.Process(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data": receiveResponse{
			ID:             res.OrderID.String(),
			OrderNumber:    res.OrderNumber,
			TestsMatched:   res.TestsMatched,
			TestsSubmitted: res.TestsSubmitted,
			TotalAmount:    order.FormatAmount(res.TotalAmount),
			Message:        res.Message(),
		},
	})
}

func toHTTPError(err error) error {
	var ie *Error
	if errors.As(err, &ie) {
		return echo.NewHTTPError(ie.Kind.HTTPStatus(), ie.Message)
	}
	return err
}

// sourceName makes the path segment storable and cuts it to maxSourceLen
// bytes on a rune boundary.
func sourceName(raw string) string {
	s := webhook.TextSafe(raw)
	if len(s) <= maxSourceLen {
		return s
	}
	n := maxSourceLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

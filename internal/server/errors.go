package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/iamvkosarev/groq-chat/internal/model"
	"github.com/iamvkosarev/groq-chat/internal/usecase"
	"github.com/labstack/echo/v4"
)

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error string `json:"error"`
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{Status: http.StatusBadRequest, Message: "request body is required"}
		}
		return requestError{Status: http.StatusBadRequest, Message: fmt.Sprintf("invalid JSON payload: %v", err)}
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{Status: http.StatusBadRequest, Message: "request body must contain a single JSON object"}
	}
	return nil
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, errorBody{Error: reqErr.Message})
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, errorBody{Error: fmt.Sprint(he.Message)})
		return
	}

	_ = c.JSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

// toHTTPError maps usecase errors onto statuses. Upstream detail is logged,
// never returned.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	switch {
	case errors.Is(err, model.ErrValidation):
		return requestError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, model.ErrNotFound):
		return requestError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, model.ErrConfiguration):
		slog.Error("configuration error", "err", err)
		return requestError{Status: http.StatusInternalServerError, Message: usecase.ConfigurationErrorMessage}
	case errors.Is(err, model.ErrUpstream):
		slog.Error("upstream error", "err", err)
		return requestError{Status: http.StatusBadGateway, Message: "upstream provider error"}
	default:
		slog.Error("internal error", "err", err)
		return requestError{Status: http.StatusInternalServerError, Message: "internal server error"}
	}
}

// assistantFailure answers a chat route the way the chat UI expects: a 500
// whose body is an assistant message it can render.
func assistantFailure(c echo.Context, err error, mode usecase.RouteMode) error {
	if errors.Is(err, model.ErrValidation) {
		return toHTTPError(err)
	}
	slog.Error("chat request failed", "path", c.Path(), "err", err)
	return c.JSON(
		http.StatusInternalServerError,
		model.NewTextMessage(model.RoleAssistant, usecase.FailureText(err, mode)),
	)
}

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/iamvkosarev/groq-chat/internal/model"
	"github.com/iamvkosarev/groq-chat/internal/usecase"
	"github.com/labstack/echo/v4"
)

type chatRequest struct {
	Messages []model.Message `json:"messages"`
	Model    string          `json:"model"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (s *Server) handleListModels(c echo.Context) error {
	category := c.QueryParam("category")
	if category == "" {
		return c.JSON(http.StatusOK, s.Models.ListModels())
	}
	return c.JSON(http.StatusOK, s.Models.ModelsByCategory(model.ModelCategory(category)))
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Model) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "model is required"}
	}

	reply, decision, err := s.Chat.Complete(c.Request().Context(), req.Messages, req.Model)
	if err != nil {
		return assistantFailure(c, err, decision.Mode)
	}
	setRouteHeaders(c, decision)
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) handleChatImage(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	reply, err := s.Chat.AnalyzeImage(c.Request().Context(), req.Messages)
	if err != nil {
		return assistantFailure(c, err, usecase.RouteModeVision)
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) handleTranscribe(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return requestError{Status: http.StatusBadRequest, Message: "No audio file provided"}
	}
	f, err := fileHeader.Open()
	if err != nil {
		return toHTTPError(fmt.Errorf("failed to open audio %s: %w", fileHeader.Filename, err))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return toHTTPError(fmt.Errorf("failed to read audio %s: %w", fileHeader.Filename, err))
	}

	text, err := s.Chat.Transcribe(
		c.Request().Context(),
		model.MediaFile{
			Name: fileHeader.Filename,
			MIME: fileHeader.Header.Get(echo.HeaderContentType),
			Data: data,
		},
		c.FormValue("model"),
	)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return toHTTPError(err)
		}
		slog.Error("transcription failed", "file", fileHeader.Filename, "err", err)
		return c.JSON(
			http.StatusInternalServerError,
			errorBody{Error: usecase.FailureText(err, usecase.RouteModeTranscription)},
		)
	}
	return c.JSON(http.StatusOK, transcriptionResponse{Text: text})
}

func (s *Server) handleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return requestError{Status: http.StatusBadRequest, Message: "No file uploaded"}
	}
	f, err := fileHeader.Open()
	if err != nil {
		slog.Error("failed to open upload", "file", fileHeader.Filename, "err", err)
		return requestError{Status: http.StatusInternalServerError, Message: "Failed to upload file"}
	}
	defer f.Close()

	path, err := s.Uploads.Save(c.Request().Context(), fileHeader.Filename, f)
	if err != nil {
		slog.Error("failed to save upload", "file", fileHeader.Filename, "err", err)
		return requestError{Status: http.StatusInternalServerError, Message: "Failed to upload file"}
	}
	return c.JSON(http.StatusOK, uploadResponse{URL: s.publicURL(c, path)})
}

func (s *Server) publicURL(c echo.Context, path string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + path
	}
	return c.Scheme() + "://" + c.Request().Host + path
}

func setRouteHeaders(c echo.Context, decision usecase.RouteDecision) {
	c.Response().Header().Set(EffectiveModelHeader, decision.Effective.ID)
	c.Response().Header().Set(OverriddenHeader, strconv.FormatBool(decision.Overridden))
}

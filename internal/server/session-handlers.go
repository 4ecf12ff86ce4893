package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/iamvkosarev/groq-chat/internal/model"
	"github.com/iamvkosarev/groq-chat/internal/usecase"
	"github.com/labstack/echo/v4"
)

type modelRequest struct {
	Model string `json:"model"`
}

type sendRequest struct {
	Content jsonContent `json:"content"`
}

func (s *Server) aiChat(c echo.Context) (*usecase.AiChatUsecase, error) {
	aiChat, err := s.Sessions.ForClient(c.Request().Context(), c.Request().Header.Get(ClientIDHeader))
	if err != nil {
		return nil, toHTTPError(err)
	}
	return aiChat, nil
}

func (s *Server) handleListSessions(c echo.Context) error {
	aiChat, err := s.aiChat(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, aiChat.ListSessions())
}

func (s *Server) handleCreateSession(c echo.Context) error {
	aiChat, err := s.aiChat(c)
	if err != nil {
		return err
	}
	var req modelRequest
	if err = decodeRequestBody(c, &req); err != nil {
		return err
	}
	session, err := aiChat.CreateSession(c.Request().Context(), req.Model)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) handleActiveSession(c echo.Context) error {
	aiChat, err := s.aiChat(c)
	if err != nil {
		return err
	}
	session, err := aiChat.ActiveSession()
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleSwitchModel(c echo.Context) error {
	aiChat, err := s.aiChat(c)
	if err != nil {
		return err
	}
	var req modelRequest
	if err = decodeRequestBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Model) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "model is required"}
	}
	session, err := aiChat.SwitchModel(c.Request().Context(), req.Model)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleSendMessage(c echo.Context) error {
	aiChat, err := s.aiChat(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err = decodeRequestBody(c, &req); err != nil {
		return err
	}
	result, err := s.Chat.Send(c.Request().Context(), aiChat, req.Content.Content)
	if err != nil {
		return toHTTPError(err)
	}
	setRouteHeaders(c, result.Route)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleLoadSession(c echo.Context) error {
	aiChat, err := s.aiChat(c)
	if err != nil {
		return err
	}
	sessionID, err := parseSessionID(c)
	if err != nil {
		return err
	}
	session, err := aiChat.LoadSession(sessionID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	aiChat, err := s.aiChat(c)
	if err != nil {
		return err
	}
	sessionID, err := parseSessionID(c)
	if err != nil {
		return err
	}
	if err = aiChat.DeleteSession(c.Request().Context(), sessionID); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseSessionID(c echo.Context) (uuid.UUID, error) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid session id %q", c.Param("id")),
		}
	}
	return sessionID, nil
}

// jsonContent decodes a message content value in either wire shape.
type jsonContent struct {
	model.Content
}

func (j *jsonContent) UnmarshalJSON(data []byte) error {
	content, err := model.UnmarshalContent(data)
	if err != nil {
		return err
	}
	j.Content = content
	return nil
}

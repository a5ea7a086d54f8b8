package handler_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/handler"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/repository"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/service"
)

func newFollowUpApp(svc *stubFollowUpService) *fiber.App {
	app := fiber.New()
	handler.NewFollowUpHandler(svc, validator.New(), zerolog.Nop()).Register(app.Group("/api/v1/jobs"))
	return app
}

func postFollowUp(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/followup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestFollowUpHandlerAnswers(t *testing.T) {
	history := []models.ChatTurn{
		{Role: models.ChatRoleUser, Content: "Why did I lose points?"},
		{Role: models.ChatRoleAI, Content: "The explanation of chlorophyll was missing."},
	}
	svc := &stubFollowUpService{answer: dto.FollowUpResponse{Answer: history[1].Content, History: history}}
	app := newFollowUpApp(svc)

	resp := postFollowUp(t, app, `{"student_id":" ali ","question_id":"1","question":"Why did I lose points?"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool                 `json:"success"`
		Data    dto.FollowUpResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.True(t, payload.Success)
	require.Equal(t, history[1].Content, payload.Data.Answer)
	require.Len(t, payload.Data.History, 2)
	require.Equal(t, models.ResultKey{JobID: "job-1", StudentID: "ali", QuestionID: "1"}, svc.lastKey)
	require.Equal(t, "Why did I lose points?", svc.question)
}

func TestFollowUpHandlerValidation(t *testing.T) {
	app := newFollowUpApp(&stubFollowUpService{})

	resp := postFollowUp(t, app, `{"student_id":"ali","question":"hi"}`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var payload struct {
		Details map[string]string `json:"details"`
	}
	decodeResponse(t, resp, &payload)
	require.Equal(t, "required", payload.Details["questionid"])

	resp = postFollowUp(t, app, `not json`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestFollowUpHandlerMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown result", repository.ErrResultNotFound, fiber.StatusNotFound},
		{"blank question", service.ErrEmptyQuestion, fiber.StatusBadRequest},
		{"assistant down", fmt.Errorf("%w: timeout", service.ErrAssistantUnavailable), fiber.StatusBadGateway},
		{"store down", errors.New("save history: redis down"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newFollowUpApp(&stubFollowUpService{err: tc.err})
			resp := postFollowUp(t, app, `{"student_id":"ali","question_id":"1","question":"why?"}`)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestFollowUpHandlerHistory(t *testing.T) {
	svc := &stubFollowUpService{}
	app := newFollowUpApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/followup?student_id=ali&question_id=2", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Data []models.ChatTurn `json:"data"`
		Meta map[string]int    `json:"meta"`
	}
	decodeResponse(t, resp, &payload)
	require.NotNil(t, payload.Data)
	require.Empty(t, payload.Data)
	require.Equal(t, 0, payload.Meta["count"])
	require.Equal(t, "2", svc.lastKey.QuestionID)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/followup", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

package handler_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/extraction"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/handler"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

type uploadFile struct {
	field, name, content string
}

func multipartBody(t *testing.T, files ...uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(file.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func newJobApp(svc *stubJobService, exporter *stubExporter, maxBytes int64) *fiber.App {
	app := fiber.New()
	jobs := app.Group("/api/v1/jobs")
	handler.NewJobHandler(svc, exporter, maxBytes, zerolog.New(io.Discard)).Register(jobs)
	return app
}

func TestJobHandlerCreateAcceptsUpload(t *testing.T) {
	svc := newStubJobService("job-1")
	app := newJobApp(svc, &stubExporter{}, 0)

	body, contentType := multipartBody(t,
		uploadFile{"answer_key", "key.txt", "Question 1 (10 points)\nExpected: photosynthesis"},
		uploadFile{"student_sheets", "ali.txt", "1. photosynthesis"},
		uploadFile{"student_sheets", "ayse.txt", "1. respiration"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var payload struct {
		Success bool            `json:"success"`
		Data    dto.JobResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.True(t, payload.Success)
	require.Equal(t, "job-1", payload.Data.JobID)
	require.Equal(t, "starting", payload.Data.Status)
	require.Equal(t, "/api/v1/jobs/job-1/stream", payload.Data.StreamURL)
	require.Equal(t, "/api/v1/jobs/job-1/ws", payload.Data.WebSocketURL)

	require.Equal(t, "key.txt", svc.answerKey.Name)
	require.Len(t, svc.sheets, 2)
	require.Equal(t, "ali.txt", svc.sheets[0].Name)
	require.Equal(t, "1. respiration", string(svc.sheets[1].Content))
}

func TestJobHandlerCreateRejectsIncompleteUploads(t *testing.T) {
	svc := newStubJobService("job-1")
	app := newJobApp(svc, &stubExporter{}, 16)

	cases := []struct {
		name   string
		files  []uploadFile
		status int
	}{
		{"missing answer key", []uploadFile{{"student_sheets", "a.txt", "1. x"}}, fiber.StatusBadRequest},
		{"missing sheets", []uploadFile{{"answer_key", "k.txt", "Q1"}}, fiber.StatusBadRequest},
		{"too large", []uploadFile{{"answer_key", "k.txt", "this answer key is far too long"}, {"student_sheets", "a.txt", "1. x"}}, fiber.StatusRequestEntityTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tc.files...)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
			req.Header.Set("Content-Type", contentType)

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestJobHandlerMapsServiceErrors(t *testing.T) {
	svc := newStubJobService("job-1")
	svc.createErr = fmt.Errorf("student sheet %q: %w", "a.txt", extraction.ErrEmptyDocument)
	app := newJobApp(svc, &stubExporter{}, 0)

	body, contentType := multipartBody(t,
		uploadFile{"answer_key", "k.txt", "Q1"},
		uploadFile{"student_sheets", "a.txt", "1. x"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/unknown", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/unknown/results", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	svc.resultsErr = errors.New("redis down")
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/results", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestJobHandlerGetAndResults(t *testing.T) {
	svc := newStubJobService("job-1")
	svc.job.Status = models.JobStatusCompleted
	svc.job.TotalQuestions = 1
	svc.job.StudentCount = 1
	svc.results = []models.GradingResult{{
		JobID:           "job-1",
		StudentID:       "ali",
		QuestionID:      "1",
		ScoringProposal: models.ScoringProposal{Score: 7, MaxScore: 10},
		VerifierStatus:  models.VerifierStatus{Valid: true, Issues: []string{}},
	}}
	app := newJobApp(svc, &stubExporter{}, 0)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var status struct {
		Data dto.JobResponse `json:"data"`
	}
	decodeResponse(t, resp, &status)
	require.Equal(t, "completed", status.Data.Status)
	require.Equal(t, 1, status.Data.StudentCount)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/results", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var results struct {
		Data dto.JobResultsResponse `json:"data"`
		Meta map[string]int         `json:"meta"`
	}
	decodeResponse(t, resp, &results)
	require.Equal(t, 1, results.Meta["count"])
	require.Equal(t, "completed", results.Data.Status)
	require.Len(t, results.Data.Results, 1)
	require.Equal(t, 7.0, results.Data.Results[0].Score)
}

func TestJobHandlerExport(t *testing.T) {
	svc := newStubJobService("job-1")
	app := newJobApp(svc, &stubExporter{content: []byte("PK-xlsx")}, 0)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/export", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	require.Contains(t, resp.Header.Get("Content-Disposition"), "grading-job-1.xlsx")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "PK-xlsx", string(body))
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/extraction"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/service"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ResultExporter renders the results of a job as a spreadsheet.
type ResultExporter interface {
	ExportResults(ctx context.Context, jobID string) ([]byte, error)
}

// JobHandler exposes job submission, status, results and export endpoints.
type JobHandler struct {
	service  service.JobService
	exporter ResultExporter
	maxBytes int64
	logger   zerolog.Logger
}

// NewJobHandler constructs a job handler. maxBytes caps every uploaded file; zero disables the cap.
func NewJobHandler(service service.JobService, exporter ResultExporter, maxBytes int64, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		service:  service,
		exporter: exporter,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "job_handler").Logger(),
	}
}

// Register binds the job routes.
func (h *JobHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Get("/:id/results", h.results)
	router.Get("/:id/export", h.export)
}

func (h *JobHandler) create(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form expected")
	}

	keyFiles := form.File["answer_key"]
	if len(keyFiles) != 1 {
		return utils.Fail(c, fiber.StatusBadRequest, "exactly one answer key is required", fiber.Map{"answer_key": "required"})
	}
	sheetFiles := form.File["student_sheets"]
	if len(sheetFiles) == 0 {
		return utils.Fail(c, fiber.StatusBadRequest, service.ErrNoStudentSheets.Error(), fiber.Map{"student_sheets": "required"})
	}

	answerKey, err := h.readDocument(keyFiles[0])
	if err != nil {
		return h.uploadError(c, err)
	}

	sheets := make([]models.Document, 0, len(sheetFiles))
	for _, file := range sheetFiles {
		doc, err := h.readDocument(file)
		if err != nil {
			return h.uploadError(c, err)
		}
		sheets = append(sheets, doc)
	}

	job, err := h.service.CreateJob(requestContext(c), answerKey, sheets)
	if err != nil {
		return h.jobError(c, err, "failed to create grading job")
	}

	requestLogger(h.logger, c).Info().Str("job_id", job.ID).Int("sheets", len(sheets)).Msg("grading job submitted")

	response := dto.NewJobResponse(job)
	base := strings.TrimSuffix(c.Path(), "/") + "/" + job.ID
	response.StreamURL = base + "/stream"
	response.WebSocketURL = base + "/ws"
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "grading job accepted", response)
}

func (h *JobHandler) get(c *fiber.Ctx) error {
	job, err := h.service.GetJob(requestContext(c), jobIDParam(c))
	if err != nil {
		return h.jobError(c, err, "failed to load job")
	}
	return utils.SendSuccess(c, "job status", dto.NewJobResponse(job))
}

func (h *JobHandler) results(c *fiber.Ctx) error {
	jobID := jobIDParam(c)
	ctx := requestContext(c)

	results, err := h.service.ListResults(ctx, jobID)
	if err != nil {
		return h.jobError(c, err, "failed to list results")
	}
	if results == nil {
		results = []models.GradingResult{}
	}

	status := ""
	if job, err := h.service.GetJob(ctx, jobID); err == nil {
		status = string(job.Status)
	}

	payload := dto.JobResultsResponse{JobID: jobID, Status: status, Count: len(results), Results: results}
	return utils.OK(c, payload, "job results", fiber.Map{"count": len(results)})
}

func (h *JobHandler) export(c *fiber.Ctx) error {
	jobID := jobIDParam(c)
	content, err := h.exporter.ExportResults(requestContext(c), jobID)
	if err != nil {
		return h.jobError(c, err, "failed to export results")
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "grading-"+jobID+".xlsx"))
	return c.Status(fiber.StatusOK).Send(content)
}

var errUploadTooLarge = errors.New("uploaded file is too large")

func (h *JobHandler) readDocument(file *multipart.FileHeader) (models.Document, error) {
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		return models.Document{}, fmt.Errorf("%s: %w", file.Filename, errUploadTooLarge)
	}

	src, err := file.Open()
	if err != nil {
		return models.Document{}, fmt.Errorf("open %s: %w", file.Filename, err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return models.Document{}, fmt.Errorf("read %s: %w", file.Filename, err)
	}
	return models.Document{Name: file.Filename, Content: content}, nil
}

func (h *JobHandler) uploadError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errUploadTooLarge) {
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	}
	requestLogger(h.logger, c).Error().Err(err).Msg("failed to read upload")
	return utils.SendError(c, fiber.StatusBadRequest, "failed to read uploaded file")
}

func (h *JobHandler) jobError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, extraction.ErrEmptyDocument),
		errors.Is(err, extraction.ErrUnsupportedDocument),
		errors.Is(err, service.ErrNoStudentSheets):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(message)
		return utils.SendError(c, fiber.StatusInternalServerError, message)
	}
}

package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/repository"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/service"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/utils"
)

// FollowUpHandler answers questions about graded answers.
type FollowUpHandler struct {
	service   service.FollowUpService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewFollowUpHandler(service service.FollowUpService, validator *validator.Validate, logger zerolog.Logger) *FollowUpHandler {
	return &FollowUpHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "followup_handler").Logger(),
	}
}

// Register binds the follow-up routes under the jobs group. Extra handlers such as a rate limiter
// run before the question endpoint.
func (h *FollowUpHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	askChain := append(append([]fiber.Handler{}, guards...), h.ask)
	router.Post("/:id/followup", askChain...)
	router.Get("/:id/followup", h.history)
}

func (h *FollowUpHandler) ask(c *fiber.Ctx) error {
	var req dto.FollowUpRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.QuestionID = strings.TrimSpace(req.QuestionID)

	if err := h.validator.Struct(req); err != nil {
		if isValidationError(err) {
			return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
		}
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	key := models.ResultKey{JobID: jobIDParam(c), StudentID: req.StudentID, QuestionID: req.QuestionID}
	response, err := h.service.Ask(requestContext(c), key, req.Question)
	if err != nil {
		return h.followUpError(c, key, err)
	}

	return utils.SendSuccess(c, "follow-up answered", response)
}

func (h *FollowUpHandler) history(c *fiber.Ctx) error {
	key := models.ResultKey{
		JobID:      jobIDParam(c),
		StudentID:  strings.TrimSpace(c.Query("student_id")),
		QuestionID: strings.TrimSpace(c.Query("question_id")),
	}
	if key.StudentID == "" || key.QuestionID == "" {
		return utils.Fail(c, fiber.StatusBadRequest, "student_id and question_id are required", fiber.Map{
			"student_id":  "required",
			"question_id": "required",
		})
	}

	turns, err := h.service.History(requestContext(c), key)
	if err != nil {
		return h.followUpError(c, key, err)
	}
	if turns == nil {
		turns = []models.ChatTurn{}
	}

	return utils.OK(c, turns, "follow-up history", fiber.Map{"count": len(turns)})
}

func (h *FollowUpHandler) followUpError(c *fiber.Ctx, key models.ResultKey, err error) error {
	switch {
	case errors.Is(err, repository.ErrResultNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrEmptyQuestion):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAssistantUnavailable):
		requestLogger(h.logger, c).Warn().Err(err).Str("key", key.String()).Msg("follow-up assistant failed")
		return utils.SendError(c, fiber.StatusBadGateway, "assistant is unavailable, try again")
	default:
		requestLogger(h.logger, c).Error().Err(err).Str("key", key.String()).Msg("follow-up failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "follow-up failed")
	}
}

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/apperr"
	"github.com/phamtuthu/bitrix-call-relay/internal/processor"
)

// CallEventHandler handles the Bitrix24 telephony webhook
type CallEventHandler struct {
	Processor *processor.Processor
	Logger    *zap.Logger
}

// NewCallEventHandler creates a new call event handler with dependencies
func NewCallEventHandler(proc *processor.Processor, logger *zap.Logger) *CallEventHandler {
	return &CallEventHandler{
		Processor: proc,
		Logger:    logger,
	}
}

// callEventRequest mirrors the notification body Bitrix sends on call
// completion. Only CALL_ID is consumed; the rest of data is ignored.
type callEventRequest struct {
	Data struct {
		CallID string `json:"CALL_ID" form:"CALL_ID"`
	} `json:"data" form:"data"`
}

// HandleCallEvent handles POST /bx24-event-handler. The response is sent only
// after this specific event finishes processing: the handler parks on the
// event's result channel while the worker drains the queue in FIFO order.
func (h *CallEventHandler) HandleCallEvent(c *fiber.Ctx) error {
	if len(c.Body()) == 0 {
		h.Logger.Warn("Rejected call event with empty body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request: Request body is empty.",
		})
	}

	var req callEventRequest
	if err := c.BodyParser(&req); err != nil {
		h.Logger.Warn("Failed to parse call event body",
			zap.Error(err),
		)
	}

	if req.Data.CallID == "" {
		h.Logger.Warn("Rejected call event without CALL_ID")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request: Missing CALL_ID.",
		})
	}

	event, err := h.Processor.Submit(req.Data.CallID)
	if err != nil {
		return h.respondError(c, err)
	}

	if err := event.Wait(); err != nil {
		return h.respondError(c, err)
	}

	return c.SendString("Call data processed successfully.")
}

func (h *CallEventHandler) respondError(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if status == fiber.StatusBadRequest {
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(status).SendString(err.Error())
}

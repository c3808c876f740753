package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/pkg/response"
)

type AgentHandler struct {
	orchestrator *orchestrator.Orchestrator
	validator    *validator.Validate
}

func NewAgentHandler(o *orchestrator.Orchestrator, v *validator.Validate) *AgentHandler {
	return &AgentHandler{
		orchestrator: o,
		validator:    v,
	}
}

// Chat handles POST /api/agent/chat. The response is an NDJSON stream of
// model.StreamEvent lines ending with exactly one "plan" event.
func (h *AgentHandler) Chat(c *fiber.Ctx) error {
	var req model.AgentChatRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	// fiber.Ctx is recycled once the handler returns
	message := req.Message
	history := req.History

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		enc := json.NewEncoder(w)
		emit := func(ev model.StreamEvent) {
			err := enc.Encode(ev)
			if err == nil {
				err = w.Flush()
			}
			if err != nil {
				log.Printf("[Agent Chat] Client gone during run %s: %v", ev.RunID, err)
				cancel()
			}
		}

		h.orchestrator.RunWithHistory(ctx, message, history, emit)
	})

	return nil
}

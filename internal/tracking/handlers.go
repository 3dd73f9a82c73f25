package tracking

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
)

type sessionView struct {
	Phase   Phase            `json:"phase"`
	Session *SessionSnapshot `json:"session,omitempty"`
	Summary *Summary         `json:"summary,omitempty"`
}

type recoveryView struct {
	Phase    Phase             `json:"phase"`
	Decision *RecoveryDecision `json:"decision,omitempty"`
}

type endView struct {
	Session FinishedSession `json:"session"`
	Warning string          `json:"warning,omitempty"`
}

func RegisterRoutes(r fiber.Router, e *Engine) {
	r.Get("/", func(c *fiber.Ctx) error {
		view := sessionView{Phase: e.Phase()}
		if snap, ok := e.Snapshot(); ok {
			view.Session = &snap
			summary := Summarize(snap, e.now())
			view.Summary = &summary
		}
		return c.JSON(view)
	})

	r.Get("/recovery", func(c *fiber.Ctx) error {
		view := recoveryView{Phase: e.Phase()}
		if d, ok := e.RecoveryDecision(); ok {
			view.Decision = &d
		}
		return c.JSON(view)
	})

	r.Post("/recover", func(c *fiber.Ctx) error {
		d, err := e.Recover(c.Context())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(d)
	})

	r.Post("/start", func(c *fiber.Ctx) error {
		var req StartOptions
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		snap, err := e.Start(c.Context(), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(snap)
	})

	r.Post("/fixes", func(c *fiber.Ctx) error {
		body := bytes.TrimSpace(c.Body())
		if len(body) > 0 && body[0] == '[' {
			var fixes []GeoFix
			if err := json.Unmarshal(body, &fixes); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			results := make([]IngestResult, 0, len(fixes))
			for _, fix := range fixes {
				res, err := e.Ingest(c.Context(), fix)
				if err != nil {
					return httpError(err)
				}
				results = append(results, res)
			}
			return c.JSON(results)
		}

		var fix GeoFix
		if err := json.Unmarshal(body, &fix); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := e.Ingest(c.Context(), fix)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(res)
	})

	r.Post("/interrupted", func(c *fiber.Ctx) error {
		if err := e.MarkInterrupted(c.Context()); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/prompt/ack", func(c *fiber.Ctx) error {
		if err := e.AcknowledgeEndPrompt(); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/end", func(c *fiber.Ctx) error {
		finished, err := e.End(c.Context())
		if err != nil {
			if finished.ID == "" {
				return httpError(err)
			}
			// Recorded, but the checkpoint could not be cleared.
			return c.JSON(endView{Session: finished, Warning: err.Error()})
		}
		return c.JSON(endView{Session: finished})
	})

	r.Post("/discard", func(c *fiber.Ctx) error {
		if err := e.Discard(c.Context()); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/continue", func(c *fiber.Ctx) error {
		snap, err := e.Continue(c.Context())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(snap)
	})
}

// httpError maps engine errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidStart):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoActiveSession):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrRecoveryPending),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrNotResumable),
		errors.Is(err, ErrCorruptCheckpoint):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrPersistenceWrite):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrRecordingFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

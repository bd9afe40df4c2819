package v1

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/andreyxaxa/Event-Queue/internal/controller/restapi/v1/request"
	"github.com/andreyxaxa/Event-Queue/internal/controller/restapi/v1/response"
	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// @Summary  	Enqueue event
// @Description Stores a pending event for the worker pool
// @Tags 		events
// @Accept 		json
// @Produce 	json
// @Param 		request body request.CreateEvent true "Event"
// @Success 	201 {object} response.EventCreated
// @Failure 	400 {object} response.Error "Malformed body or invalid event"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/events [post]
func (r *V1) createEvent(ctx *fiber.Ctx) error {
	var body request.CreateEvent

	// 1. decode
	if err := ctx.BodyParser(&body); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	// 2. validate fields
	if err := r.validate.Struct(body); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, validationMessage(err))
	}

	// 3. store
	id, err := r.queue.Insert(ctx.UserContext(), body.EventType, body.Payload)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidEvent) {
			return errorResponse(ctx, http.StatusBadRequest, err.Error())
		}
		r.logger.Error(err, "restapi - v1 - createEvent")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.Status(http.StatusCreated).JSON(response.EventCreated{
		ID:     id,
		Status: string(entity.Pending),
	})
}

// @Summary 	Get event
// @Tags 		events
// @Produce 	json
// @Param 		id path int true "Event ID"
// @Success 	200 {object} response.Event
// @Failure 	400 {object} response.Error "Invalid ID"
// @Failure 	404 {object} response.Error "Event not found"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/events/{id} [get]
func (r *V1) getEvent(ctx *fiber.Ctx) error {
	id, err := strconv.ParseInt(ctx.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	ev, err := r.queue.Get(ctx.UserContext(), id)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return errorResponse(ctx, http.StatusNotFound, "event not found")
		}
		r.logger.Error(err, "restapi - v1 - getEvent")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.JSON(response.NewEvent(ev))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", jsonName(fe.Field()))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", jsonName(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", jsonName(fe.Field()))
	}
}

func jsonName(field string) string {
	switch field {
	case "EventType":
		return "event_type"
	case "Payload":
		return "payload"
	default:
		return field
	}
}

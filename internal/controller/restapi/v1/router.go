package v1

import (
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

func NewEventRoutes(apiV1Group fiber.Router, q usecase.Queue, p PoolView, l logger.Interface) {
	r := &V1{
		queue:    q,
		pool:     p,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   l,
	}

	{
		apiV1Group.Post("/events", r.createEvent)
		apiV1Group.Get("/events/:id", r.getEvent)
		apiV1Group.Get("/queue/stats", r.queueStats)
		apiV1Group.Get("/pool/stats", r.poolStats)
	}
}

package v1

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// @Summary 	Queue statistics
// @Description Event counts by status plus processing events whose lease expired
// @Tags 		stats
// @Produce 	json
// @Success 	200 {object} map[string]int64
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/queue/stats [get]
func (r *V1) queueStats(ctx *fiber.Ctx) error {
	stats, err := r.queue.Stats(ctx.UserContext())
	if err != nil {
		r.logger.Error(err, "restapi - v1 - queueStats")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.JSON(stats.AsMap())
}

// @Summary 	Worker pool statistics
// @Tags 		stats
// @Produce 	json
// @Success 	200 {object} entity.PoolStats
// @Router 		/v1/pool/stats [get]
func (r *V1) poolStats(ctx *fiber.Ctx) error {
	if r.pool == nil {
		return errorResponse(ctx, http.StatusNotFound, "worker pool is not running in this process")
	}

	return ctx.JSON(r.pool.Stats())
}

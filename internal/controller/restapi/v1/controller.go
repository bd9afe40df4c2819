package v1

import (
	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/go-playground/validator/v10"
)

type PoolView interface {
	Stats() entity.PoolStats
	HealthCheck() bool
}

type V1 struct {
	queue    usecase.Queue
	pool     PoolView
	validate *validator.Validate
	logger   logger.Interface
}

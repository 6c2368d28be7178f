package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/dto"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

// JobPublisher appends jobs to the jobs stream.
type JobPublisher interface {
	Enqueue(ctx context.Context, job entity.EmailJob) (string, error)
}

// TypeCatalog reports which email types have templates.
type TypeCatalog interface {
	Supports(emailType string) bool
	Types() []string
}

// HealthChecker probes the email transport.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

type EmailController struct {
	publisher JobPublisher
	catalog   TypeCatalog
	health    HealthChecker
	log       logrus.FieldLogger
}

// NewEmailController constructs the HTTP email controller.
func NewEmailController(publisher JobPublisher, catalog TypeCatalog, health HealthChecker, log logrus.FieldLogger) *EmailController {
	return &EmailController{publisher: publisher, catalog: catalog, health: health, log: log}
}

// QueueEmail validates and enqueues an email job.
func (c *EmailController) QueueEmail(ctx echo.Context) error {
	req, err := dto.FromEchoContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.Validate(c.catalog.Supports); err != nil {
		if errors.Is(err, dto.ErrUnknownEmailType) {
			return ctx.JSON(http.StatusBadRequest, map[string]any{"error": err.Error(), "supported_types": c.catalog.Types()})
		}
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	job := req.ToJob()
	entryID, err := c.publisher.Enqueue(ctx.Request().Context(), job)
	if err != nil {
		c.log.WithError(err).WithField("job_id", job.ID).Error("Failed to enqueue email job")
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "failed to queue email"})
	}

	return ctx.JSON(http.StatusAccepted, dto.QueueEmailResponse{ID: job.ID, EntryID: entryID})
}

// Health reports whether the email transport is reachable.
func (c *EmailController) Health(ctx echo.Context) error {
	if !c.health.HealthCheck(ctx.Request().Context()) {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

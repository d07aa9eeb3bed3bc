package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/controller/restapi/v1/response"
	"github.com/simpix/formalization/pkg/types/errs"
)

// @Summary  	Get job
// @Description Returns one queued job with its attempt state
// @Tags 		jobs
// @Produce 	json
// @Param 		id path string true "Job ID(uuid)"
// @Success 	200 {object} response.Job
// @Failure 	400 {object} response.Error "Invalid ID"
// @Failure 	404 {object} response.Error "Job not found"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/jobs/{id} [get]
func (r *V1) getJob(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	job, err := r.jobs.Get(ctx.UserContext(), id)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return errorResponse(ctx, http.StatusNotFound, "job not found")
		}
		r.logger.Error(err, "restapi - v1 - getJob")

		return internalError(ctx)
	}

	resp := response.Job{
		JobID:    job.ID.String(),
		Type:     string(job.Type),
		Status:   string(job.Status),
		Attempts: job.Attempts,
	}
	if !job.NextRunAt.IsZero() {
		resp.NextRunAt = job.NextRunAt.Format(time.RFC3339)
	}
	if job.LastError != nil {
		resp.LastError = *job.LastError
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

// @Summary  	Job counts by status
// @Description Queue depth per job status, for dashboards and alerting
// @Tags 		jobs
// @Produce 	json
// @Success 	200 {object} response.JobCounts
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/jobs/counts [get]
func (r *V1) jobCounts(ctx *fiber.Ctx) error {
	counts, err := r.jobs.Counts(ctx.UserContext())
	if err != nil {
		r.logger.Error(err, "restapi - v1 - jobCounts")

		return internalError(ctx)
	}

	resp := response.JobCounts{Counts: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

// Package jobs runs charge requests that arrive on a message queue and
// publishes their results.
package jobs

import (
	"context"
	"time"

	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/domain/result"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

// Source names this service in published envelopes.
const Source = "chargeassign-worker"

// Charger is the part of charging.Service a job needs.
type Charger interface {
	Charge(ctx context.Context, req charging.Request) (*result.Solution, error)
	Defaults() charging.Options
}

// Job outcomes recorded in metrics.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusRetry     = "retry"
	statusMalformed = "malformed"
)

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics records job outcomes and durations on m.
func WithMetrics(m *prometheus.ChargeMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTimeout bounds each job attempt.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// Handler charges queued jobs. Jobs that fail for a reason retrying cannot
// change get a failed result; transient failures are returned so the
// consumer retries them.
type Handler struct {
	charger     Charger
	publisher   kafka.Publisher
	resultTopic string
	timeout     time.Duration
	metrics     *prometheus.ChargeMetrics
	logger      logging.Logger
}

// NewHandler returns a Handler that charges requests with charger and
// publishes each result to resultTopic.
func NewHandler(charger Charger, publisher kafka.Publisher, resultTopic string, logger logging.Logger, opts ...Option) *Handler {
	h := &Handler{
		charger:     charger,
		publisher:   publisher,
		resultTopic: resultTopic,
		logger:      logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle implements kafka.MessageHandler.
func (h *Handler) Handle(ctx context.Context, msg *kafka.Message) (err error) {
	start := time.Now()
	status := statusSucceeded
	defer func() {
		if h.metrics != nil {
			prometheus.RecordJob(h.metrics, status, time.Since(start))
		}
	}()

	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		status = statusMalformed
		return kafka.Permanent(err)
	}
	var job charge.Job
	if err := env.DecodePayload(&job); err != nil {
		status = statusMalformed
		return kafka.Permanent(err)
	}
	if job.JobID == "" {
		job.JobID = env.EventID
	}
	log := h.logger.With(logging.String("job_id", job.JobID), logging.Int64("offset", msg.Offset))

	req, err := charging.RequestFromWire(&job.Request, h.charger.Defaults())
	if err != nil {
		status = statusFailed
		log.Warn("Rejected charge job", logging.Err(err))
		return h.publish(ctx, env, failed(job.JobID, err))
	}

	cctx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	sol, err := h.charger.Charge(cctx, req)
	if err != nil {
		if ctx.Err() != nil || retryable(err) {
			status = statusRetry
			log.Warn("Charge job will be retried", logging.Err(err))
			return err
		}
		status = statusFailed
		log.Info("Charge job failed", logging.String("code", errors.GetCode(err).String()))
		return h.publish(ctx, env, failed(job.JobID, err))
	}

	resp, err := charging.ResponseToWire(sol)
	if err != nil {
		status = statusFailed
		return h.publish(ctx, env, failed(job.JobID, err))
	}
	log.Debug("Charge job succeeded",
		logging.Mode(string(sol.Stats.Mode)),
		logging.Shell(sol.Stats.Shell),
		logging.Duration("elapsed", time.Since(start)))
	if err := h.publish(ctx, env, &charge.JobResult{JobID: job.JobID, Status: charge.JobSucceeded, Result: resp}); err != nil {
		status = statusRetry
		return err
	}
	return nil
}

// OnRetry counts consumer retries; pass it as kafka.RetryConfig.OnRetry.
func (h *Handler) OnRetry(msg *kafka.Message, attempt int, err error) {
	if h.metrics != nil {
		h.metrics.JobRetriesTotal.WithLabelValues().Inc()
	}
	h.logger.Debug("Retrying charge job",
		logging.Int64("offset", msg.Offset),
		logging.Int("attempt", attempt),
		logging.Err(err))
}

func (h *Handler) publish(ctx context.Context, req *kafka.EventEnvelope, res *charge.JobResult) error {
	eventType := kafka.EventChargeCompleted
	if res.Status == charge.JobFailed {
		eventType = kafka.EventChargeFailed
	}
	env, err := kafka.NewEventEnvelope(eventType, Source, res)
	if err != nil {
		return kafka.Permanent(err)
	}
	env.TraceID = req.TraceID
	env.Metadata = map[string]string{"request_event_id": req.EventID}
	msg, err := env.ToMessage(h.resultTopic, res.JobID)
	if err != nil {
		return kafka.Permanent(err)
	}
	return h.publisher.Publish(ctx, msg)
}

func failed(jobID string, err error) *charge.JobResult {
	return &charge.JobResult{JobID: jobID, Status: charge.JobFailed, Error: charging.ErrorToWire(err)}
}

// retryable reports failures caused by the environment rather than the job.
func retryable(err error) bool {
	switch errors.GetCode(err) {
	case errors.ErrCodeRepositoryUnavailable,
		errors.CodeTimeout,
		errors.ErrCodeServiceUnavailable,
		errors.ErrCodeCacheError,
		errors.ErrCodeStorageError,
		errors.ErrCodeMessageQueueError:
		return true
	}
	return false
}

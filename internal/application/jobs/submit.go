package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/turtacn/ChargeAssign/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

// Submit enqueues req on topic and returns the new job id. The id keys the
// message, so a job's request and result land on matching partitions.
func Submit(ctx context.Context, pub kafka.Publisher, topic, source string, req charge.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", errors.InvalidParam("invalid charge request").WithDetail(err.Error())
	}
	job := charge.Job{JobID: uuid.NewString(), Request: req}
	env, err := kafka.NewEventEnvelope(kafka.EventChargeRequested, source, job)
	if err != nil {
		return "", err
	}
	msg, err := env.ToMessage(topic, job.JobID)
	if err != nil {
		return "", err
	}
	if err := pub.Publish(ctx, msg); err != nil {
		return "", err
	}
	return job.JobID, nil
}

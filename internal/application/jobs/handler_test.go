package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ChargeAssign/internal/testutil"
	"github.com/turtacn/ChargeAssign/internal/testutil/chargetest"
	apperrors "github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

const resultTopic = "charge.results"

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*kafka.ProducerMessage
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg *kafka.ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

// consumed turns a published message into the form a consumer hands over.
func consumed(pm *kafka.ProducerMessage) *kafka.Message {
	return &kafka.Message{Topic: pm.Topic, Key: pm.Key, Value: pm.Value, Headers: pm.Headers, Offset: 42}
}

func submit(t *testing.T, req charge.Request) (string, *kafka.Message) {
	t.Helper()
	pub := &recordingPublisher{}
	id, err := Submit(context.Background(), pub, kafka.TopicChargeRequests, "test", req)
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	return id, consumed(pub.msgs[0])
}

func decodeResult(t *testing.T, pm *kafka.ProducerMessage) (*kafka.EventEnvelope, charge.JobResult) {
	t.Helper()
	env, err := kafka.MessageToEventEnvelope(consumed(pm))
	require.NoError(t, err)
	var res charge.JobResult
	require.NoError(t, env.DecodePayload(&res))
	return env, res
}

func newMetrics(t *testing.T) (*prometheus.ChargeMetrics, func() string) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "test"}, logging.NewNopLogger())
	require.NoError(t, err)
	scrape := func() string {
		w := httptest.NewRecorder()
		collector.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
		return w.Body.String()
	}
	return prometheus.NewChargeMetrics(collector), scrape
}

func TestHandle_Succeeded(t *testing.T) {
	fx := chargetest.New(t)
	pub := &recordingPublisher{}
	metrics, scrape := newMetrics(t)
	h := NewHandler(fx.Service, pub, resultTopic, logging.NewNopLogger(), WithMetrics(metrics))

	jobID, msg := submit(t, charge.Request{LGF: testutil.UnchargedEthanolLGF})
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, resultTopic, pub.msgs[0].Topic)
	assert.Equal(t, jobID, string(pub.msgs[0].Key))

	env, res := decodeResult(t, pub.msgs[0])
	assert.Equal(t, kafka.EventChargeCompleted, env.EventType)
	assert.Equal(t, Source, env.Source)
	assert.Equal(t, jobID, res.JobID)
	assert.Equal(t, charge.JobSucceeded, res.Status)
	require.NotNil(t, res.Result)
	assert.InDeltaSlice(t, []float64{0, 0.266, -0.674, 0.408}, res.Result.Charges(), 1e-9)
	assert.Equal(t, "iacm", res.Result.Stats.Mode)
	assert.Contains(t, res.Result.LGF, "partial_charge")

	assert.Contains(t, scrape(), `test_jobs_total{status="succeeded"} 1`)
}

func TestHandle_UnsolvableIsReported(t *testing.T) {
	fx := chargetest.New(t)
	pub := &recordingPublisher{}
	h := NewHandler(fx.Service, pub, resultTopic, logging.NewNopLogger())

	no := false
	_, msg := submit(t, charge.Request{
		LGF:     testutil.ButanolLGF,
		Options: &charge.Options{FallbackToElements: &no},
	})
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, pub.msgs, 1)
	env, res := decodeResult(t, pub.msgs[0])
	assert.Equal(t, kafka.EventChargeFailed, env.EventType)
	assert.Equal(t, charge.JobFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperrors.CodeUnknownFragment.String(), res.Error.Code)
	assert.Nil(t, res.Result)
}

func TestHandle_MalformedMoleculeIsReported(t *testing.T) {
	fx := chargetest.New(t)
	pub := &recordingPublisher{}
	h := NewHandler(fx.Service, pub, resultTopic, logging.NewNopLogger())

	_, msg := submit(t, charge.Request{LGF: "@nodes\nlabel\tatom_type\tpartial_charge\n1\tC\tx\n"})
	require.NoError(t, h.Handle(context.Background(), msg))

	_, res := decodeResult(t, pub.msgs[0])
	assert.Equal(t, charge.JobFailed, res.Status)
	assert.Equal(t, apperrors.ErrCodeMoleculeFormat.String(), res.Error.Code)
}

func TestHandle_MalformedEnvelopeIsPermanent(t *testing.T) {
	fx := chargetest.New(t)
	pub := &recordingPublisher{}
	metrics, scrape := newMetrics(t)
	h := NewHandler(fx.Service, pub, resultTopic, logging.NewNopLogger(), WithMetrics(metrics))

	err := h.Handle(context.Background(), &kafka.Message{Value: []byte("{")})
	require.Error(t, err)
	assert.True(t, kafka.IsPermanent(err))

	env, err := kafka.NewEventEnvelope(kafka.EventChargeRequested, "test", nil)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	err = h.Handle(context.Background(), &kafka.Message{Value: raw})
	assert.True(t, kafka.IsPermanent(err))

	assert.Empty(t, pub.msgs)
	assert.Contains(t, scrape(), `test_jobs_total{status="malformed"} 2`)
}

func TestHandle_RepositoryUnavailableIsRetried(t *testing.T) {
	fx := chargetest.New(t)
	pub := &recordingPublisher{}
	h := NewHandler(fx.Empty(), pub, resultTopic, logging.NewNopLogger())

	_, msg := submit(t, charge.Request{LGF: testutil.UnchargedEthanolLGF})
	err := h.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, kafka.IsPermanent(err))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRepositoryUnavailable))
	assert.Empty(t, pub.msgs)
}

func TestHandle_PublishFailureIsRetried(t *testing.T) {
	fx := chargetest.New(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	h := NewHandler(fx.Service, pub, resultTopic, logging.NewNopLogger())

	_, msg := submit(t, charge.Request{LGF: testutil.UnchargedEthanolLGF})
	err := h.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, kafka.IsPermanent(err))
}

func TestHandle_TraceIDPropagates(t *testing.T) {
	fx := chargetest.New(t)
	pub := &recordingPublisher{}
	h := NewHandler(fx.Service, pub, resultTopic, logging.NewNopLogger())

	env, err := kafka.NewEventEnvelope(kafka.EventChargeRequested, "test", charge.Job{
		Request: charge.Request{LGF: testutil.UnchargedEthanolLGF},
	})
	require.NoError(t, err)
	env.TraceID = "trace-1"
	pm, err := env.ToMessage(kafka.TopicChargeRequests, "")
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), consumed(pm)))
	out, res := decodeResult(t, pub.msgs[0])
	assert.Equal(t, "trace-1", out.TraceID)
	assert.Equal(t, env.EventID, out.Metadata["request_event_id"])
	// Jobs without an id are identified by their event.
	assert.Equal(t, env.EventID, res.JobID)
}

func TestOnRetry(t *testing.T) {
	metrics, scrape := newMetrics(t)
	log := testutil.NewMockLogger()
	h := NewHandler(nil, &recordingPublisher{}, resultTopic, log, WithMetrics(metrics))

	h.OnRetry(&kafka.Message{Offset: 3}, 2, errors.New("transient"))
	h.OnRetry(&kafka.Message{Offset: 3}, 3, errors.New("transient"))
	assert.Contains(t, scrape(), "test_job_retries_total 2")
	assert.True(t, log.HasMessage("debug", "Retrying charge job"))
}

func TestSubmit_Validates(t *testing.T) {
	pub := &recordingPublisher{}
	_, err := Submit(context.Background(), pub, kafka.TopicChargeRequests, "test", charge.Request{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))

	half := 0.5
	_, err = Submit(context.Background(), pub, kafka.TopicChargeRequests, "test", charge.Request{LGF: "x", TotalCharge: &half})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
	assert.Empty(t, pub.msgs)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(apperrors.New(apperrors.ErrCodeRepositoryUnavailable, "x")))
	assert.True(t, retryable(apperrors.New(apperrors.CodeTimeout, "x")))
	assert.False(t, retryable(apperrors.Infeasible("x")))
	assert.False(t, retryable(errors.New("plain")))
}

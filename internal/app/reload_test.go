package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
)

type countingReloader struct{ calls int32 }

func (r *countingReloader) Reload(ctx context.Context) (*candidate.Repository, error) {
	atomic.AddInt32(&r.calls, 1)
	return nil, nil
}

func TestReloadScheduler(t *testing.T) {
	r := &countingReloader{}
	s, err := NewReloadScheduler("@every 1s", r, time.Second, logging.NewNopLogger())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&r.calls) > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestReloadScheduler_InvalidSpec(t *testing.T) {
	_, err := NewReloadScheduler("every tuesday", &countingReloader{}, 0, logging.NewNopLogger())
	assert.Error(t, err)
}

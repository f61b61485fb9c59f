package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/ChargeAssign/pkg/errors"
)

type entry struct {
	Charges []float64
	Total   int
}

type CacheTestSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	cache Cache
}

func (s *CacheTestSuite) SetupTest() {
	client, mr := newTestClient(s.T())
	s.mr = mr
	s.cache = NewRedisCache(client, logging.NewNopLogger(), WithoutJitter(), WithDefaultTTL(time.Minute))
}

func (s *CacheTestSuite) TestSetGet() {
	ctx := context.Background()
	want := entry{Charges: []float64{0.417, -0.834, 0.417}, Total: 0}
	s.Require().NoError(s.cache.Set(ctx, "k1", want, 0))

	s.True(s.mr.Exists("test:cache:k1"))
	s.Equal(time.Minute, s.mr.TTL("test:cache:k1"))

	var got entry
	s.Require().NoError(s.cache.Get(ctx, "k1", &got))
	s.Equal(want, got)
}

func (s *CacheTestSuite) TestGet_Miss() {
	var got entry
	err := s.cache.Get(context.Background(), "absent", &got)
	s.Equal(ErrCacheMiss, err)
	s.True(pkgerrors.IsNotFound(err))
}

func (s *CacheTestSuite) TestGet_Corrupt() {
	s.Require().NoError(s.mr.Set("test:cache:bad", "\xc1"))
	var got entry
	err := s.cache.Get(context.Background(), "bad", &got)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))
}

func (s *CacheTestSuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "a", entry{Total: 1}, 0))
	s.Require().NoError(s.cache.Delete(ctx, "a"))
	s.False(s.mr.Exists("test:cache:a"))
	s.NoError(s.cache.Delete(ctx))
}

func (s *CacheTestSuite) TestDeleteByPrefix() {
	ctx := context.Background()
	for _, k := range []string{"charge:1", "charge:2", "other:1"} {
		s.Require().NoError(s.cache.Set(ctx, k, entry{}, 0))
	}
	n, err := s.cache.DeleteByPrefix(ctx, "charge:")
	s.Require().NoError(err)
	s.Equal(int64(2), n)
	s.True(s.mr.Exists("test:cache:other:1"))
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func TestCache_ServerError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCache(NewClientWithRDB(db, "test:", logging.NewNopLogger()), logging.NewNopLogger())

	mock.ExpectGet("test:cache:k").SetErr(errors.New("READONLY"))
	var got entry
	err := cache.Get(context.Background(), "k", &got)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))

	mock.ExpectScan(0, "test:cache:p*", 100).SetErr(errors.New("LOADING"))
	_, err = cache.DeleteByPrefix(context.Background(), "p")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))

	require.NoError(t, mock.ExpectationsWereMet())
}

package reputation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// CachedTestSuite runs the cache against a real Redis container
type CachedTestSuite struct {
	suite.Suite
	container testcontainers.Container
	rdb       *redis.Client
}

// SetupSuite starts a Redis container
func (s *CachedTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		s.T().Skipf("docker not available: %v", err)
	}
	s.container = container

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(s.T(), err)

	rdb, err := NewRedisClient(ctx, fmt.Sprintf("redis://%s/0", endpoint))
	require.NoError(s.T(), err)
	s.rdb = rdb
}

// TearDownSuite stops the container
func (s *CachedTestSuite) TearDownSuite() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

// SetupTest clears Redis between tests
func (s *CachedTestSuite) SetupTest() {
	require.NoError(s.T(), s.rdb.FlushDB(context.Background()).Err())
}

func TestCachedTestSuite(t *testing.T) {
	suite.Run(t, new(CachedTestSuite))
}

func (s *CachedTestSuite) TestLookup_SecondCallServedFromCache() {
	var calls int32
	next := Func(func(context.Context, string) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{Malicious: 5, Suspicious: 1}, nil
	})
	cached := NewCached(next, s.rdb, time.Minute, nil)

	first, err := cached.Lookup(context.Background(), "https://evil.example")
	s.Require().NoError(err)
	second, err := cached.Lookup(context.Background(), "https://evil.example")
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(int32(1), atomic.LoadInt32(&calls))

	ttl, err := s.rdb.TTL(context.Background(), CacheKey("https://evil.example")).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *CachedTestSuite) TestLookup_FailuresAreNotCached() {
	var calls int32
	next := Func(func(context.Context, string) (Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return Result{}, errors.New("timeout")
		}
		return Result{Suspicious: 2}, nil
	})
	cached := NewCached(next, s.rdb, time.Minute, nil)

	_, err := cached.Lookup(context.Background(), "https://flaky.example")
	s.Error(err)

	result, err := cached.Lookup(context.Background(), "https://flaky.example")
	s.NoError(err)
	s.Equal(2, result.Suspicious)
}

func TestCacheKey_Namespaced(t *testing.T) {
	key := CacheKey("https://a.example")

	assert.Equal(t, keyPrefix+URLIdentifier("https://a.example"), key)
}

func TestNewCached_DefaultTTL(t *testing.T) {
	cached := NewCached(NewNoop(), nil, 0, nil)

	assert.Equal(t, DefaultCacheTTL, cached.ttl)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not a url")

	assert.Error(t, err)
}

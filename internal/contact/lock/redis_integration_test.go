//go:build integration

package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"unify/internal/contact/lock"
	"unify/pkg/testutil/containers"
)

type RedisLockerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	locker *lock.RedisLocker
}

func TestRedisLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockerSuite))
}

func (s *RedisLockerSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.locker = lock.NewRedisLocker(s.redis.Client)
}

func (s *RedisLockerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLockerSuite) TestAcquireAndRelease() {
	ctx := context.Background()

	release, err := s.locker.Acquire(ctx, "email:a@x.com", 5*time.Second)
	s.Require().NoError(err)
	release()

	// Released lock is immediately reacquirable.
	release, err = s.locker.Acquire(ctx, "email:a@x.com", 5*time.Second)
	s.Require().NoError(err)
	release()
}

func (s *RedisLockerSuite) TestHeldLockBlocksSecondAcquirer() {
	ctx := context.Background()

	release, err := s.locker.Acquire(ctx, "phone:111", 10*time.Second)
	s.Require().NoError(err)

	var acquiredAt time.Time
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		release2, err := s.locker.Acquire(ctx, "phone:111", 10*time.Second)
		require.NoError(s.T(), err)
		acquiredAt = time.Now()
		release2()
	}()

	held := 200 * time.Millisecond
	time.Sleep(held)
	releasedAt := time.Now()
	release()
	wg.Wait()

	s.False(acquiredAt.Before(releasedAt), "second acquirer must wait for release")
}

func (s *RedisLockerSuite) TestExpiredLockIsReacquirable() {
	ctx := context.Background()

	_, err := s.locker.Acquire(ctx, "email:a@x.com", 100*time.Millisecond)
	s.Require().NoError(err)

	// Never released; the lease expires on its own.
	release, err := s.locker.Acquire(ctx, "email:a@x.com", 5*time.Second)
	s.Require().NoError(err)
	release()
}

func (s *RedisLockerSuite) TestStaleReleaseDoesNotFreeNewHolder() {
	ctx := context.Background()

	staleRelease, err := s.locker.Acquire(ctx, "email:a@x.com", 100*time.Millisecond)
	s.Require().NoError(err)

	// Wait out the first lease, let a second holder take the key, then fire
	// the stale release.
	time.Sleep(150 * time.Millisecond)
	release, err := s.locker.Acquire(ctx, "email:a@x.com", 5*time.Second)
	s.Require().NoError(err)
	defer release()

	staleRelease()

	exists, err := s.redis.Client.Exists(ctx, "unify:lock:email:a@x.com").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists, "current holder's lock must survive a stale release")
}

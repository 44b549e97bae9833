package lock

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludesSecondHolder(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := NewLocalLocker(clk)
	ctx := context.Background()

	lease, err := locker.Obtain(ctx, "scheduler:tick", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "scheduler:tick", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	_, err = locker.Obtain(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	_, err = locker.Obtain(ctx, "scheduler:tick", time.Minute)
	assert.NoError(t, err)
}

func TestLocalLockerReclaimsExpiredKey(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := NewLocalLocker(clk)
	ctx := context.Background()

	stale, err := locker.Obtain(ctx, "scheduler:tick", time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	fresh, err := locker.Obtain(ctx, "scheduler:tick", time.Minute)
	require.NoError(t, err)

	// the expired holder must not release the new lease
	require.NoError(t, stale.Release(ctx))
	_, err = locker.Obtain(ctx, "scheduler:tick", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, fresh.Release(ctx))
}

func TestObtainValidatesArguments(t *testing.T) {
	locker := NewLocalLocker(nil)
	_, err := locker.Obtain(context.Background(), " ", time.Minute)
	assert.Error(t, err)
	_, err = locker.Obtain(context.Background(), "k", 0)
	assert.Error(t, err)
}

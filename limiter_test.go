package gatelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBoundLimiterProxiesFixedKey(t *testing.T) {
	ti := buildFixedWindow(t, 1, 10*time.Second, 0)

	bound := Bind(ti.Instance, "tenant-a")

	assert.True(t, bound.TryAcquire().Admitted())
	assert.True(t, bound.TryAcquire().Rejected())

	// other keys are unaffected by the bound one
	assert.True(t, ti.Instance.TryAcquire("tenant-b").Admitted())

	assert.Equal(t, uint64(1), bound.Stats().WindowCount)

	_, err := bound.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRequestRejected)
}

func TestGlobalLimiterSharesOnePartition(t *testing.T) {
	ti := buildFixedWindow(t, 2, 10*time.Second, 0)

	global := Global(ti.Instance)

	assert.True(t, global.TryAcquire().Admitted())

	// the empty key resolves to the same shared partition
	assert.True(t, ti.Instance.TryAcquire("").Admitted())

	assert.True(t, global.TryAcquire().Rejected())
	assert.Equal(t, uint64(2), global.Stats().WindowCount)
}

package gatelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeaseReleaseExactlyOnce(t *testing.T) {
	releases := 0
	lease := newLease(func() {
		releases++
	})

	assert.False(t, lease.Released())

	assert.Nil(t, lease.Release())
	assert.True(t, lease.Released())
	assert.Equal(t, 1, releases)

	err := lease.Release()
	assert.NotNil(t, err)
	assert.ErrorIs(t, err, ErrLeaseReleased)
	assert.Contains(t, err.Error(), "already released")

	// the callback must not have run a second time
	assert.Equal(t, 1, releases)
}

func TestLeaseWithoutCallback(t *testing.T) {
	lease := newLease(nil)

	assert.Nil(t, lease.Release())
	assert.ErrorIs(t, lease.Release(), ErrLeaseReleased)
}

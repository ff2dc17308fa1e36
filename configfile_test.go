package gatelimit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testPolicyDocument = `
policies:
  - name: api-read
    kind: sliding_window
    limit: 100
    window: 10s
    segments: 10
    queue_limit: 25
  - name: api-write
    kind: fixed_window
    limit: 20
    window: 1m
  - name: heavy-jobs
    kind: concurrency
    limit: 5
    queue_limit: 10
  - name: outbound-calls
    kind: token_bucket
    capacity: 50
    tokens_per_period: 10
    replenishment_period: 10s
`

func TestParsePolicies(t *testing.T) {
	registry, err := ParsePolicies([]byte(testPolicyDocument), WithRegistryLogger(NewNoOpLogger()))
	assert.Nil(t, err)
	assert.NotNil(t, registry)

	for _, name := range []string{"api-read", "api-write", "heavy-jobs", "outbound-calls"} {
		resolved, resolveErr := registry.Resolve(name)
		assert.Nil(t, resolveErr)
		assert.NotNil(t, resolved)
	}

	slidingWindow, _ := registry.Resolve("api-read")
	internal := slidingWindow.(*slidingWindowLimiter)
	assert.Equal(t, uint64(100), internal.Config.Limit)
	assert.Equal(t, uint64(10000), internal.Config.WindowSize)
	assert.Equal(t, uint64(10), internal.Config.NumSegments)
	assert.Equal(t, uint64(25), internal.Config.QueueLimit)

	tokenBucket, _ := registry.Resolve("outbound-calls")
	bucketInternal := tokenBucket.(*tokenBucketLimiter)
	assert.Equal(t, uint64(50), bucketInternal.Config.Capacity)
	assert.Equal(t, uint64(10), bucketInternal.Config.TokensPerPeriod)
	assert.Equal(t, uint64(10000), bucketInternal.Config.PeriodSize)
}

func TestParsePoliciesRejectsMalformedDocuments(t *testing.T) {
	_, err := ParsePolicies([]byte("{{ not yaml"))
	assert.NotNil(t, err)

	_, err = ParsePolicies([]byte("policies: []"))
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "no policies")

	_, err = ParsePolicies([]byte(`
policies:
  - kind: concurrency
    limit: 5
`))
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "no name")
}

func TestParsePoliciesRejectsInvalidDurations(t *testing.T) {
	_, err := ParsePolicies([]byte(`
policies:
  - name: api-read
    kind: fixed_window
    limit: 100
    window: ten-seconds
`))
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestParsePoliciesRejectsInvalidLimiters(t *testing.T) {
	_, err := ParsePolicies([]byte(`
policies:
  - name: api-read
    kind: fixed_window
    window: 10s
`))
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), `policy "api-read"`)
}

func TestParsePoliciesRejectsDuplicateNames(t *testing.T) {
	_, err := ParsePolicies([]byte(`
policies:
  - name: api-read
    kind: fixed_window
    limit: 100
    window: 10s
  - name: api-read
    kind: concurrency
    limit: 5
`))
	assert.NotNil(t, err)
	assert.ErrorIs(t, err, ErrPolicyAlreadyRegistered)
}

func TestLoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	assert.Nil(t, os.WriteFile(path, []byte(testPolicyDocument), 0o600))

	registry, err := LoadPolicies(path, WithRegistryLogger(NewNoOpLogger()))
	assert.Nil(t, err)
	assert.NotNil(t, registry)
	assert.Len(t, registry.PolicyNames(), 4)

	_, err = LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "error reading policy file")
}

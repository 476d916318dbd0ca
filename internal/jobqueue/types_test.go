package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, 3, opts.Attempts)
	assert.Equal(t, 45*time.Second, opts.BackoffSeed)
	assert.Equal(t, 100, opts.RemoveOnComplete)
	assert.Equal(t, 50, opts.RemoveOnFail)

	custom := Options{Attempts: 5, RemoveOnFail: 10}.withDefaults()
	assert.Equal(t, 5, custom.Attempts)
	assert.Equal(t, 10, custom.RemoveOnFail)
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := FetchPayload{
		Source:     "shopify",
		DataType:   "shopify_products",
		TenantID:   "123",
		ShopDomain: "s.myshopify.com",
	}
	asMap, err := toMap(payload)
	require.NoError(t, err)

	job := &Job{Payload: asMap}
	decoded, err := DecodePayload[FetchPayload](job)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodePayloadIgnoresExtraKeys(t *testing.T) {
	job := &Job{Payload: map[string]any{
		"event_kind": "BILL_MOVEMENT",
		"entity_id":  "42",
		"scheduled":  true,
	}}
	decoded, err := DecodePayload[FeedPayload](job)
	require.NoError(t, err)
	assert.Equal(t, "BILL_MOVEMENT", decoded.EventKind)
	assert.Equal(t, "42", decoded.EntityID)
}

func TestQueueNamesAreStable(t *testing.T) {
	assert.Equal(t,
		[]QueueName{QueueIngest, QueueNormalize, QueueMetrics, QueueFeed},
		Queues(),
	)
}

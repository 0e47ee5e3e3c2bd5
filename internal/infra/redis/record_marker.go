package redis

import (
	"context"
	"time"
)

// RecordMarker is a cross-process guard for result recording: the first
// caller to claim a job id proceeds, later callers see false. The store's
// unique index is the durable guard; this just short-circuits the common
// duplicate before it reaches the database.
type RecordMarker struct {
	client RedisClient
	ttl    time.Duration
}

func NewRecordMarker(client RedisClient, ttl time.Duration) *RecordMarker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RecordMarker{client: client, ttl: ttl}
}

func (m *RecordMarker) FirstRecord(ctx context.Context, jobID string) (bool, error) {
	return m.client.SetNX(ctx, "result_recorded:"+jobID, "1", m.ttl)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/drag0sd0g/ezdl-agents/internal/directory"
)

// RecordStore persists directory records in a single Redis hash keyed by agent
// name, so a restarted directory comes back with the agents it knew.
type RecordStore struct {
	redis *RedisClient
	hash  string
}

func NewRecordStore(r *RedisClient, directoryName string) *RecordStore {
	return &RecordStore{
		redis: r,
		hash:  r.key("directory", directoryName, "records"),
	}
}

func (s *RecordStore) Load(ctx context.Context) ([]directory.AgentRecord, error) {
	fields, err := s.redis.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load directory records: %w", err)
	}

	records := make([]directory.AgentRecord, 0, len(fields))
	for name, data := range fields {
		var rec directory.AgentRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", name, err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *RecordStore) Save(ctx context.Context, rec directory.AgentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.redis.client.HSet(ctx, s.hash, rec.Name, data).Err(); err != nil {
		return fmt.Errorf("failed to store record %s: %w", rec.Name, err)
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, name string) error {
	if err := s.redis.client.HDel(ctx, s.hash, name).Err(); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", name, err)
	}
	return nil
}

package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// ReferenceRecord is a known-good employee record used to validate a
// submitted document. Reference optionally holds the reference image as a
// data URI.
type ReferenceRecord struct {
	Name        string `json:"name"`
	ReferenceID string `json:"reference_id"`
	Address     string `json:"address"`
	Reference   string `json:"reference,omitempty"`
}

// RecordsProvider is a read-only view on the employee records.
type RecordsProvider interface {
	Records(ctx context.Context) ([]ReferenceRecord, error)
}

type MemoryRecords struct {
	mutex   sync.RWMutex
	records []ReferenceRecord
}

func NewMemoryRecords(seed []ReferenceRecord) *MemoryRecords {
	m := &MemoryRecords{}
	for _, r := range seed {
		m.Put(r)
	}
	return m
}

// Put adds or replaces the record with the same reference id.
func (m *MemoryRecords) Put(record ReferenceRecord) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i := range m.records {
		if strings.EqualFold(m.records[i].ReferenceID, record.ReferenceID) {
			m.records[i] = record
			return
		}
	}
	m.records = append(m.records, record)
}

// Records returns a copy so callers can never mutate the stored set.
func (m *MemoryRecords) Records(_ context.Context) ([]ReferenceRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]ReferenceRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

// RedisRecords keeps every record as a JSON field in one hash.
type RedisRecords struct {
	client    goredis.UniversalClient
	namespace string
}

func NewRedisRecords(client goredis.UniversalClient, namespace string) *RedisRecords {
	return &RedisRecords{client: client, namespace: namespace}
}

func (r *RedisRecords) key() string {
	return fmt.Sprintf("%s:employees", r.namespace)
}

func (r *RedisRecords) Put(ctx context.Context, record ReferenceRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", record.ReferenceID, err)
	}
	return r.client.HSet(ctx, r.key(), strings.ToUpper(record.ReferenceID), payload).Err()
}

func (r *RedisRecords) Records(ctx context.Context) ([]ReferenceRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load employee records: %w", err)
	}

	records := make([]ReferenceRecord, 0, len(fields))
	for id, raw := range fields {
		var record ReferenceRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			slog.Warn("Skipping unreadable employee record", "reference_id", id, "error", err)
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

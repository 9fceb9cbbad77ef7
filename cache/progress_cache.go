package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"TuneSweep/logger"
	"TuneSweep/model"
)

// progressKey 根据运行ID生成进度记录的Redis键
func progressKey(runID string) string {
	return fmt.Sprintf("analysis:progress:%s", runID)
}

// ProgressMirror publishes analysis progress into Redis so any instance can
// serve polls. Writes are best-effort: the tracker stays authoritative and a
// Redis outage only degrades cross-instance reads.
type ProgressMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressMirror creates a mirror over the shared Redis client.
func NewProgressMirror(client *redis.Client, ttl time.Duration) *ProgressMirror {
	return &ProgressMirror{client: client, ttl: ttl}
}

// Publish stores the progress record under its run key with the mirror TTL.
func (m *ProgressMirror) Publish(p model.AnalysisProgress) {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := json.Marshal(p)
	if err != nil {
		logger.Error("序列化进度记录失败", logger.String("runId", p.RunID), logger.ErrorField(err))
		return
	}
	if err := m.client.Set(ctx, progressKey(p.RunID), payload, m.ttl).Err(); err != nil {
		logger.Warn("写入进度缓存失败", logger.String("runId", p.RunID), logger.ErrorField(err))
	}
}

// GetProgress reads a mirrored progress record. Returns nil, nil on a cache
// miss so callers can fall back to the persisted run.
func (m *ProgressMirror) GetProgress(ctx context.Context, runID string) (*model.AnalysisProgress, error) {
	if m.client == nil {
		return nil, nil
	}
	payload, err := m.client.Get(ctx, progressKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read progress cache: %w", err)
	}

	var p model.AnalysisProgress
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress record: %w", err)
	}
	return &p, nil
}

// DeleteProgress drops a mirrored record, used when a run is cleaned up early.
func (m *ProgressMirror) DeleteProgress(ctx context.Context, runID string) error {
	if m.client == nil {
		return nil
	}
	if err := m.client.Del(ctx, progressKey(runID)).Err(); err != nil {
		logger.Error("删除进度缓存失败", logger.String("runId", runID), logger.ErrorField(err))
		return err
	}
	return nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultChunkSize is used when a batch is created without one.
const DefaultChunkSize = 50

const batchTTL = 24 * time.Hour

// BatchTarget is one person in a batch enqueue.
type BatchTarget struct {
	PersonID string        `json:"person_id"`
	Target   domain.Target `json:"target"`
}

// BatchInput is the shared template plus the list of people to enqueue it
// for. Every target becomes one action.
type BatchInput struct {
	SenderID     string            `json:"sender_id"`
	WorkspaceID  string            `json:"workspace_id"`
	ActionType   domain.ActionType `json:"action_type"`
	Message      *string           `json:"message,omitempty"`
	Priority     int               `json:"priority,omitempty"`
	CampaignID   *string           `json:"campaign_id,omitempty"`
	SequenceStep *int              `json:"sequence_step,omitempty"`
	Targets      []BatchTarget     `json:"targets"`
}

// BatchProgress is returned after every processed chunk.
type BatchProgress struct {
	JobID          string `json:"job_id"`
	ProcessedCount int    `json:"processed_count"`
	ChunkSize      int    `json:"chunk_size"`
	Total          int    `json:"total"`
	Failed         int    `json:"failed"`
	Done           bool   `json:"done"`
}

// BatchEnqueuer splits large enqueues into chunks whose progress is kept in
// Redis, so a chunk can be advanced by any server instance and a crashed
// request can be resumed. Progress only moves past targets that were
// actually enqueued.
type BatchEnqueuer struct {
	queue *Service
	rdb   *redis.Client
}

// NewBatchEnqueuer creates a batch enqueuer.
func NewBatchEnqueuer(q *Service, rdb *redis.Client) *BatchEnqueuer {
	return &BatchEnqueuer{queue: q, rdb: rdb}
}

func batchKey(id string) string        { return "batch:" + id }
func batchTargetsKey(id string) string { return "batch:" + id + ":targets" }
func batchLeaseKey(id string) string   { return "batch:" + id + ":lease" }

// chunkLease bounds how long one request may hold a chunk before another
// instance can pick it up again.
const chunkLease = 2 * time.Minute

// leaseScript returns the next chunk as {start, end, total} and takes the
// job's lease when there is work to do. processed is left untouched until
// commitScript runs. A finished job returns start == end; {-2,-2,-2} means
// another request holds the lease.
var leaseScript = redis.NewScript(`
local total = tonumber(redis.call("HGET", KEYS[1], "total"))
if not total then
	return {-1, -1, -1}
end
local processed = tonumber(redis.call("HGET", KEYS[1], "processed"))
local chunk = tonumber(redis.call("HGET", KEYS[1], "chunk_size"))
local finish = processed + chunk
if finish > total then
	finish = total
end
if finish > processed then
	if not redis.call("SET", KEYS[2], ARGV[1], "NX", "PX", ARGV[2]) then
		return {-2, -2, -2}
	end
end
return {processed, finish, total}
`)

// commitScript advances processed to ARGV[3] and adds ARGV[4] to failed,
// but only while the caller still owns the lease and processed is still
// ARGV[2]. The lease is dropped either way.
var commitScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[2])
if tonumber(redis.call("HGET", KEYS[1], "processed")) ~= tonumber(ARGV[2]) then
	return 0
end
redis.call("HSET", KEYS[1], "processed", ARGV[3])
redis.call("HINCRBY", KEYS[1], "failed", ARGV[4])
return 1
`)

// CreateBatch stores a batch job and returns its id. Nothing is enqueued
// until ProcessChunk or Drain is called.
func (b *BatchEnqueuer) CreateBatch(ctx context.Context, in BatchInput, chunkSize int) (string, error) {
	if len(in.Targets) == 0 {
		return "", ErrNoTargets
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	probe := EnqueueInput{
		SenderID:    in.SenderID,
		PersonID:    "batch",
		WorkspaceID: in.WorkspaceID,
		ActionType:  in.ActionType,
	}
	if err := probe.validate(); err != nil {
		return "", err
	}

	tmpl := in
	tmpl.Targets = nil
	tmplJSON, err := json.Marshal(tmpl)
	if err != nil {
		return "", fmt.Errorf("encode batch template: %w", err)
	}
	targets := make([]interface{}, 0, len(in.Targets))
	for _, t := range in.Targets {
		raw, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("encode batch target: %w", err)
		}
		targets = append(targets, raw)
	}

	id := uuid.New().String()
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, batchKey(id), map[string]interface{}{
		"total":      len(in.Targets),
		"processed":  0,
		"failed":     0,
		"chunk_size": chunkSize,
		"template":   tmplJSON,
	})
	pipe.RPush(ctx, batchTargetsKey(id), targets...)
	pipe.Expire(ctx, batchKey(id), batchTTL)
	pipe.Expire(ctx, batchTargetsKey(id), batchTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store batch: %w", err)
	}

	logger.Info("batch created", "job_id", id, "total", len(in.Targets), "chunk_size", chunkSize)
	return id, nil
}

// ProcessChunk enqueues the next chunk of a job. Targets that can never
// become actions (malformed rows, missing fields) are counted in Failed and
// skipped. Any other error stops the chunk: progress is committed up to the
// last enqueued target and the next call resumes from the one that failed.
func (b *BatchEnqueuer) ProcessChunk(ctx context.Context, jobID string) (BatchProgress, error) {
	progress := BatchProgress{JobID: jobID}
	keys := []string{batchKey(jobID), batchLeaseKey(jobID)}
	token := uuid.New().String()

	bounds, err := leaseScript.Run(ctx, b.rdb, keys, token, chunkLease.Milliseconds()).Int64Slice()
	if err != nil {
		return progress, fmt.Errorf("lease batch chunk: %w", err)
	}
	if len(bounds) != 3 || bounds[2] == -1 {
		return progress, ErrBatchNotFound
	}
	if bounds[2] == -2 {
		return progress, ErrBatchBusy
	}
	start, end, total := bounds[0], bounds[1], bounds[2]
	progress.Total = int(total)
	progress.ProcessedCount = int(start)

	if end > start {
		done, failed, runErr := b.enqueueRange(ctx, jobID, start, end)
		committed, err := commitScript.Run(context.WithoutCancel(ctx), b.rdb, keys,
			token, start, start+int64(done), failed).Int()
		if err != nil {
			return progress, fmt.Errorf("commit batch chunk: %w", err)
		}
		if committed == 0 {
			logger.Warn("batch chunk lease lost before commit", "job_id", jobID, "start", start, "enqueued", done)
			return progress, fmt.Errorf("commit batch chunk %d-%d: %w", start, end, ErrBatchBusy)
		}
		progress.ProcessedCount = int(start) + done
		progress.ChunkSize = done
		if runErr != nil {
			logger.Warn("batch chunk stopped early", "job_id", jobID, "start", start, "enqueued", done, "error", runErr)
			return progress, runErr
		}
	}
	progress.Done = int64(progress.ProcessedCount) == total

	if n, err := b.rdb.HGet(ctx, batchKey(jobID), "failed").Int(); err == nil {
		progress.Failed = n
	}
	return progress, nil
}

// enqueueRange enqueues targets [start, end) and returns how many rows it
// got through, counting skipped ones, and how many of those were skipped.
func (b *BatchEnqueuer) enqueueRange(ctx context.Context, jobID string, start, end int64) (done, failed int, err error) {
	rawTmpl, err := b.rdb.HGet(ctx, batchKey(jobID), "template").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, ErrBatchNotFound
		}
		return 0, 0, fmt.Errorf("load batch template: %w", err)
	}
	var tmpl BatchInput
	if err := json.Unmarshal(rawTmpl, &tmpl); err != nil {
		return 0, 0, fmt.Errorf("decode batch template: %w", err)
	}

	rows, err := b.rdb.LRange(ctx, batchTargetsKey(jobID), start, end-1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("load batch targets: %w", err)
	}
	if int64(len(rows)) != end-start {
		return 0, 0, fmt.Errorf("load batch targets: got %d rows, want %d", len(rows), end-start)
	}

	for _, row := range rows {
		var t BatchTarget
		if err := json.Unmarshal([]byte(row), &t); err != nil {
			failed++
			done++
			continue
		}
		_, err := b.queue.Enqueue(ctx, EnqueueInput{
			SenderID:     tmpl.SenderID,
			PersonID:     t.PersonID,
			WorkspaceID:  tmpl.WorkspaceID,
			ActionType:   tmpl.ActionType,
			Message:      tmpl.Message,
			Priority:     tmpl.Priority,
			Target:       t.Target,
			CampaignID:   tmpl.CampaignID,
			SequenceStep: tmpl.SequenceStep,
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrMissingField), errors.Is(err, ErrInvalidActionType):
			failed++
			logger.Warn("batch target rejected", "job_id", jobID, "person_id", t.PersonID, "error", err)
		default:
			return done, failed, fmt.Errorf("enqueue batch target %s: %w", t.PersonID, err)
		}
		done++
	}
	return done, failed, nil
}

// Drain processes chunks until the job is done and returns the final
// progress.
func (b *BatchEnqueuer) Drain(ctx context.Context, jobID string) (BatchProgress, error) {
	for {
		p, err := b.ProcessChunk(ctx, jobID)
		if err != nil || p.Done {
			return p, err
		}
		if err := ctx.Err(); err != nil {
			return p, err
		}
	}
}

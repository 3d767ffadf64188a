package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skeinlab/skein/types"
)

const jobKeyPrefix = "job:"

// jobRecord is the durable form of an admitted job. Bodies are not
// serializable, so recovery resolves them through the handler registry.
type jobRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Priority   Priority        `json:"priority"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	MaxRetries int             `json:"max_retries"`
	Timeout    time.Duration   `json:"timeout_ns"`
	State      State           `json:"state"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type persistOp struct {
	remove bool
	key    string
	value  []byte
}

// persist records the job's current state asynchronously. A full buffer
// drops the write with a warning so dispatch never blocks on storage.
func (q *Queue) persist(qj *queuedJob, state State) {
	if q.store == nil {
		return
	}

	record := jobRecord{
		ID:         qj.job.ID,
		Type:       qj.job.Type,
		Priority:   qj.job.Priority,
		MaxRetries: qj.job.MaxRetries,
		Timeout:    qj.job.Timeout,
		State:      state,
		Attempts:   qj.attempts,
		EnqueuedAt: qj.enqueuedAt,
	}
	if qj.job.Payload != nil {
		if raw, err := json.Marshal(qj.job.Payload); err == nil {
			record.Payload = raw
		}
	}

	value, err := json.Marshal(record)
	if err != nil {
		q.logger.Warn("job record not serializable, skipping persistence",
			zap.String("job_id", qj.job.ID), zap.Error(err))
		return
	}

	q.enqueuePersist(persistOp{key: jobKeyPrefix + qj.job.ID, value: value})
}

// unpersist drops the durable record once a job reaches a terminal state.
func (q *Queue) unpersist(qj *queuedJob) {
	if q.store == nil {
		return
	}
	q.enqueuePersist(persistOp{remove: true, key: jobKeyPrefix + qj.job.ID})
}

func (q *Queue) enqueuePersist(op persistOp) {
	select {
	case q.persistCh <- op:
	default:
		q.logger.Warn("persistence buffer full, dropping write", zap.String("key", op.key))
	}
}

// persistWriter applies durability writes in the background. Store
// errors are logged and the queue keeps operating without durability.
func (q *Queue) persistWriter() {
	defer q.wg.Done()

	for {
		select {
		case op := <-q.persistCh:
			q.applyPersist(op)
		case <-q.stopCh:
			for {
				select {
				case op := <-q.persistCh:
					q.applyPersist(op)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) applyPersist(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if op.remove {
		err = q.store.Remove(ctx, op.key)
	} else {
		err = q.store.Put(ctx, op.key, op.value)
	}
	if err != nil {
		q.logger.Warn("persistence degraded",
			zap.String("key", op.key),
			zap.Bool("remove", op.remove),
			zap.Error(err),
		)
	}
}

// Recover re-enqueues jobs persisted by a previous instance of this
// queue over the same store. Handlers for the recovered job types must
// be registered first; records without a handler and records that no
// longer parse are removed. Jobs persisted as running are re-run from
// the top of their current attempt.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}

	keys, err := q.store.Keys(ctx)
	if err != nil {
		return 0, types.Newf(types.ErrPersistence, "list persisted jobs: %v", err).WithCause(err)
	}

	recovered := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, jobKeyPrefix) {
			continue
		}

		value, found, err := q.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}

		var record jobRecord
		if err := json.Unmarshal(value, &record); err != nil {
			q.logger.Warn("dropping unreadable job record", zap.String("key", key), zap.Error(err))
			_ = q.store.Remove(ctx, key)
			continue
		}

		q.mu.Lock()
		fn := q.handlers[record.Type]
		q.mu.Unlock()
		if fn == nil {
			q.logger.Warn("dropping job record with no registered handler",
				zap.String("job_id", record.ID), zap.String("type", record.Type))
			_ = q.store.Remove(ctx, key)
			continue
		}

		var payload any
		if len(record.Payload) > 0 {
			_ = json.Unmarshal(record.Payload, &payload)
		}

		job := &Job{
			ID:         record.ID,
			Type:       record.Type,
			Priority:   record.Priority,
			Payload:    payload,
			MaxRetries: record.MaxRetries,
			Timeout:    record.Timeout,
		}

		qj := &queuedJob{job: job, fn: fn, attempts: record.Attempts, enqueuedAt: record.EnqueuedAt}

		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			break
		}
		q.handles[job.ID] = newHandle(job.ID)
		q.pending[job.Priority] = append(q.pending[job.Priority], qj)
		q.mu.Unlock()
		q.pendingCount.Add(1)
		q.notify()
		recovered++
	}

	if recovered > 0 {
		q.logger.Info("recovered persisted jobs", zap.Int("count", recovered))
	}
	return recovered, nil
}

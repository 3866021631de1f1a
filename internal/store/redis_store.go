package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

const (
	jobKeyPrefix   = "export:job:"
	queuedIndexKey = "export:queued"
	// terminalIndexKey is scored by expiresAt so the reaper can range-scan.
	terminalIndexKey = "export:terminal"
)

// claimScript atomically pops the best queued job and flips it to
// processing. The queued index is a ZSET scored by priority; members are
// "<createdAtMs>:<id>" so that, within a priority band, lexicographic order
// is FIFO. Running as a script makes the claim linearizable across
// processes sharing the same Redis. Stale index entries (record gone or no
// longer queued) are discarded and the scan moves on to the next candidate;
// every iteration removes a member, so the loop terminates.
var claimScript = redis.NewScript(`
while true do
	local top = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	if #top == 0 then
		return false
	end
	local member = redis.call('ZRANGEBYSCORE', KEYS[1], top[2], top[2], 'LIMIT', 0, 1)[1]
	redis.call('ZREM', KEYS[1], member)
	local id = string.sub(member, 15)
	local key = ARGV[2] .. id
	local raw = redis.call('GET', key)
	if raw then
		local job = cjson.decode(raw)
		if job['status'] == 'queued' then
			job['status'] = 'processing'
			job['startedAt'] = ARGV[1]
			job['progress'] = 0
			local out = cjson.encode(job)
			redis.call('SET', key, out)
			return out
		end
	end
end
`)

// RedisJobStore keeps each job as a JSON record at export:job:{id} plus two
// ZSET indexes for claiming and reaping.
type RedisJobStore struct {
	client *redis.Client
}

func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{client: client}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// queuedMember encodes createdAt (ms, zero-padded to 13 digits) before the
// id so that members with equal scores sort oldest-first.
func queuedMember(job *model.Job) string {
	return fmt.Sprintf("%013d:%s", job.CreatedAt.UnixMilli(), job.ID)
}

func (s *RedisJobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, jobKey(job.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrConflict
	}
	if job.Status == model.JobStatusQueued {
		return s.client.ZAdd(ctx, queuedIndexKey, redis.Z{
			Score:  float64(job.Priority),
			Member: queuedMember(job),
		}).Err()
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisJobStore) ClaimNext(ctx context.Context, now time.Time) (*model.Job, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{queuedIndexKey},
		now.UTC().Format(time.RFC3339Nano),
		jobKeyPrefix,
	).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoJob
		}
		return nil, err
	}

	raw, ok := res.(string)
	if !ok {
		return nil, ErrNoJob
	}

	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisJobStore) Mutate(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var result *model.Job

	// Optimistic transaction: WATCH the record, apply fn, write record and
	// index deltas in one MULTI. Retried on concurrent modification.
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return model.ErrNotFound
			}
			return err
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		prevStatus := job.Status

		if err := fn(&job); err != nil {
			return err
		}

		next, err := json.Marshal(&job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			if prevStatus == model.JobStatusQueued && job.Status != model.JobStatusQueued {
				pipe.ZRem(ctx, queuedIndexKey, queuedMember(&job))
			}
			if prevStatus != model.JobStatusQueued && job.Status == model.JobStatusQueued {
				pipe.ZAdd(ctx, queuedIndexKey, redis.Z{
					Score:  float64(job.Priority),
					Member: queuedMember(&job),
				})
			}
			if !prevStatus.IsTerminal() && job.Status.IsTerminal() {
				pipe.ZAdd(ctx, terminalIndexKey, redis.Z{
					Score:  float64(job.ExpiresAt.Unix()),
					Member: job.ID,
				})
			}
			if prevStatus.IsTerminal() && !job.Status.IsTerminal() {
				pipe.ZRem(ctx, terminalIndexKey, job.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = &job
		return nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("mutate %s: too many transaction conflicts", id)
}

func (s *RedisJobStore) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(id))
		pipe.ZRem(ctx, queuedIndexKey, queuedMember(job))
		pipe.ZRem(ctx, terminalIndexKey, id)
		return nil
	})
	return err
}

func (s *RedisJobStore) ListExpiredTerminal(ctx context.Context, now time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, terminalIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
}

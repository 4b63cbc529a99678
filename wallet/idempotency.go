/*
idempotency.go - Retry-safety via cached responses

PURPOSE:
  Binds a mutating request to a single effect regardless of retries. The
  cache lookup runs inside the same transaction as the transfer, so a caller
  that passes the check proceeds holding the wallet locks and commits the
  cached response together with the side effects.

TWO MECHANISMS, ON PURPOSE:
  1. This cache gives fast replays of completed requests.
  2. The uniqueness constraint on transactions.idempotency_key closes the
     write-write race: a second concurrent request that misses the cache
     (first commit not visible yet) collides on the constraint, and the
     orchestrator re-reads the cache once the winner has committed.
  At-most-once therefore holds without serializable isolation.

EXPIRY:
  Records older than the configured TTL are logically absent. A background
  sweeper deletes them eventually; correctness does not depend on it.

SEE ALSO:
  - engine.go: lookup before the transfer, store after it
*/
package wallet

import (
	"context"
	"encoding/json"
	"time"
)

// lookupCached returns the replayed result for key, if a live cache record
// exists. An empty key always misses.
func lookupCached(ctx context.Context, tx Tx, key string, now time.Time) (*TransferResult, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	rec, err := tx.IdempotencyLookup(ctx, key, now)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	res, err := decodeCachedResult(rec)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// storeCached records the transfer result under key. A collision with a
// concurrently stored record is a silent no-op.
func storeCached(ctx context.Context, tx Tx, key string, res *TransferResult, statusCode int, ttl time.Duration, now time.Time) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return Internalf(err, "encode idempotency response")
	}
	return tx.IdempotencyStore(ctx, &IdempotencyRecord{
		Key:        key,
		Response:   payload,
		StatusCode: statusCode,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	})
}

// decodeCachedResult rehydrates a stored response and tags it as a replay.
func decodeCachedResult(rec *IdempotencyRecord) (*TransferResult, error) {
	var res TransferResult
	if err := json.Unmarshal(rec.Response, &res); err != nil {
		return nil, Internalf(err, "decode idempotency response for key %q", rec.Key)
	}
	res.Idempotent = true
	return &res, nil
}

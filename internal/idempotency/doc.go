// Package idempotency deduplicates retried mutating requests. Each key is
// claimed before the side effect runs and maps to the recorded outcome, so
// any retry within the TTL window replays exactly what the original call
// produced, even when the retry arrives while the original is in flight.
package idempotency

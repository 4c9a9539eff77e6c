// ABOUTME: Retry/backoff policy for rate-limited completion calls
// ABOUTME: Pure function of the attempt number, unit-testable without real waits

package assistant

import (
	"math/rand"
	"time"
)

// maxAttempts is the total number of completion attempts per Respond call.
const maxAttempts = 5

// NextDelay returns the wait before retrying after a rate-limited attempt:
// 2^attempt seconds plus up to one second of jitter. Attempt is zero-based,
// so successive delays fall in disjoint, strictly increasing windows
// ([1s,2s), [2s,3s), [4s,5s), ...).
func NextDelay(attempt int) time.Duration {
	backoff := time.Duration(1<<attempt) * time.Second
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return backoff + jitter
}

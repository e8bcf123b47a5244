// Package engine executes batches of independent jobs on a bounded worker
// pool and retries failed attempts with jittered exponential backoff.
//
// Jobs mark permanent failures with NoRetry and may carry a server-provided
// delay with RetryAfter.
package engine

// Package retry provides exponential backoff retry logic for transient failures
// and bounded polling for eventually consistent provider state.
//
// [WithExponentialBackoff] retries an operation with configurable attempts and
// delays; errors wrapped with [Fatal] stop retrying immediately. [Poll] checks a
// condition on a fixed interval until it holds or a timeout elapses. Both are
// used for cloud API calls where deletions and state changes settle slowly.
package retry

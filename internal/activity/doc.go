// Package activity wraps each unit of pipeline work with a timeout, a
// liveness heartbeat deadline, and a retry policy profile.
//
// The gateway is the only place where retry decisions happen: transient
// provider and billing failures are retried with exponential backoff for as
// long as the profile allows (hours, under the production profile), while
// configuration-class errors fail the very first attempt. A phase that goes
// silent past its heartbeat deadline is treated as failed and fed through
// the same decision.
package activity

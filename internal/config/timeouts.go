package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable wait and retry budgets.
// These values can be customized via environment variables.
type Timeouts struct {
	InstanceReady        time.Duration // Budget for an instance to reach the ready state
	InstancePollInterval time.Duration // Interval between instance readiness checks
	PeeringVerify        time.Duration // Budget for peering to report connected (best-effort)
	PeeringPollInterval  time.Duration // Interval between peering state checks
	GatewayHealth        time.Duration // Budget for backend health to turn healthy (best-effort)
	GatewayPollInterval  time.Duration // Interval between backend health checks
	Delete               time.Duration // Timeout for a single delete operation
	NICReleaseAttempts   int           // Delete retries while an interface is still reserved
	NICReleaseDelay      time.Duration // Initial delay between interface delete retries
	RetryMaxAttempts     int           // Maximum number of retry attempts for API calls
	RetryInitialDelay    time.Duration // Initial delay between API call retries
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - HUBSPOKE_TIMEOUT_INSTANCE_READY (default: 10m)
//   - HUBSPOKE_POLL_INSTANCE (default: 10s)
//   - HUBSPOKE_TIMEOUT_PEERING (default: 2m)
//   - HUBSPOKE_POLL_PEERING (default: 10s)
//   - HUBSPOKE_TIMEOUT_GATEWAY_HEALTH (default: 5m)
//   - HUBSPOKE_POLL_GATEWAY (default: 30s)
//   - HUBSPOKE_TIMEOUT_DELETE (default: 10m)
//   - HUBSPOKE_NIC_RELEASE_ATTEMPTS (default: 6)
//   - HUBSPOKE_NIC_RELEASE_DELAY (default: 30s)
//   - HUBSPOKE_RETRY_MAX_ATTEMPTS (default: 5)
//   - HUBSPOKE_RETRY_INITIAL_DELAY (default: 1s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		InstanceReady:        parseDuration("HUBSPOKE_TIMEOUT_INSTANCE_READY", 10*time.Minute),
		InstancePollInterval: parseDuration("HUBSPOKE_POLL_INSTANCE", 10*time.Second),
		PeeringVerify:        parseDuration("HUBSPOKE_TIMEOUT_PEERING", 2*time.Minute),
		PeeringPollInterval:  parseDuration("HUBSPOKE_POLL_PEERING", 10*time.Second),
		GatewayHealth:        parseDuration("HUBSPOKE_TIMEOUT_GATEWAY_HEALTH", 5*time.Minute),
		GatewayPollInterval:  parseDuration("HUBSPOKE_POLL_GATEWAY", 30*time.Second),
		Delete:               parseDuration("HUBSPOKE_TIMEOUT_DELETE", 10*time.Minute),
		NICReleaseAttempts:   parseInt("HUBSPOKE_NIC_RELEASE_ATTEMPTS", 6),
		NICReleaseDelay:      parseDuration("HUBSPOKE_NIC_RELEASE_DELAY", 30*time.Second),
		RetryMaxAttempts:     parseInt("HUBSPOKE_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay:    parseDuration("HUBSPOKE_RETRY_INITIAL_DELAY", 1*time.Second),
	}
}

// FastTimeouts returns budgets suitable for the in-memory provider and tests.
func FastTimeouts() *Timeouts {
	return &Timeouts{
		InstanceReady:        2 * time.Second,
		InstancePollInterval: 5 * time.Millisecond,
		PeeringVerify:        200 * time.Millisecond,
		PeeringPollInterval:  5 * time.Millisecond,
		GatewayHealth:        200 * time.Millisecond,
		GatewayPollInterval:  5 * time.Millisecond,
		Delete:               2 * time.Second,
		NICReleaseAttempts:   4,
		NICReleaseDelay:      5 * time.Millisecond,
		RetryMaxAttempts:     2,
		RetryInitialDelay:    time.Millisecond,
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return i
}

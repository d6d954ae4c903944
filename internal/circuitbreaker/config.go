package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// envConfig overlays CB_<prefix>_* environment variables on the given
// defaults, so thresholds can be tuned without a redeploy.
func envConfig(prefix string, def Config) Config {
	return Config{
		MaxRequests:      envUint32("CB_"+prefix+"_MAX_REQUESTS", def.MaxRequests),
		Interval:         envDuration("CB_"+prefix+"_INTERVAL", def.Interval),
		Timeout:          envDuration("CB_"+prefix+"_TIMEOUT", def.Timeout),
		FailureThreshold: envUint32("CB_"+prefix+"_FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: envUint32("CB_"+prefix+"_SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

// Redis trips faster than Postgres: gate reads are cheap to retry and a
// flapping Redis should shed load quickly.
func redisBreakerConfig() Config {
	return envConfig("REDIS", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func databaseBreakerConfig() Config {
	return envConfig("DB", Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

func httpBreakerConfig() Config {
	return envConfig("HTTP", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func envUint32(key string, def uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

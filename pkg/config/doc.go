/*
Package config loads the gateway configuration.

Configuration comes from three layers, later layers winning:

 1. Built-in defaults (the numeric constants in this package).
 2. Environment variables (WORKER_URL, JWT_SECRET, SERVER_STALE_THRESHOLD,
    SERVER_CLEANUP_INTERVAL, MIN_HEALTH_CHECK_INTERVAL,
    MAX_HEALTH_CHECK_INTERVAL, TASK_TIMEOUT, CLEANUP_DELAY, MAX_RETRIES,
    plus LISTEN_ADDR, DATA_DIR, DATABASE_URL, LOG_LEVEL, LOG_JSON).
 3. An optional YAML file merged with MergeFile, typically supplied via
    the serve command's --config flag.

Duration knobs are integers in milliseconds in both the environment and
the YAML file; internally they become time.Duration.

WORKER_URL and JWT_SECRET have no defaults and Validate rejects a config
missing either.
*/
package config

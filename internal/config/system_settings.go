package config

import (
	"os"
	"strconv"
	"time"
)

const LOG_LEVEL = "RPA_LOG_LEVEL"
const DATABASE_TYPE = "RPA_DATABASE_TYPE"
const DATABASE_URL = "RPA_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "RPA_DATABASE_SQLLITE_FILE_NAME"
const EXECUTOR_NAME = "RPA_EXECUTOR_NAME"
const ENGINE_SERVER_WEB_PORT = "RPA_ENGINE_SERVER_WEB_PORT"
const ENGINE_EXECUTOR_SIZE = "RPA_ENGINE_EXECUTOR_SIZE" //number of workers, ie how many runs execute in parallel
const ENGINE_QUEUE_SIZE = "RPA_ENGINE_QUEUE_SIZE"       //runs accepted but not yet picked up by a worker
const ENGINE_RUN_TIMEOUT = "RPA_ENGINE_RUN_TIMEOUT"     //default run level budget, workflows may override
const ENGINE_HEARTBEAT_INTERVAL = "RPA_ENGINE_HEARTBEAT_INTERVAL"
const ENGINE_STALE_RUNS_INTERVAL = "RPA_ENGINE_STALE_RUNS_INTERVAL"
const ENGINE_STALE_RUN_MINUTES = "RPA_ENGINE_STALE_RUN_MINUTES"
const SCHEDULER_TICK_INTERVAL = "RPA_SCHEDULER_TICK_INTERVAL"
const SCHEDULER_REFRESH_INTERVAL = "RPA_SCHEDULER_REFRESH_INTERVAL"
const WATCH_REFRESH_INTERVAL = "RPA_WATCH_REFRESH_INTERVAL" //how often watched workflows are reloaded from the store
const API_KEY_HASH = "RPA_API_KEY_HASH"
const OTEL_EXPORTER_ENDPOINT = "RPA_OTEL_EXPORTER_ENDPOINT" //tracing is disabled when empty

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

var defaults = map[string]string{
	LOG_LEVEL:                  "info",
	DATABASE_TYPE:              DATABASE_TYPE_SQLLITE,
	DATABASE_SQLLITE_FILE_NAME: "./rpaflow.db",
	ENGINE_SERVER_WEB_PORT:     "8080",
	ENGINE_EXECUTOR_SIZE:       "5",
	ENGINE_QUEUE_SIZE:          "100",
	ENGINE_RUN_TIMEOUT:         "30m",
	ENGINE_HEARTBEAT_INTERVAL:  "30s",
	ENGINE_STALE_RUNS_INTERVAL: "60s",
	ENGINE_STALE_RUN_MINUTES:   "5",
	SCHEDULER_TICK_INTERVAL:    "1s",
	SCHEDULER_REFRESH_INTERVAL: "60s",
	WATCH_REFRESH_INTERVAL:     "30s",
}

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

// GetSystemSettingDuration parses the setting as a time.Duration, falling back
// to the default when the configured value does not parse.
func GetSystemSettingDuration(settingKey string) time.Duration {
	if d, err := time.ParseDuration(GetSystemSettingString(settingKey)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaults[settingKey])
	return d
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	return defaults[settingKey]
}

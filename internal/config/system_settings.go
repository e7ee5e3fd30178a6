package config

import (
	"os"
	"strconv"
	"time"
)

const DATABASE_TYPE = "SEQFLOW_DATABASE_TYPE"
const DATABASE_URL = "SEQFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "SEQFLOW_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "SEQFLOW_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "SEQFLOW_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_MACHINE_TICK_INTERVAL = "SEQFLOW_ENGINE_MACHINE_TICK_INTERVAL" //how long a machine waits between ticks
const ENGINE_STUCK_MACHINES_INTERVAL = "SEQFLOW_ENGINE_STUCK_MACHINES_INTERVAL"
const ENGINE_STUCK_MACHINES_REPAIR_AFTER_MINUTES = "SEQFLOW_ENGINE_STUCK_MACHINES_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "SEQFLOW_ENGINE_BATCH_SIZE"             //number of machines to pull from the database at a time
const ENGINE_EXECUTOR_GROUP = "SEQFLOW_ENGINE_EXECUTOR_GROUP"     //the group of machines this executor ticks
const ENGINE_EXECUTOR_SIZE = "SEQFLOW_ENGINE_EXECUTOR_SIZE"       //number of machines ticked in parallel
const ENGINE_TICK_PARALLELISM = "SEQFLOW_ENGINE_TICK_PARALLELISM" //concurrent dispatch/poll calls inside one tick
const ENGINE_TASK_CALL_TIMEOUT = "SEQFLOW_ENGINE_TASK_CALL_TIMEOUT"
const ENGINE_HEARTBEAT_INTERVAL = "SEQFLOW_ENGINE_HEARTBEAT_INTERVAL"
const EXECUTOR_NAME = "SEQFLOW_EXECUTOR_NAME"
const WEB_SESSION_EXPIRY_HOURS = "SEQFLOW_WEB_SESSION_EXPIRY_HOURS"
const SCHEDULER = "SEQFLOW_SCHEDULER"
const SCHEDULER_STATE_DIR = "SEQFLOW_SCHEDULER_STATE_DIR" //where local processes leave their output and exit codes
const SLURM_PARTITION = "SEQFLOW_SLURM_PARTITION"
const PIPELINE_CONFIG = "SEQFLOW_PIPELINE_CONFIG"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

const SCHEDULER_LOCAL = "LOCAL"
const SCHEDULER_SLURM = "SLURM"
const SCHEDULER_SIMULATOR = "SIMULATOR"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

// GetSystemSettingDuration parses settings such as "30s". An unparsable value yields zero.
func GetSystemSettingDuration(settingKey string) time.Duration {
	d, _ := time.ParseDuration(GetSystemSettingString(settingKey))
	return d
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	switch settingKey {
	case ENGINE_CHECK_DB_INTERVAL:
		return "5s"
	case ENGINE_MACHINE_TICK_INTERVAL:
		return "60s"
	case ENGINE_STUCK_MACHINES_INTERVAL:
		return "60s"
	case ENGINE_STUCK_MACHINES_REPAIR_AFTER_MINUTES:
		return "5"
	case ENGINE_BATCH_SIZE:
		return "10"
	case ENGINE_EXECUTOR_SIZE:
		return "4"
	case ENGINE_TICK_PARALLELISM:
		return "8"
	case ENGINE_TASK_CALL_TIMEOUT:
		return "30s"
	case ENGINE_HEARTBEAT_INTERVAL:
		return "30s"
	case ENGINE_EXECUTOR_GROUP:
		return "default"
	case ENGINE_SERVER_WEB_PORT:
		return "8080"
	case WEB_SESSION_EXPIRY_HOURS:
		return "8"
	case DATABASE_SQLLITE_FILE_NAME:
		return "./seqflow.db"
	case SCHEDULER:
		return SCHEDULER_LOCAL
	case SCHEDULER_STATE_DIR:
		return os.TempDir() + "/seqflow"
	}
	return ""
}

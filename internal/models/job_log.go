package models

import "time"

// LogLevel classifies a captured output line
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// NormalizeLogLevel maps arbitrary level strings onto the known set,
// defaulting to INFO
func NormalizeLogLevel(level string) LogLevel {
	switch LogLevel(level) {
	case LogLevelWarn, LogLevelError:
		return LogLevel(level)
	default:
		return LogLevelInfo
	}
}

// LogLine is one unit of captured playbook output. Lines are immutable once
// written, owned by their job and deleted with it. LineNumber is strictly
// increasing per job, assigned at append time.
type LogLine struct {
	JobID      string    `json:"job_id"`
	LineNumber int       `json:"line_number"`
	Content    string    `json:"content"`
	Level      LogLevel  `json:"level"`
	Timestamp  time.Time `json:"timestamp"`
}

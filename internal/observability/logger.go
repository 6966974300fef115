package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeTaskCreated     EventType = "task_created"
	EventTypeTaskTransition  EventType = "task_transition"
	EventTypeTaskAssigned    EventType = "task_assigned"
	EventTypeReportGenerated EventType = "report_generated"
	EventTypePolicyCheck     EventType = "policy_check"
	EventTypePipeline        EventType = "pipeline"
	EventTypeHeartbeat       EventType = "heartbeat"
	EventTypeError           EventType = "error"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. Every event is written as one JSON line
// to the output writer and, when a file path is configured, appended to a
// size-rotated file.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	path    string
	maxSize int64
	now     func() time.Time
}

// LogConfig configures NewLogger. Zero values mean stdout and no file sink.
type LogConfig struct {
	Output    io.Writer
	FilePath  string
	MaxSizeMB int
}

func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	maxSize := int64(cfg.MaxSizeMB) * 1024 * 1024
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024 // 10MB
	}
	return &Logger{
		out:     out,
		path:    cfg.FilePath,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Discard returns a logger that drops every event.
func Discard() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"type\":\"error\",\"data\":{\"error\":%q}}", "failed to marshal event: "+err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))
	if l.path != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	info, err := os.Stat(l.path)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

// Simple rotation: keep one .old file.
func (l *Logger) rotateLogs() {
	oldPath := l.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.path, oldPath)
}

// Helper methods for common events

func (l *Logger) LogTaskCreated(taskID, agent, description string) {
	l.Log(Event{
		Type:   EventTypeTaskCreated,
		TaskID: taskID,
		Agent:  agent,
		Data:   map[string]string{"description": description},
	})
}

func (l *Logger) LogTransition(taskID, from, to string) {
	l.Log(Event{
		Type:   EventTypeTaskTransition,
		TaskID: taskID,
		Data: map[string]string{
			"from": from,
			"to":   to,
		},
	})
}

func (l *Logger) LogAssigned(taskID, previous, agent string) {
	l.Log(Event{
		Type:   EventTypeTaskAssigned,
		TaskID: taskID,
		Agent:  agent,
		Data:   map[string]string{"previous": previous},
	})
}

func (l *Logger) LogReport(reportID, period string, metrics map[string]float64) {
	l.Log(Event{
		Type: EventTypeReportGenerated,
		Data: map[string]any{
			"report_id": reportID,
			"period":    period,
			"metrics":   metrics,
		},
	})
}

func (l *Logger) LogPolicyCheck(taskID, agent, effect, reason string) {
	l.Log(Event{
		Type:   EventTypePolicyCheck,
		TaskID: taskID,
		Agent:  agent,
		Data: map[string]string{
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogPipeline(taskID, agent, stage string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["stage"] = stage
	l.Log(Event{
		Type:   EventTypePipeline,
		TaskID: taskID,
		Agent:  agent,
		Data:   data,
	})
}

func (l *Logger) LogError(taskID string, err error) {
	l.Log(Event{
		Type:   EventTypeError,
		TaskID: taskID,
		Data:   map[string]string{"error": err.Error()},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

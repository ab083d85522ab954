// Audit logging: structured JSON-lines events recording what the
// workflow actually did (state transitions, browser operations, LLM
// calls, reward transactions). The trail is append-only and survives
// process restarts, so a run can be reconstructed after the fact.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies what kind of event was recorded.
type AuditEventType string

const (
	// Workflow lifecycle
	AuditWorkflowStart      AuditEventType = "workflow_start"
	AuditWorkflowTransition AuditEventType = "workflow_transition"
	AuditWorkflowComplete   AuditEventType = "workflow_complete"
	AuditWorkflowError      AuditEventType = "workflow_error"

	// Browser operations
	AuditOperationStart    AuditEventType = "operation_start"
	AuditOperationComplete AuditEventType = "operation_complete"
	AuditOperationError    AuditEventType = "operation_error"
	AuditCheckpoint        AuditEventType = "checkpoint"
	AuditRollback          AuditEventType = "rollback"

	// LLM API calls
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Knowledge and rewards
	AuditKnowledgeStore  AuditEventType = "knowledge_store"
	AuditKnowledgeSearch AuditEventType = "knowledge_search"
	AuditRewardIssued    AuditEventType = "reward_issued"
	AuditVersionRollback AuditEventType = "version_rollback"
)

// AuditEvent is a single structured audit record.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      AuditEventType         `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Subject   string                 `json:"subject,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// AuditLogger appends events to a JSON-lines file.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
}

var (
	auditLogger *AuditLogger
	auditMu     sync.Mutex
)

// InitAudit opens (or creates) the audit trail under dir. Call once at
// startup after Initialize. A nil error means Audit() will record.
func InitAudit(dir string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditLogger != nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	path := filepath.Join(dir, "audit.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	auditLogger = &AuditLogger{file: file, enc: json.NewEncoder(file), path: path}
	return nil
}

// CloseAudit flushes and closes the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger != nil && auditLogger.file != nil {
		auditLogger.file.Close()
	}
	auditLogger = nil
}

// Audit records an event. Safe to call before InitAudit (no-op).
func Audit(eventType AuditEventType, requestID, subject, detail string, fields map[string]interface{}) {
	auditMu.Lock()
	l := auditLogger
	auditMu.Unlock()
	if l == nil {
		return
	}
	l.record(AuditEvent{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		RequestID: requestID,
		Subject:   subject,
		Detail:    detail,
		Fields:    fields,
	})
}

func (l *AuditLogger) record(ev AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(ev); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: audit write failed: %v\n", err)
	}
}

// AuditTransition records a workflow state change.
func AuditTransition(requestID, from, to, reason string) {
	Audit(AuditWorkflowTransition, requestID, from, to, map[string]interface{}{"reason": reason})
}

// AuditOperation records a completed browser operation.
func AuditOperation(requestID, opID string, success bool, durationSec float64) {
	typ := AuditOperationComplete
	if !success {
		typ = AuditOperationError
	}
	Audit(typ, requestID, opID, "", map[string]interface{}{
		"success":  success,
		"duration": durationSec,
	})
}

// AuditReward records a reward transaction.
func AuditReward(requestID, entityID string, points int, decision string) {
	Audit(AuditRewardIssued, requestID, entityID, decision, map[string]interface{}{"points": points})
}

// ReadAuditTrail loads all events from the trail at path. Intended for
// tests and the report command, not hot paths.
func ReadAuditTrail(path string) ([]AuditEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []AuditEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev AuditEvent
		if err := dec.Decode(&ev); err != nil {
			break
		}
		events = append(events, ev)
	}
	return events, nil
}

package task

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority lanes, ordered highest first
const (
	PriorityVIP    = "vip"
	PriorityNormal = "normal"
	PriorityGuest  = "guest"
)

// SourceRedisQueue marks jobs drained from the Redis priority lanes.
// Any other source channel is the base URL of the HTTP producer the job
// was fetched from.
const SourceRedisQueue = "redis_queue"

// Test short-circuit markers. Jobs carrying these bypass all processors.
const (
	TestTaskPrefix   = "test_task_"
	TestWorkflowName = "test_workflow"
)

// Job is the canonical work item. It is immutable after normalisation;
// all downstream state lives in the engine session or the status reporter.
type Job struct {
	TaskID        string
	WorkflowName  string
	Priority      string
	SourceChannel string
	CallbackURL   string
	Params        map[string]any
	CreatedAt     string
	QueuedAt      string

	// Raw retains the producer payload for diagnostics
	Raw map[string]any
}

// Parse decodes a producer payload and normalises it
func Parse(data []byte, sourceChannel string) (*Job, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid task payload: %w", err)
	}
	return Normalize(raw, sourceChannel)
}

// Normalize canonicalises a producer-side record. Producers disagree on
// field names; every known variant is accepted. Normalising an
// already-canonical record is a no-op.
func Normalize(raw map[string]any, sourceChannel string) (*Job, error) {
	taskID := firstString(raw, "taskId", "task_id", "id")
	if taskID == "" {
		return nil, fmt.Errorf("task payload has no task id")
	}

	params, _ := raw["params"].(map[string]any)

	workflow := firstString(raw, "workflowName", "workflow", "workflow_name")
	if workflow == "" && params != nil {
		workflow = firstString(params, "workflowName", "workflow_name")
	}
	if workflow == "" {
		workflow = "default"
	}

	callback := firstString(raw, "callbackUrl", "callback_url")
	if callback == "" && params != nil {
		callback = firstString(params, "callbackUrl")
	}

	priority := firstString(raw, "priority")
	if priority == "" {
		priority = PriorityNormal
	}

	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["input_data"]; !ok {
		params = map[string]any{"input_data": params}
	}

	return &Job{
		TaskID:        taskID,
		WorkflowName:  workflow,
		Priority:      priority,
		SourceChannel: sourceChannel,
		CallbackURL:   callback,
		Params:        params,
		CreatedAt:     firstString(raw, "createdAt", "created_at"),
		QueuedAt:      firstString(raw, "queuedAt", "queued_at"),
		Raw:           raw,
	}, nil
}

// InputData returns the structured payload block
func (j *Job) InputData() map[string]any {
	if data, ok := j.Params["input_data"].(map[string]any); ok {
		return data
	}
	return nil
}

// WFJSON returns the node graph (or face-swap parameter block) for this job
func (j *Job) WFJSON() (map[string]any, bool) {
	data := j.InputData()
	if data == nil {
		return nil, false
	}
	wf, ok := data["wf_json"].(map[string]any)
	return wf, ok
}

// IsTest reports whether the job is a test short-circuit marker
func (j *Job) IsTest() bool {
	return strings.HasPrefix(j.TaskID, TestTaskPrefix) ||
		strings.HasPrefix(j.WorkflowName, TestTaskPrefix) ||
		j.WorkflowName == TestWorkflowName
}

// firstString returns the first non-empty string value among the keys
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

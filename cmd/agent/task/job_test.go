package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFieldVariants(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]any
		wantID   string
		wantWF   string
		wantCB   string
		wantPrio string
	}{
		{
			name:     "camelCase producer",
			raw:      map[string]any{"taskId": "t1", "workflowName": "comfyui_basic", "callbackUrl": "https://p.test"},
			wantID:   "t1",
			wantWF:   "comfyui_basic",
			wantCB:   "https://p.test",
			wantPrio: "normal",
		},
		{
			name:     "snake_case producer",
			raw:      map[string]any{"task_id": "t2", "workflow_name": "faceswap", "callback_url": "https://q.test", "priority": "vip"},
			wantID:   "t2",
			wantWF:   "faceswap",
			wantCB:   "https://q.test",
			wantPrio: "vip",
		},
		{
			name:     "bare id and workflow",
			raw:      map[string]any{"id": "t3", "workflow": "text_to_image"},
			wantID:   "t3",
			wantWF:   "text_to_image",
			wantPrio: "normal",
		},
		{
			name: "workflow nested in params",
			raw: map[string]any{
				"task_id": "t4",
				"params":  map[string]any{"workflowName": "comfyui_video", "callbackUrl": "https://r.test"},
			},
			wantID:   "t4",
			wantWF:   "comfyui_video",
			wantCB:   "https://r.test",
			wantPrio: "normal",
		},
		{
			name:     "missing workflow defaults",
			raw:      map[string]any{"task_id": "t5"},
			wantID:   "t5",
			wantWF:   "default",
			wantPrio: "normal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := Normalize(tt.raw, SourceRedisQueue)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, job.TaskID)
			assert.Equal(t, tt.wantWF, job.WorkflowName)
			assert.Equal(t, tt.wantCB, job.CallbackURL)
			assert.Equal(t, tt.wantPrio, job.Priority)
			assert.Equal(t, SourceRedisQueue, job.SourceChannel)
		})
	}
}

func TestNormalizeRequiresTaskID(t *testing.T) {
	_, err := Normalize(map[string]any{"workflow_name": "x"}, SourceRedisQueue)
	assert.Error(t, err)
}

func TestNormalizeWrapsParamsAsInputData(t *testing.T) {
	job, err := Normalize(map[string]any{
		"task_id": "t1",
		"params":  map[string]any{"wf_json": map[string]any{"1": map[string]any{"class_type": "SaveImage"}}},
	}, "https://producer.test")
	require.NoError(t, err)

	wf, ok := job.WFJSON()
	require.True(t, ok)
	assert.Contains(t, wf, "1")
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := map[string]any{
		"task_id":       "t1",
		"workflow_name": "comfyui_basic",
		"priority":      "guest",
		"params": map[string]any{
			"input_data": map[string]any{"wf_json": map[string]any{}},
		},
	}

	first, err := Normalize(raw, SourceRedisQueue)
	require.NoError(t, err)

	again := map[string]any{
		"task_id":       first.TaskID,
		"workflow_name": first.WorkflowName,
		"priority":      first.Priority,
		"params":        first.Params,
	}
	second, err := Normalize(again, SourceRedisQueue)
	require.NoError(t, err)

	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, first.WorkflowName, second.WorkflowName)
	assert.Equal(t, first.Priority, second.Priority)
	assert.Equal(t, first.Params, second.Params)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte("{not json"), SourceRedisQueue)
	assert.Error(t, err)
}

func TestIsTest(t *testing.T) {
	mk := func(id, wf string) *Job { return &Job{TaskID: id, WorkflowName: wf} }

	assert.True(t, mk("test_task_123", "comfyui_basic").IsTest())
	assert.True(t, mk("t1", "test_workflow").IsTest())
	assert.False(t, mk("t1", "comfyui_basic").IsTest())
	assert.False(t, mk("task_test_1", "faceswap").IsTest())
}

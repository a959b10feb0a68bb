package processor

import (
	"context"
	"strings"

	"github.com/lyzr/gpu-agent/cmd/agent/task"
	"github.com/lyzr/gpu-agent/common/logger"
)

// Outcome is what the dispatcher needs to know after a job: whether it
// reached a terminal state or must be released for a later retry.
type Outcome int

const (
	// OutcomeCompleted: terminal success, COMPLETED callback sent
	OutcomeCompleted Outcome = iota
	// OutcomeFailed: terminal failure, FAILED callback sent
	OutcomeFailed
	// OutcomeUnavailable: the engine could not be reached; no callback
	// was sent and the job stays eligible for another worker
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Processor runs one job end to end, including its status callbacks
type Processor interface {
	Process(ctx context.Context, j *task.Job) Outcome
}

// builtinWorkflows route to the workflow processor without a warning
var builtinWorkflows = map[string]bool{
	"basic_generation": true,
	"text_to_image":    true,
	"image_to_image":   true,
	"inpainting":       true,
	"default":          true,
}

// Registry maps workflow names to processors
type Registry struct {
	workflow Processor
	faceSwap Processor
	log      *logger.Logger
}

// NewRegistry creates the processor registry
func NewRegistry(workflow, faceSwap Processor, log *logger.Logger) *Registry {
	return &Registry{
		workflow: workflow,
		faceSwap: faceSwap,
		log:      log,
	}
}

// For selects the processor for a workflow name. Everything that is not a
// face-swap job runs on the workflow processor; unrecognised names get a
// warning but are not rejected — admission is the filter's job.
func (r *Registry) For(workflowName string) Processor {
	switch {
	case workflowName == "faceswap" || workflowName == "face_swap":
		return r.faceSwap
	case strings.HasPrefix(workflowName, "comfyui_"):
		return r.workflow
	case builtinWorkflows[workflowName]:
		return r.workflow
	case workflowName == "":
		r.log.Warn("job has no workflow name, using workflow processor")
		return r.workflow
	default:
		r.log.Warn("unrecognised workflow name, using workflow processor", "workflow_name", workflowName)
		return r.workflow
	}
}

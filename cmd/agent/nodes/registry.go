package nodes

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/lyzr/gpu-agent/cmd/agent/media"
	"github.com/lyzr/gpu-agent/common/logger"
)

// UploadTask describes one artifact to move from the engine's filesystem
// to object storage. The destination path embeds a per-job sequence
// number assigned in harvest order, so paths are unique within a job.
type UploadTask struct {
	Kind            string
	Filename        string
	Subfolder       string
	FolderType      string
	DestinationPath string
	SourceNodeID    string
}

// Registry holds the input and output handlers, tried in registration
// order. The iteration order is part of the contract: result URLs come
// out in harvest order.
type Registry struct {
	inputs  []InputHandler
	outputs []OutputHandler
	log     *logger.Logger
}

// NewRegistry creates a registry with the built-in handlers
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		inputs:  builtinInputHandlers(),
		outputs: builtinOutputHandlers(),
		log:     log,
	}
}

// RegisterInput appends a custom input handler
func (r *Registry) RegisterInput(h InputHandler) {
	r.inputs = append(r.inputs, h)
}

// RegisterOutput appends a custom output handler
func (r *Registry) RegisterOutput(h OutputHandler) {
	r.outputs = append(r.outputs, h)
}

// CollectRemoteRefs walks the graph and returns every remote-URL input
// reference a handler recognises
func (r *Registry) CollectRemoteRefs(graph map[string]any) []InputRef {
	var refs []InputRef
	for _, nodeID := range sortedNodeIDs(graph) {
		node, ok := graph[nodeID].(map[string]any)
		if !ok {
			continue
		}
		classType := nodeClass(node)
		for _, h := range r.inputs {
			if !h.CanHandle(classType) {
				continue
			}
			refs = append(refs, h.RemoteRefs(nodeID, nodeInputs(node))...)
			break
		}
	}
	return refs
}

// RewriteInputs replaces each downloaded reference's URL with its local
// filename, in place. Refs whose URL is missing from files are left
// untouched; the caller treats that gap as fatal before submit.
func RewriteInputs(graph map[string]any, refs []InputRef, files map[string]string) {
	for _, ref := range refs {
		local, ok := files[ref.URL]
		if !ok {
			continue
		}
		node, ok := graph[ref.NodeID].(map[string]any)
		if !ok {
			continue
		}
		if inputs := nodeInputs(node); inputs != nil {
			inputs[ref.Field] = local
		}
	}
}

// Harvest enumerates upload tasks from the engine's history outputs,
// then scans the submitted graph for VHS_VideoCombine nodes the engine
// omitted from outputs but whose save_output is truthy — the one case
// where a node absent from history still contributes an artifact.
func (r *Registry) Harvest(taskID string, outputs map[string]any, graph map[string]any, now time.Time) []UploadTask {
	var tasks []UploadTask
	seq := 0

	add := func(nodeID string, art Artifact) {
		ext := path.Ext(art.Filename)
		tasks = append(tasks, UploadTask{
			Kind:            media.KindFor(art.Filename),
			Filename:        art.Filename,
			Subfolder:       art.Subfolder,
			FolderType:      art.FolderType,
			DestinationPath: fmt.Sprintf("%s/%s_%d%s", now.Format("20060102"), taskID, seq, ext),
			SourceNodeID:    nodeID,
		})
		seq++
	}

	for _, nodeID := range sortedNodeIDs(outputs) {
		output, ok := outputs[nodeID].(map[string]any)
		if !ok {
			continue
		}
		node, _ := graph[nodeID].(map[string]any)
		classType := nodeClass(node)
		if classType == "" {
			r.log.Debug("output node missing from graph", "node_id", nodeID)
			continue
		}

		for _, h := range r.outputs {
			if !h.CanHandle(classType) {
				continue
			}
			for _, art := range h.Artifacts(output, nodeInputs(node)) {
				add(nodeID, art)
			}
			break
		}
	}

	vhs := &vhsHandler{}
	for _, nodeID := range sortedNodeIDs(graph) {
		if _, reported := outputs[nodeID]; reported {
			continue
		}
		node, ok := graph[nodeID].(map[string]any)
		if !ok || nodeClass(node) != "VHS_VideoCombine" {
			continue
		}
		inputs := nodeInputs(node)
		if !truthy(inputs["save_output"]) {
			continue
		}
		r.log.Info("synthesising output for unreported video node", "node_id", nodeID)
		add(nodeID, vhs.Synthesize(inputs))
	}

	return tasks
}

func nodeClass(node map[string]any) string {
	if node == nil {
		return ""
	}
	s, _ := node["class_type"].(string)
	return s
}

func nodeInputs(node map[string]any) map[string]any {
	if node == nil {
		return nil
	}
	m, _ := node["inputs"].(map[string]any)
	return m
}

// sortedNodeIDs returns map keys in numeric order where possible (engine
// node ids are numeric strings), lexical otherwise
func sortedNodeIDs(m map[string]any) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val == "true" || val == "1" || val == "True"
	default:
		return false
	}
}

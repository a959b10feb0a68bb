package nodes

import (
	"github.com/lyzr/gpu-agent/cmd/agent/media"
)

// InputRef names one remote asset reference found in the graph: the node
// and field holding the URL, and the media kind the node expects
type InputRef struct {
	NodeID string
	Field  string
	Kind   string
	URL    string
}

// InputHandler finds remote-URL inputs on nodes of a given class
type InputHandler interface {
	CanHandle(classType string) bool
	RemoteRefs(nodeID string, inputs map[string]any) []InputRef
}

// fieldInputHandler covers the load nodes that take a single asset field
type fieldInputHandler struct {
	classType string
	field     string
	kind      string
}

func (h *fieldInputHandler) CanHandle(classType string) bool {
	return classType == h.classType
}

func (h *fieldInputHandler) RemoteRefs(nodeID string, inputs map[string]any) []InputRef {
	val, ok := inputs[h.field].(string)
	if !ok || !media.IsRemoteURL(val) {
		return nil
	}
	return []InputRef{{NodeID: nodeID, Field: h.field, Kind: h.kind, URL: val}}
}

// builtinInputHandlers in registration order
func builtinInputHandlers() []InputHandler {
	return []InputHandler{
		&fieldInputHandler{classType: "LoadImage", field: "image", kind: media.KindImage},
		&fieldInputHandler{classType: "LoadAudio", field: "audio", kind: media.KindAudio},
	}
}

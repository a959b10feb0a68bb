package nodes

import (
	"fmt"
	"net/url"
	"strings"
)

// Artifact locates one result file on the engine's filesystem, in the
// coordinates the /view endpoint understands
type Artifact struct {
	Filename   string
	Subfolder  string
	FolderType string
}

// OutputHandler enumerates artifacts from a node's history output.
// output is the per-node mapping from /history; inputs is the node's
// submitted inputs block, available for fallback synthesis.
type OutputHandler interface {
	CanHandle(classType string) bool
	Artifacts(output map[string]any, inputs map[string]any) []Artifact
}

// fileArtifacts parses the engine's list-of-file-records shape
// ([{filename, subfolder, type}, …]) under the given key
func fileArtifacts(output map[string]any, key, defaultFolderType string) []Artifact {
	list, ok := output[key].([]any)
	if !ok {
		return nil
	}

	var out []Artifact
	for _, entry := range list {
		rec, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		filename, _ := rec["filename"].(string)
		if filename == "" {
			continue
		}
		subfolder, _ := rec["subfolder"].(string)
		folderType, _ := rec["type"].(string)
		if folderType == "" {
			folderType = defaultFolderType
		}
		out = append(out, Artifact{Filename: filename, Subfolder: subfolder, FolderType: folderType})
	}
	return out
}

// imagesHandler covers SaveImage and PreviewImage. Preview artifacts live
// in the engine's temp folder, saved ones in output.
type imagesHandler struct {
	classType  string
	folderType string
}

func (h *imagesHandler) CanHandle(classType string) bool {
	return classType == h.classType
}

func (h *imagesHandler) Artifacts(output map[string]any, _ map[string]any) []Artifact {
	return fileArtifacts(output, "images", h.folderType)
}

// audioHandler covers SaveAudio, which emits under audio[] or audios[]
// depending on engine version
type audioHandler struct{}

func (h *audioHandler) CanHandle(classType string) bool {
	return classType == "SaveAudio"
}

func (h *audioHandler) Artifacts(output map[string]any, _ map[string]any) []Artifact {
	if arts := fileArtifacts(output, "audio", "output"); len(arts) > 0 {
		return arts
	}
	return fileArtifacts(output, "audios", "output")
}

// saveVideoHandler covers SaveVideo. Engine versions disagree on which
// list carries the files; the first non-empty of images/videos/gifs wins.
// When all are empty the canonical output filename is synthesised from
// the node's filename_prefix.
type saveVideoHandler struct{}

func (h *saveVideoHandler) CanHandle(classType string) bool {
	return classType == "SaveVideo"
}

func (h *saveVideoHandler) Artifacts(output map[string]any, inputs map[string]any) []Artifact {
	for _, key := range []string{"images", "videos", "gifs"} {
		if arts := fileArtifacts(output, key, "output"); len(arts) > 0 {
			return arts
		}
	}

	prefix := "video"
	if p, ok := inputs["filename_prefix"].(string); ok && p != "" {
		prefix = p
	}
	return []Artifact{{Filename: fmt.Sprintf("%s_00001.mp4", prefix), FolderType: "output"}}
}

// vhsHandler covers VHS_VideoCombine: gifs[] plus image/preview widget
// entries whose value is a /view? URL
type vhsHandler struct{}

func (h *vhsHandler) CanHandle(classType string) bool {
	return classType == "VHS_VideoCombine"
}

func (h *vhsHandler) Artifacts(output map[string]any, _ map[string]any) []Artifact {
	arts := fileArtifacts(output, "gifs", "output")

	widgets, _ := output["widgets"].([]any)
	for _, entry := range widgets {
		rec, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := rec["type"].(string)
		if kind != "image" && kind != "preview" {
			continue
		}
		value, _ := rec["value"].(string)
		if art, ok := parseViewURL(value); ok {
			arts = append(arts, art)
		}
	}
	return arts
}

// Synthesize builds the artifact a VHS_VideoCombine node with
// save_output=true writes by convention, from its submitted inputs.
// Used when the engine omitted the node from history outputs.
func (h *vhsHandler) Synthesize(inputs map[string]any) Artifact {
	prefix := "AnimateDiff"
	if p, ok := inputs["filename_prefix"].(string); ok && p != "" {
		prefix = p
	}

	ext := ".mp4"
	if format, ok := inputs["format"].(string); ok {
		switch {
		case strings.Contains(format, "webm"):
			ext = ".webm"
		case strings.Contains(format, "gif"):
			ext = ".gif"
		}
	}

	return Artifact{Filename: prefix + "00001" + ext, FolderType: "output"}
}

// parseViewURL extracts the file coordinates from a /view?filename=…
// widget value
func parseViewURL(raw string) (Artifact, bool) {
	if raw == "" || !strings.Contains(raw, "/view?") {
		return Artifact{}, false
	}
	query := raw[strings.Index(raw, "?")+1:]
	values, err := url.ParseQuery(query)
	if err != nil || values.Get("filename") == "" {
		return Artifact{}, false
	}
	folderType := values.Get("type")
	if folderType == "" {
		folderType = "output"
	}
	return Artifact{
		Filename:   values.Get("filename"),
		Subfolder:  values.Get("subfolder"),
		FolderType: folderType,
	}, true
}

// builtinOutputHandlers in registration order
func builtinOutputHandlers() []OutputHandler {
	return []OutputHandler{
		&imagesHandler{classType: "SaveImage", folderType: "output"},
		&imagesHandler{classType: "PreviewImage", folderType: "temp"},
		&audioHandler{},
		&saveVideoHandler{},
		&vhsHandler{},
	}
}

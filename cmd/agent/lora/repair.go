package lora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/logger"
)

// catalogNodeType is the introspection endpoint queried for the model list
const catalogNodeType = "LoraLoader"

// loaderTypes are the node classes whose lora_name field gets repaired
var loaderTypes = map[string]bool{
	"LoraLoader":          true,
	"LoraLoaderModelOnly": true,
}

// Service repairs bare LoRA filenames in a graph to the sub-directory
// qualified paths the engine expects. The catalog is fetched lazily from
// the engine's introspection endpoint and cached per process.
type Service struct {
	engineURL    string
	http         *clients.HTTPClient
	log          *logger.Logger
	cacheEnabled bool

	mu     sync.Mutex
	loaded bool
	byBase map[string]string // basename → full path
	known  map[string]bool   // full paths as enumerated by the engine
}

// NewService creates a repair service against the engine base URL
func NewService(engineURL string, httpClient *clients.HTTPClient, cacheEnabled bool, log *logger.Logger) *Service {
	return &Service{
		engineURL:    strings.TrimRight(engineURL, "/"),
		http:         httpClient,
		log:          log,
		cacheEnabled: cacheEnabled,
	}
}

// Invalidate drops the cached catalog; the next repair refetches it
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.byBase = nil
	s.known = nil
}

// Repair rewrites lora_name fields in place. A failed catalog fetch is
// non-fatal: the graph passes through unchanged and the engine produces
// its own diagnostic on submit. Repairing twice is a no-op.
func (s *Service) Repair(ctx context.Context, graph map[string]any) {
	var nodes []map[string]any
	for _, raw := range graph {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if classType, _ := node["class_type"].(string); loaderTypes[classType] {
			nodes = append(nodes, node)
		}
	}
	if len(nodes) == 0 {
		return
	}

	if err := s.ensureCatalog(ctx); err != nil {
		s.log.Warn("lora catalog unavailable, skipping path repair", "error", err)
		return
	}

	for _, node := range nodes {
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		name, ok := inputs["lora_name"].(string)
		if !ok || name == "" {
			continue
		}

		s.mu.Lock()
		alreadyFull := s.known[name]
		full, hit := s.byBase[path.Base(name)]
		s.mu.Unlock()

		if alreadyFull {
			continue
		}
		if hit {
			s.log.Info("repaired lora path", "from", name, "to", full)
			inputs["lora_name"] = full
			continue
		}
		// Leave unknown names untouched so the engine fails the job
		// with its own precise diagnostic
		s.log.Warn("lora not found in engine catalog", "lora_name", name)
	}
}

func (s *Service) ensureCatalog(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && s.cacheEnabled {
		return nil
	}

	names, err := s.fetchCatalog(ctx)
	if err != nil {
		return err
	}

	s.byBase = make(map[string]string, len(names))
	s.known = make(map[string]bool, len(names))
	for _, full := range names {
		s.known[full] = true
		s.byBase[path.Base(full)] = full
	}
	s.loaded = true

	s.log.Info("lora catalog loaded", "count", len(names))
	return nil
}

// fetchCatalog pulls the enumerated lora_name options from
// /object_info/<type>. Response shape:
// {<type>: {input: {required: {lora_name: [[name, …], {…}]}}}}
func (s *Service) fetchCatalog(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/object_info/%s", s.engineURL, catalogNodeType)
	resp, err := s.http.DoWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("object_info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("object_info returned status %d", resp.StatusCode)
	}

	var payload map[string]struct {
		Input struct {
			Required map[string]json.RawMessage `json:"required"`
		} `json:"input"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid object_info response: %w", err)
	}

	info, ok := payload[catalogNodeType]
	if !ok {
		return nil, fmt.Errorf("object_info response missing %s", catalogNodeType)
	}
	raw, ok := info.Input.Required["lora_name"]
	if !ok {
		return nil, fmt.Errorf("object_info response missing lora_name field")
	}

	// lora_name is [[name, …], {metadata}]; only the first element matters
	var field []json.RawMessage
	if err := json.Unmarshal(raw, &field); err != nil || len(field) == 0 {
		return nil, fmt.Errorf("unexpected lora_name field shape")
	}
	var names []string
	if err := json.Unmarshal(field[0], &names); err != nil {
		return nil, fmt.Errorf("unexpected lora_name option list: %w", err)
	}
	return names, nil
}

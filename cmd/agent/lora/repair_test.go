package lora

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/gpu-agent/common/clients"
	"github.com/lyzr/gpu-agent/common/logger"
)

func catalogServer(t *testing.T, names []string) (*httptest.Server, *int) {
	t.Helper()
	hits := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		require.Equal(t, "/object_info/LoraLoader", r.URL.Path)
		payload := map[string]any{
			"LoraLoader": map[string]any{
				"input": map[string]any{
					"required": map[string]any{
						"lora_name": []any{names, map[string]any{}},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func newService(t *testing.T, url string) *Service {
	log := logger.New("error", "text")
	return NewService(url, clients.NewHTTPClient(&http.Client{}, log), true, log)
}

func loraNode(name string) map[string]any {
	return map[string]any{
		"class_type": "LoraLoader",
		"inputs":     map[string]any{"lora_name": name},
	}
}

func loraName(graph map[string]any, nodeID string) string {
	return graph[nodeID].(map[string]any)["inputs"].(map[string]any)["lora_name"].(string)
}

func TestRepairRewritesBasename(t *testing.T) {
	srv, _ := catalogServer(t, []string{"styles/anime_v2.safetensors", "detail.safetensors"})
	s := newService(t, srv.URL)

	graph := map[string]any{"1": loraNode("anime_v2.safetensors")}
	s.Repair(context.Background(), graph)

	assert.Equal(t, "styles/anime_v2.safetensors", loraName(graph, "1"))
}

func TestRepairLeavesFullPathUnchanged(t *testing.T) {
	srv, _ := catalogServer(t, []string{"styles/anime_v2.safetensors"})
	s := newService(t, srv.URL)

	graph := map[string]any{"1": loraNode("styles/anime_v2.safetensors")}
	s.Repair(context.Background(), graph)

	assert.Equal(t, "styles/anime_v2.safetensors", loraName(graph, "1"))
}

func TestRepairLeavesUnknownNameUnchanged(t *testing.T) {
	srv, _ := catalogServer(t, []string{"styles/anime_v2.safetensors"})
	s := newService(t, srv.URL)

	graph := map[string]any{"1": loraNode("missing.safetensors")}
	s.Repair(context.Background(), graph)

	// The engine fails the job itself with a precise diagnostic
	assert.Equal(t, "missing.safetensors", loraName(graph, "1"))
}

func TestRepairIdempotent(t *testing.T) {
	srv, _ := catalogServer(t, []string{"styles/anime_v2.safetensors"})
	s := newService(t, srv.URL)

	graph := map[string]any{"1": loraNode("anime_v2.safetensors")}
	s.Repair(context.Background(), graph)
	first := loraName(graph, "1")
	s.Repair(context.Background(), graph)

	assert.Equal(t, first, loraName(graph, "1"))
}

func TestRepairCachesCatalog(t *testing.T) {
	srv, hits := catalogServer(t, []string{"styles/anime_v2.safetensors"})
	s := newService(t, srv.URL)

	graph := map[string]any{"1": loraNode("anime_v2.safetensors")}
	s.Repair(context.Background(), graph)
	s.Repair(context.Background(), map[string]any{"1": loraNode("anime_v2.safetensors")})

	assert.Equal(t, 1, *hits)

	s.Invalidate()
	s.Repair(context.Background(), map[string]any{"1": loraNode("anime_v2.safetensors")})
	assert.Equal(t, 2, *hits)
}

func TestRepairSkipsGraphWithoutLoraNodes(t *testing.T) {
	srv, hits := catalogServer(t, nil)
	s := newService(t, srv.URL)

	s.Repair(context.Background(), map[string]any{
		"1": map[string]any{"class_type": "KSampler", "inputs": map[string]any{}},
	})

	assert.Equal(t, 0, *hits)
}

func TestRepairCatalogFailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	s := newService(t, srv.URL)

	graph := map[string]any{"1": loraNode("anime_v2.safetensors")}
	s.Repair(context.Background(), graph)

	assert.Equal(t, "anime_v2.safetensors", loraName(graph, "1"))
}

package engine

import (
	"sync"

	"github.com/lyzr/gpu-agent/common/logger"
)

// Cache holds one long-lived client per workflow name. Entries are
// created on demand and evicted when a job fails with a connection-class
// error; the replacement client gets a fresh client id and connection.
type Cache struct {
	mu      sync.Mutex
	baseURL string
	clients map[string]*Client
	log     *logger.Logger
}

// NewCache creates a client cache against the engine base URL
func NewCache(baseURL string, log *logger.Logger) *Cache {
	return &Cache{
		baseURL: baseURL,
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Get returns the cached client for a workflow, creating it if needed
func (c *Cache) Get(workflow string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[workflow]; ok {
		return client
	}

	client := NewClient(workflow, c.baseURL, c.log)
	c.clients[workflow] = client
	c.log.Info("created engine client", "workflow_name", workflow)
	return client
}

// Evict drops the cached client for a workflow and closes its connection
func (c *Cache) Evict(workflow string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[workflow]; ok {
		client.Close()
		delete(c.clients, workflow)
		c.log.Warn("evicted engine client", "workflow_name", workflow)
	}
}

// Size reports the number of cached clients
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

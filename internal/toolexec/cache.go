package toolexec

import (
	"encoding/json"
	"fmt"
	"sync"
)

// resultCache stores observations of cacheable tools keyed by tool name and
// canonicalized arguments. Writes are keyed uniquely per (tool, args) and
// content is deterministic for cacheable tools, so last-writer-wins races
// are benign.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]Observation
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]Observation)}
}

// cacheKey canonicalizes arguments via JSON encoding. encoding/json sorts
// map keys, so semantically equal argument maps produce the same key.
func cacheKey(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		// Non-encodable args are never cache hits.
		data = []byte(fmt.Sprintf("%v", args))
	}
	return name + "\x00" + string(data)
}

func (c *resultCache) get(key string) (Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obs, ok := c.entries[key]
	return obs, ok
}

func (c *resultCache) put(key string, obs Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = obs
}

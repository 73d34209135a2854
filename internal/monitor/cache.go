package monitor

import "sync"

// TemplateCache holds per-monitor expanded argv and description strings.
// Entries are computed on first access and dropped on explicit invalidation:
// FlushAll when a definition or its schema changes, Flush when a single
// monitor's arguments change or it is purged.
type TemplateCache struct {
	mu   sync.Mutex
	argv map[int64][]string
	desc map[int64]string
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{
		argv: make(map[int64][]string),
		desc: make(map[int64]string),
	}
}

// Argv returns the cached argv for a monitor, computing it on a miss.
func (c *TemplateCache) Argv(monitorID int64, compute func() ([]string, error)) ([]string, error) {
	c.mu.Lock()
	if argv, ok := c.argv[monitorID]; ok {
		c.mu.Unlock()
		return argv, nil
	}
	c.mu.Unlock()

	argv, err := compute()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.argv[monitorID] = argv
	c.mu.Unlock()
	return argv, nil
}

// Description returns the cached description for a monitor, computing it on
// a miss.
func (c *TemplateCache) Description(monitorID int64, compute func() (string, error)) (string, error) {
	c.mu.Lock()
	if desc, ok := c.desc[monitorID]; ok {
		c.mu.Unlock()
		return desc, nil
	}
	c.mu.Unlock()

	desc, err := compute()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.desc[monitorID] = desc
	c.mu.Unlock()
	return desc, nil
}

// Flush drops the cached values for one monitor.
func (c *TemplateCache) Flush(monitorID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.argv, monitorID)
	delete(c.desc, monitorID)
}

// FlushAll drops every cached value.
func (c *TemplateCache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.argv = make(map[int64][]string)
	c.desc = make(map[int64]string)
}

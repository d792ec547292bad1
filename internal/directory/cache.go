// Package directory implements the service directory: an agent holding the
// name → record registry that other agents register with and query to find
// each other by name or by service path.
package directory

import (
	"sort"
	"strings"
	"sync"
)

// AgentRecord is one directory entry. Service is a slash-delimited path such
// as /wrapper/pubmed; Secret is the capability needed to remove the record.
type AgentRecord struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	Secret  string `json:"secret,omitempty"`
}

// Public returns the record without its secret, as handed out by lookups.
func (r AgentRecord) Public() AgentRecord {
	r.Secret = ""
	return r
}

// Cache is the in-memory registry. Every mutation is a single check-and-set
// under the write lock, so two registrations of the same name cannot both win.
type Cache struct {
	mu      sync.RWMutex
	records map[string]AgentRecord
}

func NewCache() *Cache {
	return &Cache{records: make(map[string]AgentRecord)}
}

// AddAgent inserts rec if no record with the same name exists and rec has a
// service path. Existing records are never overwritten.
func (c *Cache) AddAgent(rec AgentRecord) bool {
	if rec.Name == "" || rec.Service == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.records[rec.Name]; exists {
		return false
	}
	c.records[rec.Name] = rec
	return true
}

// RemoveAgent removes name if secret matches the stored one.
func (c *Cache) RemoveAgent(name, secret string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[name]
	if !ok || rec.Secret != secret {
		return false
	}
	delete(c.records, name)
	return true
}

// ForceRemoveAgent removes name without checking the secret.
func (c *Cache) ForceRemoveAgent(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[name]; !ok {
		return false
	}
	delete(c.records, name)
	return true
}

func (c *Cache) GetByName(name string) (AgentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[name]
	return rec, ok
}

// GetByService returns the first record, in name order, whose service path
// equals service.
func (c *Cache) GetByService(service string) (AgentRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range c.sortedNames() {
		if rec := c.records[name]; rec.Service == service {
			return rec, true
		}
	}
	return AgentRecord{}, false
}

// CreateAgentList returns every record whose service path starts with prefix,
// sorted by name. "/" lists every registered agent.
func (c *Cache) CreateAgentList(prefix string) []AgentRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]AgentRecord, 0)
	for _, name := range c.sortedNames() {
		rec := c.records[name]
		if rec.Service != "" && strings.HasPrefix(rec.Service, prefix) {
			list = append(list, rec)
		}
	}
	return list
}

func (c *Cache) IsAgentRegistered(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.records[name]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// callers hold c.mu
func (c *Cache) sortedNames() []string {
	names := make([]string, 0, len(c.records))
	for name := range c.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

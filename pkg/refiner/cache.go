package refiner

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
)

// Cache holds refinement results keyed by content hash, with lazy TTL
// expiry. Entries are evicted only on expiry: inputs are treated as
// immutable once hashed.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	result *RefinementResult
	expiry time.Time
}

// NewCache creates an empty refinement cache
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns a valid cached result, if any
func (c *Cache) Get(key string) (*RefinementResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiry) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

// Put stores a result under the key for the given TTL
func (c *Cache) Put(key string, result *RefinementResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		result: result,
		expiry: c.now().Add(ttl),
	}
}

// Len returns the number of live and expired entries currently held
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey derives a deterministic key from record content plus the parts
// of the configuration that influence enrichment output
func cacheKey(records []map[string]interface{}, cfg config.RefineConfig) (string, error) {
	h := sha256.New()

	rawRecords, err := json.EncodePooled(records)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "records are not hashable")
	}
	h.Write(rawRecords)

	keyCfg := struct {
		Endpoint    string              `json:"endpoint"`
		ModelHint   string              `json:"model_hint"`
		CustomRules []config.CustomRule `json:"custom_rules"`
	}{cfg.Endpoint, cfg.ModelHint, cfg.CustomRules}

	rawCfg, err := json.Marshal(keyCfg)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "refine config is not hashable")
	}
	h.Write(rawCfg)

	return hex.EncodeToString(h.Sum(nil)), nil
}

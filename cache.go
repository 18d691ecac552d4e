package verdict

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CacheKey identifies one memoized decision. The policy model version and
// an attribute fingerprint are part of the key, so a decision computed
// against an older model or different attributes can never be returned: it
// simply never matches again (lazy invalidation).
type CacheKey struct {
	SubjectID  string
	ResourceID string
	Action     Action
	Version    int64
	AttrSum    uint64
}

func (k CacheKey) hashKey() string {
	return k.SubjectID + "\x00" + k.ResourceID + "\x00" + string(k.Action) +
		"\x00" + strconv.FormatInt(k.Version, 10) + "\x00" + strconv.FormatUint(k.AttrSum, 16)
}

// DecisionCache memoizes decisions for a bounded time window. Get and Put
// must be safe under concurrent access.
type DecisionCache interface {
	Get(key CacheKey) (*Decision, bool)
	Put(key CacheKey, d *Decision, ttl time.Duration)
}

// fingerprint hashes everything a decision can depend on besides identity:
// roles, groups, clearance and attributes on the subject; owner, label and
// attributes on the resource; time (minute granularity, matching the HH:MM
// resolution of time windows), source IP and counters from the environment.
// Attribute maps are hashed in sorted key order so the fingerprint is
// deterministic.
func fingerprint(sub *Subject, res *Resource, env *Environment) uint64 {
	h := xxhash.New()
	writeList := func(tag string, items []string) {
		h.WriteString(tag)
		sorted := append([]string(nil), items...)
		sort.Strings(sorted)
		for _, it := range sorted {
			h.WriteString(it)
			h.WriteString(";")
		}
	}
	writeMap := func(tag string, m map[string]any) {
		h.WriteString(tag)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.WriteString(k)
			h.WriteString("=")
			h.WriteString(stringify(m[k]))
			h.WriteString(";")
		}
	}
	if sub != nil {
		writeList("r|", sub.Roles)
		writeList("g|", sub.Groups)
		h.WriteString("c|" + strconv.Itoa(int(sub.Clearance)))
		writeMap("sa|", sub.Attrs)
	}
	if res != nil {
		h.WriteString("o|" + res.OwnerID)
		h.WriteString("l|" + strconv.Itoa(int(res.Label)))
		writeMap("ra|", res.Attrs)
	}
	if env != nil {
		h.WriteString("t|" + strconv.FormatInt(env.Time.Unix()/60, 10))
		if env.IP != nil {
			h.WriteString("i|" + env.IP.String())
		}
		counters := make(map[string]any, len(env.Counters))
		for k, v := range env.Counters {
			counters[k] = v
		}
		writeMap("ec|", counters)
		writeMap("ex|", env.Extra)
	}
	return h.Sum64()
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	default:
		return "?"
	}
}

// MemoryDecisionCache is a mutex-guarded map cache. It is the default: good
// enough for tests and modest embeddings, no extra dependency at runtime.
// Entries whose key carries a superseded model version are swept
// opportunistically on Put once the map grows past maxEntries.
type MemoryDecisionCache struct {
	mu         sync.RWMutex
	entries    map[CacheKey]memoryCacheEntry
	maxEntries int
}

type memoryCacheEntry struct {
	decision  *Decision
	expiresAt time.Time
}

func NewMemoryDecisionCache(maxEntries int) *MemoryDecisionCache {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &MemoryDecisionCache{
		entries:    make(map[CacheKey]memoryCacheEntry),
		maxEntries: maxEntries,
	}
}

func (c *MemoryDecisionCache) Get(key CacheKey) (*Decision, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.decision, true
}

func (c *MemoryDecisionCache) Put(key CacheKey, d *Decision, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		for k, e := range c.entries {
			if now.After(e.expiresAt) || k.Version < key.Version {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = memoryCacheEntry{decision: d, expiresAt: now.Add(ttl)}
}

// Len reports the live entry count, for tests.
func (c *MemoryDecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

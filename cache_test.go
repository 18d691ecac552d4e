package verdict

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestMemoryDecisionCacheGetPut(t *testing.T) {
	c := NewMemoryDecisionCache(0)
	key := CacheKey{SubjectID: "a", ResourceID: "r", Action: "read", Version: 1}
	d := &Decision{Allowed: true, Reason: "ok", Version: 1}

	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache hit")
	}
	c.Put(key, d, time.Minute)
	got, ok := c.Get(key)
	if !ok || got != d {
		t.Fatalf("miss after put: %v %v", got, ok)
	}
	// a different version is a different key
	stale := key
	stale.Version = 2
	if _, ok := c.Get(stale); ok {
		t.Fatal("version change must miss")
	}
	// a different attribute fingerprint is a different key
	reattr := key
	reattr.AttrSum = 42
	if _, ok := c.Get(reattr); ok {
		t.Fatal("fingerprint change must miss")
	}
}

func TestMemoryDecisionCacheTTL(t *testing.T) {
	c := NewMemoryDecisionCache(0)
	key := CacheKey{SubjectID: "a", ResourceID: "r", Action: "read"}
	c.Put(key, &Decision{Allowed: true}, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("expired entry served")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry retained, len=%d", c.Len())
	}
}

func TestMemoryDecisionCacheSweepsOldVersions(t *testing.T) {
	c := NewMemoryDecisionCache(4)
	for i := 0; i < 4; i++ {
		c.Put(CacheKey{SubjectID: string(rune('a' + i)), Version: 1}, &Decision{}, time.Minute)
	}
	// pushing a newer-version entry past the cap evicts superseded ones
	c.Put(CacheKey{SubjectID: "z", Version: 2}, &Decision{}, time.Minute)
	if c.Len() != 1 {
		t.Fatalf("sweep kept %d entries", c.Len())
	}
	if _, ok := c.Get(CacheKey{SubjectID: "z", Version: 2}); !ok {
		t.Fatal("new entry missing after sweep")
	}
}

func TestMemoryDecisionCacheConcurrentAccess(t *testing.T) {
	c := NewMemoryDecisionCache(64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := CacheKey{SubjectID: strconv.Itoa(i % 16), ResourceID: "r", Action: "read", Version: int64(w)}
				c.Put(key, &Decision{Allowed: true, Version: int64(w)}, time.Minute)
				if d, ok := c.Get(key); ok && d.Version != int64(w) {
					t.Errorf("worker %d read version %d", w, d.Version)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestFingerprintSensitivity(t *testing.T) {
	sub := &Subject{ID: "a", Roles: []string{"r1", "r2"}, Clearance: LabelSecret, Attrs: map[string]any{"dept": "math"}}
	res := &Resource{ID: "x", OwnerID: "o", Label: LabelConfidential, Attrs: map[string]any{"dept": "math"}}
	env := &Environment{Time: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	base := fingerprint(sub, res, env)

	// role order must not matter
	reordered := &Subject{ID: "a", Roles: []string{"r2", "r1"}, Clearance: LabelSecret, Attrs: map[string]any{"dept": "math"}}
	if fingerprint(reordered, res, env) != base {
		t.Fatal("fingerprint depends on role order")
	}
	// attribute changes must matter
	changed := &Subject{ID: "a", Roles: []string{"r1", "r2"}, Clearance: LabelSecret, Attrs: map[string]any{"dept": "physics"}}
	if fingerprint(changed, res, env) == base {
		t.Fatal("attribute change not reflected")
	}
	// clearance changes must matter
	lowered := &Subject{ID: "a", Roles: []string{"r1", "r2"}, Clearance: LabelPublic, Attrs: map[string]any{"dept": "math"}}
	if fingerprint(lowered, res, env) == base {
		t.Fatal("clearance change not reflected")
	}
	// resource owner changes must matter
	reowned := &Resource{ID: "x", OwnerID: "p", Label: LabelConfidential, Attrs: map[string]any{"dept": "math"}}
	if fingerprint(sub, reowned, env) == base {
		t.Fatal("owner change not reflected")
	}
	// sub-second clock movement must not matter, a different minute must
	sameMinute := &Environment{Time: env.Time.Add(30 * time.Second)}
	if fingerprint(sub, res, sameMinute) != base {
		t.Fatal("fingerprint depends on sub-minute time")
	}
	nextHour := &Environment{Time: env.Time.Add(time.Hour)}
	if fingerprint(sub, res, nextHour) == base {
		t.Fatal("time change not reflected")
	}
}

func TestRistrettoDecisionCache(t *testing.T) {
	c, err := NewRistrettoDecisionCache(RistrettoCacheConfig{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	key := CacheKey{SubjectID: "a", ResourceID: "r", Action: "read", Version: 3, AttrSum: 7}
	d := &Decision{Allowed: true, Version: 3}
	c.Put(key, d, time.Minute)
	c.Wait()

	got, ok := c.Get(key)
	if !ok || !got.Allowed || got.Version != 3 {
		t.Fatalf("get = %v %v", got, ok)
	}
	other := key
	other.Version = 4
	if _, ok := c.Get(other); ok {
		t.Fatal("different version must miss")
	}
}

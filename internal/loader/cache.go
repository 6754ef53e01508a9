package loader

import (
	"sort"
	"sync"

	"esm-federation/internal/types"
)

type moduleRecord struct {
	info    types.ModuleInfo
	exports *types.Exports
}

// Cache is the loader's module cache. It is owned by exactly one Loader at a
// time; tests construct several independent caches side by side.
//
// Every mutation that drops entries bumps a generation so results of loads
// that started before the drop are never stored.
type Cache struct {
	mu          sync.RWMutex
	generation  uint64
	remoteEpoch map[string]uint64
	entries     map[string]types.RemoteEntry
	modules     map[string]moduleRecord
}

func NewCache() *Cache {
	return &Cache{
		remoteEpoch: map[string]uint64{},
		entries:     map[string]types.RemoteEntry{},
		modules:     map[string]moduleRecord{},
	}
}

type stamp struct {
	generation uint64
	epoch      uint64
}

func (c *Cache) stamp(remote string) stamp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return stamp{generation: c.generation, epoch: c.remoteEpoch[remote]}
}

func (c *Cache) current(remote string, s stamp) bool {
	return c.generation == s.generation && c.remoteEpoch[remote] == s.epoch
}

func (c *Cache) module(key string) (moduleRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.modules[key]
	return record, ok
}

// storeModule records a load unless the cache moved on since s was taken.
// When another load already stored the key, that record wins.
func (c *Cache) storeModule(key string, remote string, s stamp, record moduleRecord) (moduleRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(remote, s) {
		return record, false
	}
	if existing, ok := c.modules[key]; ok {
		return existing, true
	}
	c.modules[key] = record
	return record, true
}

// attach seeds a record unless the key is already loaded, in which case the
// loaded record is kept and returned.
func (c *Cache) attach(key string, record moduleRecord) (moduleRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.modules[key]; ok {
		return existing, false
	}
	c.modules[key] = record
	return record, true
}

func (c *Cache) entry(remote string) (types.RemoteEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[remote]
	return entry, ok
}

func (c *Cache) storeEntry(remote string, s stamp, entry types.RemoteEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(remote, s) {
		return false
	}
	c.entries[remote] = entry
	return true
}

func (c *Cache) entriesSnapshot() map[string]types.RemoteEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]types.RemoteEntry, len(c.entries))
	for name, entry := range c.entries {
		out[name] = entry
	}
	return out
}

func (c *Cache) modulesSnapshot() []types.ModuleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ModuleInfo, 0, len(c.modules))
	for _, record := range c.modules {
		out = append(out, record.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remote != out[j].Remote {
			return out[i].Remote < out[j].Remote
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Clear drops every module and remote entry in one step.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = map[string]types.RemoteEntry{}
	c.modules = map[string]moduleRecord{}
}

// invalidateRemote drops one remote's entry and modules. Shared modules stay.
func (c *Cache) invalidateRemote(remote string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteEpoch[remote]++
	delete(c.entries, remote)
	removed := 0
	for key, record := range c.modules {
		if record.info.Remote == remote {
			delete(c.modules, key)
			removed++
		}
	}
	return removed
}

// sharedInstance finds the page's instance of a shared package, whatever
// key it was cached under. The copy loaded from preferred, the top-level
// import map address, wins over scoped copies.
func (c *Cache) sharedInstance(pkg string, preferred string) (moduleRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, record, ok := c.pickShared(pkg, preferred)
	return record, ok
}

// promoteShared picks the instance sharedInstance would and moves it under
// the package's singleton key, so every later lookup sees the same record.
func (c *Cache) promoteShared(pkg string, preferred string) (moduleRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, record, ok := c.pickShared(pkg, preferred)
	if !ok {
		return moduleRecord{}, false
	}
	singletonKey := sharedSingletonKey(pkg)
	if key != singletonKey {
		delete(c.modules, key)
		record.info.Singleton = true
		c.modules[singletonKey] = record
	}
	return record, true
}

// pickShared must be called with c.mu held.
func (c *Cache) pickShared(pkg string, preferred string) (string, moduleRecord, bool) {
	singletonKey := sharedSingletonKey(pkg)
	if record, ok := c.modules[singletonKey]; ok {
		return singletonKey, record, true
	}
	var (
		chosenKey string
		chosen    moduleRecord
		found     bool
	)
	for key, record := range c.modules {
		if record.info.Remote != "" || record.info.Name != pkg {
			continue
		}
		if found {
			chosenPreferred := chosen.info.URL == preferred
			recordPreferred := record.info.URL == preferred
			if chosenPreferred && !recordPreferred {
				continue
			}
			if chosenPreferred == recordPreferred && key > chosenKey {
				continue
			}
		}
		chosenKey, chosen, found = key, record, true
	}
	return chosenKey, chosen, found
}

func (c *Cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

package reqlib

import (
	"sync"
)

// VMap is a thread-safe generic map with read-write mutex protection.
// The zero value is not usable; create one with NewVMap.
type VMap[kT comparable, vT any] struct {
	kv map[kT]vT
	mu sync.RWMutex
}

// NewVMap creates and returns a new empty VMap.
func NewVMap[kT comparable, vT any]() *VMap[kT, vT] {
	return &VMap[kT, vT]{
		kv: make(map[kT]vT),
	}
}

// SetIfAbsent stores val only if key is not present.
// It reports whether the value was stored.
func (vm *VMap[kT, vT]) SetIfAbsent(key kT, val vT) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, ok := vm.kv[key]; ok {
		return false
	}
	vm.kv[key] = val
	return true
}

// Get retrieves a value for the given key with read lock protection.
func (vm *VMap[kT, vT]) Get(key kT) (val vT, ok bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	val, ok = vm.kv[key]
	return
}

// LoadAndDelete removes key and returns its previous value.
// ok is false if the key was absent, so concurrent callers
// racing on one key see ok=true exactly once.
func (vm *VMap[kT, vT]) LoadAndDelete(key kT) (val vT, ok bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	val, ok = vm.kv[key]
	if ok {
		delete(vm.kv, key)
	}
	return
}

// Len returns the number of entries.
func (vm *VMap[kT, vT]) Len() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return len(vm.kv)
}

// Keys returns a snapshot of all keys. Callers may mutate the map
// while iterating the result.
func (vm *VMap[kT, vT]) Keys() []kT {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	keys := make([]kT, 0, len(vm.kv))
	for k := range vm.kv {
		keys = append(keys, k)
	}
	return keys
}

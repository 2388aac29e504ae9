// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager hands out one mutex per key (a document id). Entries that are
// unreferenced and idle for longer than the TTL are dropped by Cleanup.
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
}

// LockInfo wraps a key's mutex.
type LockInfo struct {
	Mutex          sync.Mutex
	LastUsed       time.Time
	ReferenceCount int32
}

// NewLockManager creates a manager; idle locks live for ttl.
func NewLockManager(ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &LockManager{
		locks:   make(map[string]*LockInfo),
		lockTTL: ttl,
	}
}

func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	info, exists := lm.locks[key]
	if !exists {
		info = &LockInfo{}
		lm.locks[key] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	info.ReferenceCount--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithLock runs fn while holding key's lock.
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// Cleanup drops idle, unreferenced locks and returns how many were removed.
func (lm *LockManager) Cleanup() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	removed := 0
	now := time.Now()
	for key, info := range lm.locks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

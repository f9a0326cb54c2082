package nonce

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"prizevault/internal/logger"
	"prizevault/internal/storage"
)

// Allocator hands out strictly increasing nonces per signer key. Concurrent
// requests for the same key are totally ordered by a per-key mutex; the
// durable increment itself is a single atomic statement, so even a store
// that interleaves writers cannot hand out the same value twice.
type Allocator struct {
	storage storage.Storage

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAllocator(store storage.Storage) *Allocator {
	return &Allocator{
		storage: store,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (a *Allocator) keyLock(signerKey string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[signerKey]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[signerKey] = lock
	}
	return lock
}

// NextNonce blocks until any in-flight request for the same key completes,
// then issues the atomic increment. No nonce is considered consumed unless
// the increment succeeded.
func (a *Allocator) NextNonce(signerKey string) (int64, error) {
	lock := a.keyLock(signerKey)
	lock.Lock()
	defer lock.Unlock()

	value, err := a.storage.IncrementNonce(signerKey, time.Now())
	if err != nil {
		return 0, err
	}

	logger.Debug("nonce allocated", zap.String("signerKey", signerKey), zap.Int64("nonce", value))
	return value, nil
}

// InitializeNonce resets the counter. Administrative use only.
func (a *Allocator) InitializeNonce(signerKey string, start int64) error {
	lock := a.keyLock(signerKey)
	lock.Lock()
	defer lock.Unlock()

	return a.storage.SetNonce(signerKey, start, time.Now())
}

// CurrentNonce reads the counter without consuming a value.
func (a *Allocator) CurrentNonce(signerKey string) (int64, error) {
	return a.storage.GetNonce(signerKey)
}

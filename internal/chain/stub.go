package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"prizevault/internal/logger"
	"prizevault/internal/nonce"
)

// Stub is the offline Gateway used for development and tests. Heights tick
// with wall time unless pinned, block hashes are deterministic per height,
// and submissions consume real nonces without touching a network.
type Stub struct {
	networkName  string
	contractHash string
	signerKey    string
	nonces       *nonce.Allocator

	mu          sync.Mutex
	height      int64
	heightFixed bool
	state       map[string]string
	events      []Event
	watch       chan Event

	Submissions []*SubmitResult
}

const stubBaseHeight = 1_000_000
const stubSecondsPerBlock = 65

func NewStub(networkName string, contractHash string, signerKey string, nonces *nonce.Allocator) *Stub {
	return &Stub{
		networkName:  networkName,
		contractHash: contractHash,
		signerKey:    signerKey,
		nonces:       nonces,
		state: map[string]string{
			"total_staked": "10000000000000",
			"reward_pool":  "500000000000",
		},
		watch: make(chan Event, 64),
	}
}

// SetHeight pins the reported chain height, disabling the wall-clock tick.
func (s *Stub) SetHeight(height int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = height
	s.heightFixed = true
}

func (s *Stub) SetState(key string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
}

// QueueEvents makes events available to FetchEvents replay requests.
func (s *Stub) QueueEvents(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// EmitEvent pushes an event to WatchEvents subscribers.
func (s *Stub) EmitEvent(event Event) {
	s.watch <- event
}

func (s *Stub) CurrentHeight(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heightFixed {
		return s.height, nil
	}
	return stubBaseHeight + time.Now().Unix()/stubSecondsPerBlock, nil
}

func (s *Stub) BlockHash(_ context.Context, height int64) (string, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d_%s_%s", height, s.networkName, s.contractHash)))
	return hex.EncodeToString(sum[:]), nil
}

func (s *Stub) QueryState(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.state[key]
	if !ok {
		return "", fmt.Errorf("%w: no state under key %q", ErrUnavailable, key)
	}
	return value, nil
}

func (s *Stub) SubmitDistribution(_ context.Context, drawID string, transfers []Transfer) (*SubmitResult, error) {
	logger.Debug("stub: submitting reward distribution", zap.String("drawID", drawID), zap.Int("transfers", len(transfers)))

	next, err := s.nonces.NextNonce(s.signerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result := &SubmitResult{
		TxRef: fmt.Sprintf("stub_distribute_rewards_%s_nonce_%d", drawID, next),
		OK:    true,
	}

	s.mu.Lock()
	s.Submissions = append(s.Submissions, result)
	s.mu.Unlock()

	return result, nil
}

func (s *Stub) SubmitUnstakeTrigger(_ context.Context, publicKeys []string) (*SubmitResult, error) {
	logger.Debug("stub: submitting unstake trigger", zap.Int("keys", len(publicKeys)))

	next, err := s.nonces.NextNonce(s.signerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result := &SubmitResult{
		TxRef: fmt.Sprintf("stub_process_unstake_%d_nonce_%d", time.Now().UnixMilli(), next),
		OK:    true,
	}

	s.mu.Lock()
	s.Submissions = append(s.Submissions, result)
	s.mu.Unlock()

	return result, nil
}

func (s *Stub) FetchEvents(_ context.Context, fromHeight int64, toHeight *int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Event
	for _, event := range s.events {
		if event.ChainHeight < fromHeight {
			continue
		}
		if toHeight != nil && event.ChainHeight > *toHeight {
			continue
		}
		matched = append(matched, event)
	}
	return matched, nil
}

func (s *Stub) WatchEvents(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-s.watch:
				select {
				case <-ctx.Done():
					return
				case out <- event:
				}
			}
		}
	}()
	return out, nil
}

package draw

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prizevault/internal/chain"
	"prizevault/internal/ledger"
	"prizevault/internal/nonce"
	"prizevault/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, storage.Storage, *chain.Stub) {
	t.Helper()

	store, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	stub := chain.NewStub("casper-test", "contract-hash", "admin-key", nonce.NewAllocator(store))
	stub.SetHeight(5000)

	builder := NewSnapshotBuilder(store, stub, minEligibleBalance, minHoldHours)
	engine := NewEngine(store, stub, builder)

	// a handful of eligible participants
	book := ledger.NewLedger(store)
	now := time.Now()
	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("key-%d", i)
		units := decimal.NewFromInt(int64(50 + i*30)).Mul(decimal.NewFromInt(1_000_000_000))
		require.NoError(t, book.ApplyDeposit(key, units, now.Add(-time.Duration(40+i*200)*time.Hour), "seed-"+key, nil))
	}

	return engine, store, stub
}

func testSnapshot(tickets ...int64) *storage.Snapshot {
	snapshot := &storage.Snapshot{DrawID: "draw-x"}
	for i, count := range tickets {
		snapshot.Entries = append(snapshot.Entries, storage.SnapshotEntry{
			Position:  i,
			PublicKey: fmt.Sprintf("key-%d", i),
			Tickets:   count,
		})
		snapshot.TotalTickets += count
	}
	return snapshot
}

func TestSelectWinners(t *testing.T) {

	t.Run("deterministic for a fixed seed and snapshot", func(t *testing.T) {
		snapshot := testSnapshot(5, 24, 13, 42, 7)

		first, err := selectWinners(snapshot, 3, "seed-hash")
		require.NoError(t, err)
		second, err := selectWinners(snapshot, 3, "seed-hash")
		require.NoError(t, err)

		require.Len(t, first, 3)
		assert.Equal(t, first, second)
	})

	t.Run("different seeds usually differ", func(t *testing.T) {
		snapshot := testSnapshot(5, 24, 13, 42, 7, 100, 3, 66)

		first, _ := selectWinners(snapshot, 5, "seed-one")
		second, _ := selectWinners(snapshot, 5, "seed-two")

		different := false
		for i := range first {
			if first[i].PublicKey != second[i].PublicKey {
				different = true
				break
			}
		}
		assert.True(t, different)
	})

	t.Run("no duplicate winners", func(t *testing.T) {
		snapshot := testSnapshot(1, 1, 1, 1000)

		winners, err := selectWinners(snapshot, 4, "seed-hash")
		require.NoError(t, err)
		require.Len(t, winners, 4)

		seen := map[string]bool{}
		for _, winner := range winners {
			assert.False(t, seen[winner.PublicKey], "duplicate winner %s", winner.PublicKey)
			seen[winner.PublicKey] = true
		}
	})

	t.Run("winner count capped at participant count", func(t *testing.T) {
		snapshot := testSnapshot(5, 5)

		winners, err := selectWinners(snapshot, 10, "seed-hash")
		require.NoError(t, err)
		assert.Len(t, winners, 2)
		assert.Equal(t, 1, winners[0].Rank)
		assert.Equal(t, 2, winners[1].Rank)
	})

	t.Run("empty snapshot is an error", func(t *testing.T) {
		_, err := selectWinners(testSnapshot(), 3, "seed-hash")
		assert.ErrorIs(t, err, ErrNoEligibleParticipants)
	})
}

func TestRunDrawImmediate(t *testing.T) {
	engine, store, stub := newTestEngine(t)
	ctx := context.Background()

	record, err := engine.RunDraw(ctx, 5, false, 0)
	require.NoError(t, err)

	assert.Equal(t, storage.DrawStatusCompleted, record.Status)
	assert.Equal(t, int64(5000), record.ChainHeightUsed)
	require.NotNil(t, record.CompletedAt)
	require.Len(t, record.Winners, 5)

	expectedSeed, err := stub.BlockHash(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, expectedSeed, record.Seed)

	t.Run("reward sum equals the pool exactly", func(t *testing.T) {
		sum := decimal.Zero
		for _, winner := range record.Winners {
			sum = sum.Add(winner.RewardAmount)
		}
		assert.True(t, sum.Equal(record.TotalRewardPool), "sum %s, pool %s", sum, record.TotalRewardPool)
	})

	t.Run("record round-trips with ranked winners", func(t *testing.T) {
		loaded, err := store.GetDraw(record.DrawID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		require.Len(t, loaded.Winners, 5)
		for i, winner := range loaded.Winners {
			assert.Equal(t, i+1, winner.Rank)
			assert.False(t, winner.Distributed)
		}
	})
}

func TestRunDrawFutureBlock(t *testing.T) {
	engine, store, stub := newTestEngine(t)
	ctx := context.Background()

	record, err := engine.RunDraw(ctx, 3, true, 10)
	require.NoError(t, err)

	assert.Equal(t, storage.DrawStatusPending, record.Status)
	assert.Equal(t, int64(5010), record.ChainHeightUsed)
	assert.Equal(t, "future_block_5010", record.Seed)
	assert.Empty(t, record.Winners)

	t.Run("second draw is rejected while one is pending", func(t *testing.T) {
		_, err := engine.RunDraw(ctx, 3, false, 0)
		assert.ErrorIs(t, err, ErrDrawAlreadyPending)
	})

	t.Run("finalize fails before the seed block exists", func(t *testing.T) {
		_, err := engine.FinalizePendingDraw(ctx, record.DrawID)
		assert.ErrorIs(t, err, ErrBlockNotAvailable)

		loaded, err := store.GetDraw(record.DrawID)
		require.NoError(t, err)
		assert.Equal(t, storage.DrawStatusPending, loaded.Status)
	})

	t.Run("finalize completes once the chain catches up", func(t *testing.T) {
		stub.SetHeight(5010)

		finalized, err := engine.FinalizePendingDraw(ctx, record.DrawID)
		require.NoError(t, err)

		assert.Equal(t, storage.DrawStatusCompleted, finalized.Status)
		require.Len(t, finalized.Winners, 3)

		expectedSeed, err := stub.BlockHash(ctx, 5010)
		require.NoError(t, err)
		assert.Equal(t, expectedSeed, finalized.Seed)

		sum := decimal.Zero
		for _, winner := range finalized.Winners {
			sum = sum.Add(winner.RewardAmount)
		}
		assert.True(t, sum.Equal(finalized.TotalRewardPool))
	})

	t.Run("finalize again is rejected", func(t *testing.T) {
		_, err := engine.FinalizePendingDraw(ctx, record.DrawID)
		assert.ErrorIs(t, err, ErrDrawNotPending)
	})
}

// storage wrapper whose snapshot lookup fails a set number of times
type flakySnapshotStorage struct {
	storage.Storage
	failuresLeft int
}

func (s *flakySnapshotStorage) GetSnapshotByDrawID(drawID string) (*storage.Snapshot, error) {
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return nil, errors.New("disk hiccup")
	}
	return s.Storage.GetSnapshotByDrawID(drawID)
}

func TestFinalizeSurvivesTransientStorageError(t *testing.T) {
	store, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	flaky := &flakySnapshotStorage{Storage: store, failuresLeft: 1}

	stub := chain.NewStub("casper-test", "contract-hash", "admin-key", nonce.NewAllocator(store))
	stub.SetHeight(5000)
	engine := NewEngine(flaky, stub, NewSnapshotBuilder(flaky, stub, minEligibleBalance, minHoldHours))

	book := ledger.NewLedger(store)
	now := time.Now()
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("key-%d", i)
		units := decimal.NewFromInt(int64(50 + i*30)).Mul(decimal.NewFromInt(1_000_000_000))
		require.NoError(t, book.ApplyDeposit(key, units, now.Add(-48*time.Hour), "seed-"+key, nil))
	}

	ctx := context.Background()
	record, err := engine.RunDraw(ctx, 2, true, 5)
	require.NoError(t, err)
	stub.SetHeight(5005)

	_, err = engine.FinalizePendingDraw(ctx, record.DrawID)
	require.Error(t, err)

	t.Run("the draw stays pending after the failure", func(t *testing.T) {
		loaded, err := store.GetDraw(record.DrawID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, storage.DrawStatusPending, loaded.Status)

		pending, err := store.GetPendingDraw()
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, record.DrawID, pending.DrawID)
	})

	t.Run("a retry completes the draw", func(t *testing.T) {
		finalized, err := engine.FinalizePendingDraw(ctx, record.DrawID)
		require.NoError(t, err)
		assert.Equal(t, storage.DrawStatusCompleted, finalized.Status)
		require.Len(t, finalized.Winners, 2)
	})
}

func TestFinalizeUnknownDraw(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.FinalizePendingDraw(context.Background(), "no-such-draw")
	assert.ErrorIs(t, err, ErrDrawNotFound)
}

func TestRunDrawWithNoEligibleParticipants(t *testing.T) {
	store, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	stub := chain.NewStub("casper-test", "contract-hash", "admin-key", nonce.NewAllocator(store))
	stub.SetHeight(5000)
	engine := NewEngine(store, stub, NewSnapshotBuilder(store, stub, minEligibleBalance, minHoldHours))

	_, err = engine.RunDraw(context.Background(), 5, false, 0)
	require.ErrorIs(t, err, ErrNoEligibleParticipants)

	t.Run("the failed attempt is recorded", func(t *testing.T) {
		pending, err := store.GetPendingDraw()
		require.NoError(t, err)
		assert.Nil(t, pending)

		stats, err := store.GetSystemStats()
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalDraws)
		assert.Equal(t, int64(0), stats.CompletedDraws)
	})
}

func TestDistributeRewards(t *testing.T) {
	engine, store, stub := newTestEngine(t)
	ctx := context.Background()

	record, err := engine.RunDraw(ctx, 4, false, 0)
	require.NoError(t, err)

	t.Run("dry run reports without submitting", func(t *testing.T) {
		result, err := engine.DistributeRewards(ctx, record.DrawID, true)
		require.NoError(t, err)

		assert.True(t, result.DryRun)
		assert.Empty(t, result.TxRef)
		assert.Len(t, result.Transfers, 4)
		assert.True(t, result.TotalDistributed.Equal(record.TotalRewardPool))
		assert.Empty(t, stub.Submissions)
	})

	t.Run("submission marks every winner distributed", func(t *testing.T) {
		result, err := engine.DistributeRewards(ctx, record.DrawID, false)
		require.NoError(t, err)
		assert.NotEmpty(t, result.TxRef)

		loaded, err := store.GetDraw(record.DrawID)
		require.NoError(t, err)
		for _, winner := range loaded.Winners {
			assert.True(t, winner.Distributed)
			assert.Equal(t, result.TxRef, winner.DistributionRef)
		}
	})

	t.Run("a second distribution is rejected", func(t *testing.T) {
		_, err := engine.DistributeRewards(ctx, record.DrawID, false)
		assert.ErrorIs(t, err, ErrAlreadyDistributed)
	})

	t.Run("dry run is still served after distribution", func(t *testing.T) {
		result, err := engine.DistributeRewards(ctx, record.DrawID, true)
		require.NoError(t, err)
		assert.True(t, result.DryRun)
		assert.Len(t, result.Transfers, 4)
		assert.True(t, result.TotalDistributed.Equal(record.TotalRewardPool))
	})

	t.Run("unknown draw", func(t *testing.T) {
		_, err := engine.DistributeRewards(ctx, "no-such-draw", false)
		assert.ErrorIs(t, err, ErrDrawNotFound)
	})
}

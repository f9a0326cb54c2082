package draw

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prizevault/internal/chain"
	"prizevault/internal/logger"
	"prizevault/internal/storage"
)

var (
	ErrDrawNotFound           = errors.New("draw not found")
	ErrDrawAlreadyPending     = errors.New("another draw is already pending")
	ErrDrawNotPending         = errors.New("draw is not pending")
	ErrDrawNotCompleted       = errors.New("draw is not completed")
	ErrBlockNotAvailable      = errors.New("seed block not yet available")
	ErrNoEligibleParticipants = errors.New("no eligible participants in snapshot")
	ErrAlreadyDistributed     = errors.New("rewards already distributed")
	ErrSnapshotNotFound       = errors.New("snapshot not found")
)

const rewardPoolStateKey = "reward_pool"

// Engine owns the draw lifecycle: snapshotting, deterministic winner
// selection, reward computation and the pending/finalize split for draws
// seeded by a future block hash.
type Engine struct {
	storage storage.Storage
	gateway chain.Gateway
	builder *SnapshotBuilder
	now     func() time.Time
}

func NewEngine(store storage.Storage, gateway chain.Gateway, builder *SnapshotBuilder) *Engine {
	return &Engine{
		storage: store,
		gateway: gateway,
		builder: builder,
		now:     time.Now,
	}
}

// RunDraw starts a draw. With useFutureBlock the seed is the hash of a
// block that does not exist yet, so the draw is recorded pending and
// completed later by FinalizePendingDraw; otherwise the current block hash
// seeds an immediate selection. Only one draw may be pending at a time —
// an advisory guard, callers serialize admin triggers.
func (e *Engine) RunDraw(ctx context.Context, winnerCount int, useFutureBlock bool, blockOffset int64) (*storage.DrawRecord, error) {

	pending, err := e.storage.GetPendingDraw()
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrDrawAlreadyPending, pending.DrawID)
	}

	drawID := uuid.NewString()
	initiatedAt := e.now()
	logger.Info("starting draw", zap.String("drawID", drawID), zap.Int("winnerCount", winnerCount), zap.Bool("useFutureBlock", useFutureBlock))

	currentHeight, err := e.gateway.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}

	var seed string
	var heightUsed int64
	if useFutureBlock {
		heightUsed = currentHeight + blockOffset
		seed = fmt.Sprintf("future_block_%d", heightUsed)
	} else {
		heightUsed = currentHeight
		seed, err = e.gateway.BlockHash(ctx, heightUsed)
		if err != nil {
			return nil, err
		}
	}

	snapshot, err := e.builder.Build(ctx, drawID)
	if err != nil {
		return nil, err
	}

	draw := &storage.DrawRecord{
		DrawID:               drawID,
		SnapshotID:           snapshot.ID,
		Seed:                 seed,
		ChainHeightUsed:      heightUsed,
		RequestedWinnerCount: winnerCount,
		TotalRewardPool:      decimal.Zero,
		InitiatedAt:          initiatedAt,
	}

	pool, err := e.queryRewardPool(ctx)
	if err != nil {
		return nil, e.recordFailure(draw, err)
	}
	draw.TotalRewardPool = pool

	if useFutureBlock {
		draw.Status = storage.DrawStatusPending
		if err := e.storage.CreateDraw(draw); err != nil {
			return nil, err
		}

		logger.Info("draw pending, waiting for future block",
			zap.String("drawID", drawID),
			zap.Int64("heightUsed", heightUsed),
		)
		return draw, nil
	}

	winners, err := selectWinners(snapshot, winnerCount, seed)
	if err != nil {
		return nil, e.recordFailure(draw, err)
	}

	completedAt := e.now()
	draw.Status = storage.DrawStatusCompleted
	draw.Winners = distributeRewardPool(pool, winners)
	draw.CompletedAt = &completedAt

	if err := e.storage.CreateDraw(draw); err != nil {
		return nil, err
	}

	logger.Info("draw completed", zap.String("drawID", drawID), zap.Int("winners", len(draw.Winners)))
	return draw, nil
}

// FinalizePendingDraw completes a future-block draw once its seed block
// exists, selecting winners against the stored snapshot. The record stays
// pending until selection completes, so a transient chain or storage
// failure leaves it retryable.
func (e *Engine) FinalizePendingDraw(ctx context.Context, drawID string) (*storage.DrawRecord, error) {
	logger.Info("finalizing draw", zap.String("drawID", drawID))

	draw, err := e.storage.GetDraw(drawID)
	if err != nil {
		return nil, err
	}
	if draw == nil {
		return nil, fmt.Errorf("%w: %s", ErrDrawNotFound, drawID)
	}
	if draw.Status != storage.DrawStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrDrawNotPending, drawID, draw.Status)
	}

	currentHeight, err := e.gateway.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}
	if currentHeight < draw.ChainHeightUsed {
		return nil, fmt.Errorf("%w: need height %d, chain is at %d", ErrBlockNotAvailable, draw.ChainHeightUsed, currentHeight)
	}

	seed, err := e.gateway.BlockHash(ctx, draw.ChainHeightUsed)
	if err != nil {
		return nil, err
	}

	snapshot, err := e.storage.GetSnapshotByDrawID(drawID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, e.recordFailure(draw, fmt.Errorf("%w: draw %s", ErrSnapshotNotFound, drawID))
	}

	winners, err := selectWinners(snapshot, draw.RequestedWinnerCount, seed)
	if err != nil {
		return nil, e.recordFailure(draw, err)
	}

	completedAt := e.now()
	draw.Status = storage.DrawStatusCompleted
	draw.Seed = seed
	draw.Winners = distributeRewardPool(draw.TotalRewardPool, winners)
	draw.CompletedAt = &completedAt

	if err := e.storage.UpdateDraw(draw); err != nil {
		return nil, err
	}

	logger.Info("draw finalized", zap.String("drawID", drawID), zap.Int("winners", len(draw.Winners)))
	return draw, nil
}

// DistributionResult reports what DistributeRewards submitted, or would
// submit in dry-run mode.
type DistributionResult struct {
	DrawID           string
	TxRef            string
	DryRun           bool
	Transfers        []chain.Transfer
	TotalDistributed decimal.Decimal
}

// DistributeRewards submits the on-chain reward transfers for a completed
// draw and marks every winner distributed with the returned tx ref. Dry
// runs only report the transfers and are served even after a live
// distribution.
func (e *Engine) DistributeRewards(ctx context.Context, drawID string, dryRun bool) (*DistributionResult, error) {

	draw, err := e.storage.GetDraw(drawID)
	if err != nil {
		return nil, err
	}
	if draw == nil {
		return nil, fmt.Errorf("%w: %s", ErrDrawNotFound, drawID)
	}
	if draw.Status != storage.DrawStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrDrawNotCompleted, drawID, draw.Status)
	}

	result := &DistributionResult{
		DrawID:           drawID,
		DryRun:           dryRun,
		TotalDistributed: decimal.Zero,
	}
	for _, winner := range draw.Winners {
		result.Transfers = append(result.Transfers, chain.Transfer{
			PublicKey: winner.PublicKey,
			Amount:    winner.RewardAmount,
		})
		result.TotalDistributed = result.TotalDistributed.Add(winner.RewardAmount)
	}

	if dryRun {
		return result, nil
	}

	allDistributed := len(draw.Winners) > 0
	for _, winner := range draw.Winners {
		if !winner.Distributed {
			allDistributed = false
			break
		}
	}
	if allDistributed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDistributed, drawID)
	}

	submitted, err := e.gateway.SubmitDistribution(ctx, drawID, result.Transfers)
	if err != nil {
		return nil, err
	}
	if !submitted.OK {
		return nil, fmt.Errorf("%w: distribution rejected: %s", chain.ErrUnavailable, submitted.ErrorMessage)
	}

	for i := range draw.Winners {
		draw.Winners[i].Distributed = true
		draw.Winners[i].DistributionRef = submitted.TxRef
	}
	if err := e.storage.UpdateDraw(draw); err != nil {
		return nil, err
	}

	result.TxRef = submitted.TxRef
	logger.Info("rewards distribution submitted", zap.String("drawID", drawID), zap.String("txRef", submitted.TxRef))
	return result, nil
}

func (e *Engine) queryRewardPool(ctx context.Context) (decimal.Decimal, error) {
	raw, err := e.gateway.QueryState(ctx, rewardPoolStateKey)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// recordFailure persists the draw as failed with a human-readable message
// and passes the original error through.
func (e *Engine) recordFailure(draw *storage.DrawRecord, cause error) error {
	draw.Status = storage.DrawStatusFailed
	draw.ErrorMessage = cause.Error()

	var persistErr error
	if draw.ID == 0 {
		persistErr = e.storage.CreateDraw(draw)
	} else {
		persistErr = e.storage.UpdateDraw(draw)
	}
	if persistErr != nil {
		logger.Error("failed to record draw failure", zap.String("drawID", draw.DrawID), zap.Error(persistErr))
	}

	return cause
}

// selectWinners picks winnerCount distinct winners from the snapshot's
// cumulative ticket pool. Each rank's draw value is derived from
// sha256(seed "_" rank), so the same seed and snapshot reproduce the same
// winner list anywhere. Terminates within winnerCount iterations.
func selectWinners(snapshot *storage.Snapshot, winnerCount int, seed string) ([]storage.DrawWinner, error) {

	entries := snapshot.Entries
	if len(entries) == 0 {
		return nil, ErrNoEligibleParticipants
	}

	totalTickets := int64(0)
	starts := make([]int64, len(entries))
	for i, entry := range entries {
		starts[i] = totalTickets
		totalTickets += entry.Tickets
	}
	if totalTickets == 0 {
		return nil, ErrNoEligibleParticipants
	}

	if winnerCount > len(entries) {
		winnerCount = len(entries)
	}

	winners := make([]storage.DrawWinner, 0, winnerCount)
	selected := make(map[string]bool, winnerCount)

	for rank := 1; rank <= winnerCount; rank++ {
		value := drawValue(seed, rank, totalTickets)

		chosen := -1
		for i, entry := range entries {
			if selected[entry.PublicKey] {
				continue
			}
			if value >= starts[i] && value < starts[i]+entry.Tickets {
				chosen = i
				break
			}
		}

		// The drawn ticket belongs to an already selected entry: fall back
		// to the first not-yet-selected entry in snapshot order.
		if chosen < 0 {
			for i, entry := range entries {
				if !selected[entry.PublicKey] {
					chosen = i
					break
				}
			}
		}
		if chosen < 0 {
			break
		}

		winners = append(winners, storage.DrawWinner{
			PublicKey:    entries[chosen].PublicKey,
			Rank:         rank,
			TicketsWon:   entries[chosen].Tickets,
			RewardAmount: decimal.Zero,
		})
		selected[entries[chosen].PublicKey] = true
	}

	return winners, nil
}

func drawValue(seed string, rank int, totalTickets int64) int64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d", seed, rank)))
	return int64(binary.BigEndian.Uint64(sum[:8]) % uint64(totalTickets))
}

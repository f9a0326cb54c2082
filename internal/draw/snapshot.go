package draw

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prizevault/internal/chain"
	"prizevault/internal/logger"
	"prizevault/internal/storage"
)

// One ticket per 10 whole units of balance.
var motesPerTicket = decimal.NewFromInt(10_000_000_000)

// SnapshotBuilder freezes the eligible participant set and their ticket
// weights for one draw. The snapshot pins the chain height at build time
// and is immutable afterwards.
type SnapshotBuilder struct {
	storage      storage.Storage
	gateway      chain.Gateway
	minBalance   decimal.Decimal
	minHoldHours float64
	now          func() time.Time
}

func NewSnapshotBuilder(store storage.Storage, gateway chain.Gateway, minBalance decimal.Decimal, minHoldHours float64) *SnapshotBuilder {
	return &SnapshotBuilder{
		storage:      store,
		gateway:      gateway,
		minBalance:   minBalance,
		minHoldHours: minHoldHours,
		now:          time.Now,
	}
}

func (b *SnapshotBuilder) Build(ctx context.Context, drawID string) (*storage.Snapshot, error) {
	logger.Info("building snapshot", zap.String("drawID", drawID))

	takenAt := b.now()
	chainHeight, err := b.gateway.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := b.storage.GetAccountsWithBalance()
	if err != nil {
		return nil, err
	}

	snapshot := &storage.Snapshot{
		DrawID:       drawID,
		TakenAt:      takenAt,
		ChainHeight:  chainHeight,
		TotalBalance: decimal.Zero,
	}

	for _, account := range accounts {
		if account.CurrentBalance.Cmp(b.minBalance) < 0 {
			continue
		}

		holdHours := b.holdDurationHours(account, takenAt)
		multiplier := WeightMultiplier(holdHours, b.minHoldHours)
		tickets := TicketsFor(account.CurrentBalance, multiplier)
		if tickets == 0 {
			continue
		}

		snapshot.Entries = append(snapshot.Entries, storage.SnapshotEntry{
			Position:          len(snapshot.Entries),
			PublicKey:         account.PublicKey,
			Balance:           account.CurrentBalance,
			Tickets:           tickets,
			HoldDurationHours: holdHours,
			WeightMultiplier:  multiplier,
		})
		snapshot.TotalTickets += tickets
		snapshot.TotalBalance = snapshot.TotalBalance.Add(account.CurrentBalance)
	}
	snapshot.ParticipantCount = len(snapshot.Entries)

	if err := b.storage.CreateSnapshot(snapshot); err != nil {
		return nil, err
	}

	logger.Info("snapshot created",
		zap.String("drawID", drawID),
		zap.Int("participants", snapshot.ParticipantCount),
		zap.Int64("totalTickets", snapshot.TotalTickets),
		zap.String("totalBalance", snapshot.TotalBalance.String()),
	)
	return snapshot, nil
}

func (b *SnapshotBuilder) holdDurationHours(account *storage.Account, at time.Time) float64 {
	since := account.CreatedAt
	if account.FirstActivityAt != nil {
		since = *account.FirstActivityAt
	}
	return at.Sub(since).Hours()
}

// WeightMultiplier is a step function of hold duration. Below the minimum
// hold the multiplier is zero, which excludes the account entirely.
func WeightMultiplier(holdHours float64, minHoldHours float64) decimal.Decimal {
	if holdHours < minHoldHours {
		return decimal.Zero
	}

	days := holdHours / 24
	switch {
	case days < 7:
		return decimal.RequireFromString("1.0")
	case days < 30:
		return decimal.RequireFromString("1.2")
	case days < 90:
		return decimal.RequireFromString("1.5")
	case days < 180:
		return decimal.RequireFromString("2.0")
	case days < 365:
		return decimal.RequireFromString("2.5")
	default:
		return decimal.RequireFromString("3.0")
	}
}

// TicketsFor computes floor(floor(balance / 10 units) * multiplier).
func TicketsFor(balance decimal.Decimal, multiplier decimal.Decimal) int64 {
	baseTickets, _ := balance.QuoRem(motesPerTicket, 0)
	return baseTickets.Mul(multiplier).Floor().IntPart()
}

package chain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps any failure to reach the chain or a rejected
// submission. Callers treat it as retryable.
var ErrUnavailable = errors.New("chain unavailable")

type EventType = string

const (
	DepositEventType            EventType = "Deposit"
	UnstakeRequestEventType     EventType = "UnstakeRequest"
	WithdrawalEventType         EventType = "Withdrawal"
	RewardDistributionEventType EventType = "RewardDistribution"
)

// Event is one contract event as observed on chain. Delivery is
// at-least-once and may arrive out of height order across restarts;
// the processor's dedup journal absorbs both.
type Event struct {
	EventID     string
	ExternalRef string
	Type        EventType
	ChainHeight int64
	At          time.Time
	PublicKey   string
	Amount      decimal.Decimal

	// reward distribution context, zero for other event types
	DrawID       string
	Rank         int
	TotalWinners int
}

type Transfer struct {
	PublicKey string
	Amount    decimal.Decimal
}

type SubmitResult struct {
	TxRef        string
	OK           bool
	ErrorMessage string
}

// Gateway is the one seam to the chain. The oracle core is written against
// this interface only; the stub and the sidecar client are interchangeable.
type Gateway interface {
	CurrentHeight(ctx context.Context) (int64, error)
	BlockHash(ctx context.Context, height int64) (string, error)
	QueryState(ctx context.Context, key string) (string, error)

	SubmitDistribution(ctx context.Context, drawID string, transfers []Transfer) (*SubmitResult, error)
	SubmitUnstakeTrigger(ctx context.Context, publicKeys []string) (*SubmitResult, error)

	FetchEvents(ctx context.Context, fromHeight int64, toHeight *int64) ([]Event, error)
	WatchEvents(ctx context.Context) (<-chan Event, error)
}

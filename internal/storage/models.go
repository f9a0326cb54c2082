package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the authoritative balance record for one participant key.
// All amounts are motes stored as text, decimal keeps the arithmetic exact.
type Account struct {
	PublicKey       string          `gorm:"primaryKey"`
	TotalDeposited  decimal.Decimal `gorm:"type:text;not null"`
	CurrentBalance  decimal.Decimal `gorm:"type:text;not null"`
	PendingUnstake  decimal.Decimal `gorm:"type:text;not null"`
	LiquidBalance   decimal.Decimal `gorm:"type:text;not null"`
	FirstActivityAt *time.Time
	LastActivityAt  time.Time `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TransactionRecord struct {
	ID          int64           `gorm:"primaryKey"`
	PublicKey   string          `gorm:"index;not null"`
	Type        TransactionType `gorm:"not null"`
	Amount      decimal.Decimal `gorm:"type:text;not null"`
	ExternalRef string          `gorm:"index;not null"`
	ChainHeight *int64
	At          time.Time `gorm:"not null"`
}

type TransactionType = string

const (
	DepositTransactionType    TransactionType = "Deposit"
	WithdrawalTransactionType TransactionType = "Withdrawal"
	RewardTransactionType     TransactionType = "Reward"
	UnstakeTransactionType    TransactionType = "Unstake"
)

type RewardRecord struct {
	ID           int64           `gorm:"primaryKey"`
	PublicKey    string          `gorm:"index;not null"`
	DrawID       string          `gorm:"index;not null"`
	Amount       decimal.Decimal `gorm:"type:text;not null"`
	Rank         int             `gorm:"not null"`
	TotalWinners int             `gorm:"not null"`
	At           time.Time       `gorm:"not null"`
}

// ProcessedEvent is the dedup journal: one row per successfully applied
// chain event, inserted only after the ledger mutation committed.
type ProcessedEvent struct {
	ID          int64  `gorm:"primaryKey"`
	EventID     string `gorm:"uniqueIndex;not null"`
	ExternalRef string `gorm:"uniqueIndex:idx_ref_event_type;not null"`
	EventType   string `gorm:"uniqueIndex:idx_ref_event_type;not null"`
	ChainHeight int64  `gorm:"index"`
	At          time.Time
	PublicKey   string          `gorm:"index;not null"`
	Amount      decimal.Decimal `gorm:"type:text"`
	ProcessedAt time.Time       `gorm:"not null"`
}

type Snapshot struct {
	ID               int64  `gorm:"primaryKey"`
	DrawID           string `gorm:"uniqueIndex;not null"`
	TakenAt          time.Time
	ChainHeight      int64
	TotalTickets     int64
	TotalBalance     decimal.Decimal `gorm:"type:text;not null"`
	ParticipantCount int
	Entries          []SnapshotEntry `gorm:"foreignKey:SnapshotID"`
}

// SnapshotEntry keeps its position: the cumulative ticket ranges used by
// winner selection are assigned in entry order.
type SnapshotEntry struct {
	ID                int64           `gorm:"primaryKey"`
	SnapshotID        int64           `gorm:"index;not null"`
	Position          int             `gorm:"not null"`
	PublicKey         string          `gorm:"not null"`
	Balance           decimal.Decimal `gorm:"type:text;not null"`
	Tickets           int64
	HoldDurationHours float64
	WeightMultiplier  decimal.Decimal `gorm:"type:text;not null"`
}

type DrawStatus = string

const (
	DrawStatusPending    DrawStatus = "pending"
	DrawStatusInProgress DrawStatus = "in_progress"
	DrawStatusCompleted  DrawStatus = "completed"
	DrawStatusFailed     DrawStatus = "failed"
)

type DrawRecord struct {
	ID                   int64      `gorm:"primaryKey"`
	DrawID               string     `gorm:"uniqueIndex;not null"`
	Status               DrawStatus `gorm:"index;not null"`
	SnapshotID           int64
	Seed                 string
	ChainHeightUsed      int64
	RequestedWinnerCount int
	TotalRewardPool      decimal.Decimal `gorm:"type:text;not null"`
	InitiatedAt          time.Time
	CompletedAt          *time.Time
	ErrorMessage         string
	Winners              []DrawWinner `gorm:"foreignKey:DrawRecordID"`
}

type DrawWinner struct {
	ID              int64  `gorm:"primaryKey"`
	DrawRecordID    int64  `gorm:"index;not null"`
	PublicKey       string `gorm:"index;not null"`
	Rank            int    `gorm:"not null"`
	TicketsWon      int64
	RewardAmount    decimal.Decimal `gorm:"type:text;not null"`
	Distributed     bool            `gorm:"default:false"`
	DistributionRef string
}

// NonceRecord is mutated only through the atomic upsert in IncrementNonce.
type NonceRecord struct {
	SignerKey    string `gorm:"primaryKey"`
	CurrentValue int64  `gorm:"not null"`
	LastUsedAt   time.Time
}

package storage

import "time"

type Storage interface {
	// account
	GetAccount(publicKey string) (*Account, error)
	GetAccountsByPublicKeys(publicKeys []string) ([]*Account, error)
	GetAccountsWithBalance() ([]*Account, error)
	SaveAccountWithHistory(account *Account, transaction *TransactionRecord, reward *RewardRecord) error
	GetTransactionHistory(publicKey string) ([]*TransactionRecord, error)
	GetRewardHistory(publicKey string) ([]*RewardRecord, error)

	// processed event journal
	GetProcessedEventByEventID(eventID string) (*ProcessedEvent, error)
	GetProcessedEventByRef(externalRef string, eventType string) (*ProcessedEvent, error)
	CreateProcessedEvent(event *ProcessedEvent) error

	// snapshot
	CreateSnapshot(snapshot *Snapshot) error
	GetSnapshotByDrawID(drawID string) (*Snapshot, error)

	// draw
	CreateDraw(draw *DrawRecord) error
	GetDraw(drawID string) (*DrawRecord, error)
	GetPendingDraw() (*DrawRecord, error)
	UpdateDraw(draw *DrawRecord) error

	// nonce
	IncrementNonce(signerKey string, at time.Time) (int64, error)
	SetNonce(signerKey string, value int64, at time.Time) error
	GetNonce(signerKey string) (int64, error)

	// reporting
	GetSystemStats() (*SystemStats, error)
}

type SystemStats struct {
	TotalAccounts   int64
	ActiveAccounts  int64
	TotalLocked     string
	TotalDraws      int64
	CompletedDraws  int64
	PendingDraws    int64
}

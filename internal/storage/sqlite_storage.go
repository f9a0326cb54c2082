package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prizevault/internal/logger"
)

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {

	logger.Debug("initializing database...")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&Account{},
		&TransactionRecord{},
		&RewardRecord{},
		&ProcessedEvent{},
		&Snapshot{},
		&SnapshotEntry{},
		&DrawRecord{},
		&DrawWinner{},
		&NonceRecord{},
	)

	if err != nil {
		return nil, err
	}

	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) GetAccount(publicKey string) (*Account, error) {

	var account Account
	err := s.db.Where("public_key = ?", publicKey).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &account, nil
}

func (s *SqliteStorage) GetAccountsByPublicKeys(publicKeys []string) ([]*Account, error) {

	var accounts []*Account
	err := s.db.Where("public_key in ?", publicKeys).Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

func (s *SqliteStorage) GetAccountsWithBalance() ([]*Account, error) {

	// Balances are canonical non-negative decimal strings, so "not zero"
	// is an exact text comparison.
	var accounts []*Account
	err := s.db.Where("current_balance <> '0'").Order("public_key").Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

// SaveAccountWithHistory upserts the account and appends its history rows in
// one transaction, so a reader never sees a balance without its entry.
func (s *SqliteStorage) SaveAccountWithHistory(account *Account, transaction *TransactionRecord, reward *RewardRecord) error {
	logger.Debug("saving account with history...")

	return s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "public_key"}},
			UpdateAll: true,
		}).Create(account).Error
		if err != nil {
			return err
		}

		if transaction != nil {
			if err := tx.Create(transaction).Error; err != nil {
				return err
			}
		}

		if reward != nil {
			if err := tx.Create(reward).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *SqliteStorage) GetTransactionHistory(publicKey string) ([]*TransactionRecord, error) {

	var records []*TransactionRecord
	err := s.db.Where("public_key = ?", publicKey).Order("at, id").Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *SqliteStorage) GetRewardHistory(publicKey string) ([]*RewardRecord, error) {

	var records []*RewardRecord
	err := s.db.Where("public_key = ?", publicKey).Order("at, id").Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *SqliteStorage) GetProcessedEventByEventID(eventID string) (*ProcessedEvent, error) {

	var event ProcessedEvent
	err := s.db.Where("event_id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &event, nil
}

func (s *SqliteStorage) GetProcessedEventByRef(externalRef string, eventType string) (*ProcessedEvent, error) {

	var event ProcessedEvent
	err := s.db.Where("external_ref = ? and event_type = ?", externalRef, eventType).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &event, nil
}

func (s *SqliteStorage) CreateProcessedEvent(event *ProcessedEvent) error {
	return s.db.Create(event).Error
}

func (s *SqliteStorage) CreateSnapshot(snapshot *Snapshot) error {
	logger.Debug("persisting snapshot...")

	err := s.db.Create(snapshot).Error
	if err != nil {
		return err
	}

	logger.Debug("persisting snapshot... done")
	return nil
}

func (s *SqliteStorage) GetSnapshotByDrawID(drawID string) (*Snapshot, error) {

	var snapshot Snapshot
	err := s.db.Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Where("draw_id = ?", drawID).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (s *SqliteStorage) CreateDraw(draw *DrawRecord) error {
	logger.Debug("persisting draw record...")

	err := s.db.Create(draw).Error
	if err != nil {
		return err
	}

	logger.Debug("persisting draw record... done")
	return nil
}

func (s *SqliteStorage) GetDraw(drawID string) (*DrawRecord, error) {

	var draw DrawRecord
	err := s.db.Preload("Winners", func(db *gorm.DB) *gorm.DB {
		return db.Order("rank")
	}).Where("draw_id = ?", drawID).First(&draw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &draw, nil
}

func (s *SqliteStorage) GetPendingDraw() (*DrawRecord, error) {

	var draw DrawRecord
	err := s.db.Where("status = ?", DrawStatusPending).First(&draw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &draw, nil
}

func (s *SqliteStorage) UpdateDraw(draw *DrawRecord) error {
	logger.Debug("updating draw record...")

	err := s.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(draw).Error
	if err != nil {
		return err
	}

	logger.Debug("updating draw record... done")
	return nil
}

// IncrementNonce is a single atomic read-modify-write against the store.
// Serialization of concurrent callers is the allocator's job.
func (s *SqliteStorage) IncrementNonce(signerKey string, at time.Time) (int64, error) {

	var value int64
	err := s.db.Raw(`
		insert into nonce_records (signer_key, current_value, last_used_at)
		values (?, 1, ?)
		on conflict (signer_key) do update set
			current_value = nonce_records.current_value + 1,
			last_used_at = excluded.last_used_at
		returning current_value
	`, signerKey, at).Scan(&value).Error

	if err != nil {
		return 0, err
	}

	return value, nil
}

func (s *SqliteStorage) SetNonce(signerKey string, value int64, at time.Time) error {

	record := NonceRecord{
		SignerKey:    signerKey,
		CurrentValue: value,
		LastUsedAt:   at,
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signer_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_value", "last_used_at"}),
	}).Create(&record).Error
}

func (s *SqliteStorage) GetNonce(signerKey string) (int64, error) {

	var record NonceRecord
	err := s.db.Where("signer_key = ?", signerKey).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return record.CurrentValue, nil
}

func (s *SqliteStorage) GetSystemStats() (*SystemStats, error) {

	stats := &SystemStats{}

	if err := s.db.Model(&Account{}).Count(&stats.TotalAccounts).Error; err != nil {
		return nil, err
	}

	accounts, err := s.GetAccountsWithBalance()
	if err != nil {
		return nil, err
	}
	stats.ActiveAccounts = int64(len(accounts))

	totalLocked := decimal.Zero
	for _, account := range accounts {
		totalLocked = totalLocked.Add(account.CurrentBalance).Add(account.PendingUnstake)
	}
	stats.TotalLocked = totalLocked.String()

	if err := s.db.Model(&DrawRecord{}).Count(&stats.TotalDraws).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&DrawRecord{}).Where("status = ?", DrawStatusCompleted).Count(&stats.CompletedDraws).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&DrawRecord{}).Where("status = ?", DrawStatusPending).Count(&stats.PendingDraws).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

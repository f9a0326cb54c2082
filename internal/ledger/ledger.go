package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prizevault/internal/logger"
	"prizevault/internal/storage"
)

var (
	ErrAccountNotFound            = errors.New("account not found")
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrInsufficientPendingUnstake = errors.New("insufficient pending unstake")
	ErrNegativeAmount             = errors.New("amount must not be negative")
)

// Ledger applies balance mutations to accounts. Every mutation recomputes
// the affected balance with exact decimal arithmetic and persists the
// account together with its matching history entry as one unit.
type Ledger struct {
	storage storage.Storage
}

func NewLedger(store storage.Storage) *Ledger {
	return &Ledger{storage: store}
}

// ApplyDeposit credits a deposit, creating the account on first contact.
func (l *Ledger) ApplyDeposit(publicKey string, amount decimal.Decimal, at time.Time, externalRef string, chainHeight *int64) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	account, err := l.storage.GetAccount(publicKey)
	if err != nil {
		return err
	}

	if account == nil {
		firstActivity := at
		account = &storage.Account{
			PublicKey:       publicKey,
			TotalDeposited:  decimal.Zero,
			CurrentBalance:  decimal.Zero,
			PendingUnstake:  decimal.Zero,
			LiquidBalance:   decimal.Zero,
			FirstActivityAt: &firstActivity,
		}
	}

	account.TotalDeposited = account.TotalDeposited.Add(amount)
	account.CurrentBalance = account.CurrentBalance.Add(amount)
	account.LiquidBalance = account.LiquidBalance.Add(amount)
	account.LastActivityAt = at

	transaction := &storage.TransactionRecord{
		PublicKey:   publicKey,
		Type:        storage.DepositTransactionType,
		Amount:      amount,
		ExternalRef: externalRef,
		ChainHeight: chainHeight,
		At:          at,
	}

	logger.Debug("ledger: deposit", zap.String("publicKey", publicKey), zap.String("amount", amount.String()))
	return l.storage.SaveAccountWithHistory(account, transaction, nil)
}

// ApplyUnstakeRequest moves funds from the active balance into the pending
// unstake bucket where they wait for the bonding period to elapse.
func (l *Ledger) ApplyUnstakeRequest(publicKey string, amount decimal.Decimal, at time.Time, externalRef string, chainHeight *int64) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	account, err := l.storage.GetAccount(publicKey)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, publicKey)
	}

	if account.CurrentBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, requested %s", ErrInsufficientBalance, account.CurrentBalance, amount)
	}

	account.CurrentBalance = account.CurrentBalance.Sub(amount)
	account.PendingUnstake = account.PendingUnstake.Add(amount)
	account.LiquidBalance = account.LiquidBalance.Sub(amount)
	account.LastActivityAt = at

	transaction := &storage.TransactionRecord{
		PublicKey:   publicKey,
		Type:        storage.UnstakeTransactionType,
		Amount:      amount,
		ExternalRef: externalRef,
		ChainHeight: chainHeight,
		At:          at,
	}

	logger.Debug("ledger: unstake request", zap.String("publicKey", publicKey), zap.String("amount", amount.String()))
	return l.storage.SaveAccountWithHistory(account, transaction, nil)
}

// ApplyWithdrawal releases previously unstaked funds to the participant.
func (l *Ledger) ApplyWithdrawal(publicKey string, amount decimal.Decimal, at time.Time, externalRef string, chainHeight *int64) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	account, err := l.storage.GetAccount(publicKey)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, publicKey)
	}

	if account.PendingUnstake.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, requested %s", ErrInsufficientPendingUnstake, account.PendingUnstake, amount)
	}

	account.PendingUnstake = account.PendingUnstake.Sub(amount)
	account.LastActivityAt = at

	transaction := &storage.TransactionRecord{
		PublicKey:   publicKey,
		Type:        storage.WithdrawalTransactionType,
		Amount:      amount,
		ExternalRef: externalRef,
		ChainHeight: chainHeight,
		At:          at,
	}

	logger.Debug("ledger: withdrawal", zap.String("publicKey", publicKey), zap.String("amount", amount.String()))
	return l.storage.SaveAccountWithHistory(account, transaction, nil)
}

// ApplyRewardCredit credits a draw reward, appending both the transaction
// entry and the reward history entry.
func (l *Ledger) ApplyRewardCredit(publicKey string, amount decimal.Decimal, drawID string, rank int, totalWinners int, at time.Time, externalRef string, chainHeight *int64) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	account, err := l.storage.GetAccount(publicKey)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, publicKey)
	}

	account.CurrentBalance = account.CurrentBalance.Add(amount)
	account.LiquidBalance = account.LiquidBalance.Add(amount)
	account.LastActivityAt = at

	transaction := &storage.TransactionRecord{
		PublicKey:   publicKey,
		Type:        storage.RewardTransactionType,
		Amount:      amount,
		ExternalRef: externalRef,
		ChainHeight: chainHeight,
		At:          at,
	}

	reward := &storage.RewardRecord{
		PublicKey:    publicKey,
		DrawID:       drawID,
		Amount:       amount,
		Rank:         rank,
		TotalWinners: totalWinners,
		At:           at,
	}

	logger.Debug("ledger: reward credit",
		zap.String("publicKey", publicKey),
		zap.String("drawID", drawID),
		zap.Int("rank", rank),
		zap.String("amount", amount.String()),
	)
	return l.storage.SaveAccountWithHistory(account, transaction, reward)
}

package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prizevault/internal/logger"
	"prizevault/internal/storage"
)

func TestMain(m *testing.M) {
	logger.InitializeNop()
	os.Exit(m.Run())
}

func newTestLedger(t *testing.T) (*Ledger, storage.Storage) {
	t.Helper()

	store, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	return NewLedger(store), store
}

func motes(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestApplyDeposit(t *testing.T) {
	book, store := newTestLedger(t)
	at := time.Now().UTC().Truncate(time.Second)

	t.Run("creates the account on first deposit", func(t *testing.T) {
		err := book.ApplyDeposit("key-a", motes("50000000000"), at, "deploy-1", nil)
		require.NoError(t, err)

		account, err := store.GetAccount("key-a")
		require.NoError(t, err)
		require.NotNil(t, account)
		assert.Equal(t, "50000000000", account.CurrentBalance.String())
		assert.Equal(t, "50000000000", account.TotalDeposited.String())
		assert.Equal(t, "0", account.PendingUnstake.String())
		require.NotNil(t, account.FirstActivityAt)
		assert.True(t, account.FirstActivityAt.Equal(at))
	})

	t.Run("accumulates on repeat deposits", func(t *testing.T) {
		err := book.ApplyDeposit("key-a", motes("25000000000"), at.Add(time.Hour), "deploy-2", nil)
		require.NoError(t, err)

		account, err := store.GetAccount("key-a")
		require.NoError(t, err)
		assert.Equal(t, "75000000000", account.CurrentBalance.String())
		assert.Equal(t, "75000000000", account.TotalDeposited.String())
		// first activity is not rewritten
		assert.True(t, account.FirstActivityAt.Equal(at))
	})

	t.Run("every deposit mirrors one history entry", func(t *testing.T) {
		history, err := store.GetTransactionHistory("key-a")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, storage.DepositTransactionType, history[0].Type)
		assert.Equal(t, "deploy-1", history[0].ExternalRef)
		assert.Equal(t, "deploy-2", history[1].ExternalRef)
	})
}

func TestApplyUnstakeRequest(t *testing.T) {
	book, store := newTestLedger(t)
	at := time.Now()

	require.NoError(t, book.ApplyDeposit("key-a", motes("100"), at, "d-1", nil))

	t.Run("fails for unknown account", func(t *testing.T) {
		err := book.ApplyUnstakeRequest("key-x", motes("10"), at, "d-2", nil)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("fails when balance is too low", func(t *testing.T) {
		err := book.ApplyUnstakeRequest("key-a", motes("101"), at, "d-3", nil)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("moves funds into pending unstake", func(t *testing.T) {
		err := book.ApplyUnstakeRequest("key-a", motes("30"), at, "d-4", nil)
		require.NoError(t, err)

		account, err := store.GetAccount("key-a")
		require.NoError(t, err)
		assert.Equal(t, "70", account.CurrentBalance.String())
		assert.Equal(t, "30", account.PendingUnstake.String())
		// total deposited never decreases
		assert.Equal(t, "100", account.TotalDeposited.String())
	})
}

func TestApplyWithdrawal(t *testing.T) {
	book, store := newTestLedger(t)
	at := time.Now()

	require.NoError(t, book.ApplyDeposit("key-a", motes("100"), at, "d-1", nil))
	require.NoError(t, book.ApplyUnstakeRequest("key-a", motes("40"), at, "d-2", nil))

	t.Run("fails for unknown account", func(t *testing.T) {
		err := book.ApplyWithdrawal("key-x", motes("10"), at, "d-3", nil)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("fails when pending unstake is too low", func(t *testing.T) {
		err := book.ApplyWithdrawal("key-a", motes("41"), at, "d-4", nil)
		assert.ErrorIs(t, err, ErrInsufficientPendingUnstake)
	})

	t.Run("releases pending funds", func(t *testing.T) {
		err := book.ApplyWithdrawal("key-a", motes("40"), at, "d-5", nil)
		require.NoError(t, err)

		account, err := store.GetAccount("key-a")
		require.NoError(t, err)
		assert.Equal(t, "60", account.CurrentBalance.String())
		assert.Equal(t, "0", account.PendingUnstake.String())
	})
}

func TestApplyRewardCredit(t *testing.T) {
	book, store := newTestLedger(t)
	at := time.Now()

	t.Run("fails for unknown account", func(t *testing.T) {
		err := book.ApplyRewardCredit("key-x", motes("5"), "draw-1", 1, 3, at, "d-1", nil)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("credits the balance and both histories", func(t *testing.T) {
		require.NoError(t, book.ApplyDeposit("key-a", motes("100"), at, "d-2", nil))
		require.NoError(t, book.ApplyRewardCredit("key-a", motes("5"), "draw-1", 2, 4, at, "d-3", nil))

		account, err := store.GetAccount("key-a")
		require.NoError(t, err)
		assert.Equal(t, "105", account.CurrentBalance.String())

		rewards, err := store.GetRewardHistory("key-a")
		require.NoError(t, err)
		require.Len(t, rewards, 1)
		assert.Equal(t, "draw-1", rewards[0].DrawID)
		assert.Equal(t, 2, rewards[0].Rank)
		assert.Equal(t, 4, rewards[0].TotalWinners)

		history, err := store.GetTransactionHistory("key-a")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, storage.RewardTransactionType, history[1].Type)
	})
}

// current_balance + pending_unstake must equal net inflows exactly for any
// event sequence, with no rounding drift.
func TestConservation(t *testing.T) {
	book, store := newTestLedger(t)
	at := time.Now()

	require.NoError(t, book.ApplyDeposit("key-a", motes("123456789123456789"), at, "c-1", nil))
	require.NoError(t, book.ApplyUnstakeRequest("key-a", motes("23456789123456789"), at, "c-2", nil))
	require.NoError(t, book.ApplyWithdrawal("key-a", motes("3456789123456789"), at, "c-3", nil))
	require.NoError(t, book.ApplyRewardCredit("key-a", motes("999999999999999"), "draw-1", 1, 1, at, "c-4", nil))
	require.NoError(t, book.ApplyDeposit("key-a", motes("1"), at, "c-5", nil))

	account, err := store.GetAccount("key-a")
	require.NoError(t, err)

	inflows := motes("123456789123456789").
		Add(motes("999999999999999")).
		Add(motes("1")).
		Sub(motes("3456789123456789"))

	held := account.CurrentBalance.Add(account.PendingUnstake)
	assert.True(t, held.Equal(inflows), "held %s, expected %s", held, inflows)
}

func TestNegativeAmountRejected(t *testing.T) {
	book, _ := newTestLedger(t)

	err := book.ApplyDeposit("key-a", motes("-1"), time.Now(), "n-1", nil)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

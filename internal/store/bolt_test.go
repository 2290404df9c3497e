package store

import (
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

func openTestStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := Open(path, 1000, 50*time.Millisecond, logger.NewNop())
	require.NoError(t, err)
	return s
}

func newTestCharge(id, address string, amount int64) *models.Charge {
	return &models.Charge{
		ID:           id,
		Address:      address,
		AccountIndex: 1000,
		Amount:       big.NewInt(amount),
		Received:     big.NewInt(0),
		Status:       models.StatusPending,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(time.Minute),
	}
}

func TestCreateAndLookup(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer s.Close()

	charge := newTestCharge("ch-1", "addr-1", 1000)
	require.NoError(t, s.CreateCharge(charge))

	byID, err := s.GetCharge("ch-1")
	require.NoError(t, err)
	assert.Equal(t, charge.ID, byID.ID)
	assert.NotSame(t, charge, byID)

	byAddr, err := s.GetChargeByAddress("addr-1")
	require.NoError(t, err)
	assert.Equal(t, charge.ID, byAddr.ID)
	assert.NotSame(t, charge, byAddr)

	_, err = s.GetCharge("missing")
	assert.ErrorIs(t, err, models.ErrChargeNotFound)

	// One charge per address at a time.
	dup := newTestCharge("ch-2", "addr-1", 500)
	assert.Error(t, s.CreateCharge(dup))
}

func TestReleaseAddressKeepsCharge(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer s.Close()

	charge := newTestCharge("ch-1", "addr-1", 1000)
	require.NoError(t, s.CreateCharge(charge))

	s.ReleaseAddress("addr-1")

	_, err := s.GetChargeByAddress("addr-1")
	assert.ErrorIs(t, err, models.ErrChargeNotFound)

	// The record itself is retained for history.
	_, err = s.GetCharge("ch-1")
	require.NoError(t, err)

	// The address can be taken by a new charge once released.
	require.NoError(t, s.CreateCharge(newTestCharge("ch-2", "addr-1", 500)))
}

func TestListOrderingAndFilter(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer s.Close()

	base := time.Now().UTC()
	for i, id := range []string{"ch-c", "ch-a", "ch-b"} {
		charge := newTestCharge(id, "addr-"+id, 1000)
		charge.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateCharge(charge))
	}
	swept, err := s.GetCharge("ch-a")
	require.NoError(t, err)
	swept.Status = models.StatusSwept
	require.NoError(t, s.UpdateCharge(swept))

	all := s.ListCharges()
	require.Len(t, all, 3)
	assert.Equal(t, "ch-c", all[0].ID)
	assert.Equal(t, "ch-a", all[1].ID)
	assert.Equal(t, "ch-b", all[2].ID)

	pending := s.ListCharges(models.StatusPending)
	require.Len(t, pending, 2)

	sweptOnly := s.ListCharges(models.StatusSwept)
	require.Len(t, sweptOnly, 1)
	assert.Equal(t, "ch-a", sweptOnly[0].ID)
}

func TestChargesAreCopiedAtTheBoundary(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer s.Close()

	charge := newTestCharge("ch-1", "addr-1", 1000)
	require.NoError(t, s.CreateCharge(charge))

	// Mutating the caller's object after Create must not leak into the store.
	charge.Received.SetInt64(999)
	charge.Status = models.StatusSwept

	stored, err := s.GetCharge("ch-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Zero(t, stored.Received.Sign())

	// Mutating a fetched copy changes nothing until it is published.
	stored.Status = models.StatusPartial
	stored.Received = big.NewInt(400)
	stored.Transactions = append(stored.Transactions, models.ChargeTx{
		Hash: "tx-1", Amount: big.NewInt(400), ReceivedAt: time.Now().UTC(),
	})

	fresh, err := s.GetCharge("ch-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, fresh.Status)
	assert.Empty(t, fresh.Transactions)

	require.NoError(t, s.UpdateCharge(stored))
	updated, err := s.GetCharge("ch-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, updated.Status)
	require.Len(t, updated.Transactions, 1)
	assert.Zero(t, updated.Received.Cmp(big.NewInt(400)))

	// Both indices serve the updated state.
	byAddr, err := s.GetChargeByAddress("addr-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, byAddr.Status)
}

func TestUpdateChargeEdgeCases(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer s.Close()

	missing := newTestCharge("ch-ghost", "addr-ghost", 1000)
	assert.ErrorIs(t, s.UpdateCharge(missing), models.ErrChargeNotFound)

	charge := newTestCharge("ch-1", "addr-1", 1000)
	require.NoError(t, s.CreateCharge(charge))
	s.ReleaseAddress("addr-1")

	// Updating a charge whose address was released must not re-register it.
	charge.Status = models.StatusSwept
	require.NoError(t, s.UpdateCharge(charge))
	_, err := s.GetChargeByAddress("addr-1")
	assert.ErrorIs(t, err, models.ErrChargeNotFound)

	stored, err := s.GetCharge("ch-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSwept, stored.Status)
}

func TestSnapshotDuringConcurrentUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path)

	charge := newTestCharge("ch-1", "addr-1", 1000000)
	require.NoError(t, s.CreateCharge(charge))

	// One writer applies transactions through the get/mutate/update cycle
	// while another writes snapshots; the final snapshot must be internally
	// consistent.
	const writes = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			current, err := s.GetCharge("ch-1")
			if err != nil {
				return
			}
			current.Transactions = append(current.Transactions, models.ChargeTx{
				Hash:       fmt.Sprintf("tx-%d", i),
				Amount:     big.NewInt(10),
				ReceivedAt: time.Now().UTC(),
			})
			current.Received = new(big.Int).Add(current.Received, big.NewInt(10))
			if err := s.UpdateCharge(current); err != nil {
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.SaveNow())
	}
	<-done
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	defer reopened.Close()
	loaded, err := reopened.GetCharge("ch-1")
	require.NoError(t, err)

	sum := big.NewInt(0)
	for _, tx := range loaded.Transactions {
		sum.Add(sum, tx.Amount)
	}
	assert.Zero(t, sum.Cmp(loaded.Received), "snapshot must never tear transactions apart from received")
	assert.Len(t, loaded.Transactions, writes)
}

func TestAllocateAccountIndex(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer s.Close()

	// Strictly increasing from the configured initial offset.
	assert.Equal(t, uint32(1000), s.AllocateAccountIndex())
	assert.Equal(t, uint32(1001), s.AllocateAccountIndex())
	assert.Equal(t, uint32(1002), s.AllocateAccountIndex())
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path)

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	completed := created.Add(30 * time.Second)
	charge := &models.Charge{
		ID:           "ch-1",
		Address:      "addr-1",
		AccountIndex: 1000,
		Amount:       big.NewInt(1000000),
		Received:     big.NewInt(1000000),
		Status:       models.StatusCompleted,
		Transactions: []models.ChargeTx{
			{Hash: "tx-1", From: "payer-1", Amount: big.NewInt(400000), ReceivedAt: created.Add(10 * time.Second)},
			{Hash: "tx-2", From: "payer-1", Amount: big.NewInt(600000), ReceivedAt: created.Add(20 * time.Second)},
		},
		CreatedAt:   created,
		ExpiresAt:   created.Add(time.Minute),
		CompletedAt: &completed,
		NotifyURL:   "https://example.com/hook",
		Metadata:    []byte(`{"order":"1234"}`),
	}
	require.NoError(t, s.CreateCharge(charge))
	s.AllocateAccountIndex()
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	defer reopened.Close()

	loaded, err := reopened.GetCharge("ch-1")
	require.NoError(t, err)
	assert.Equal(t, charge.ID, loaded.ID)
	assert.Equal(t, charge.Address, loaded.Address)
	assert.Equal(t, charge.AccountIndex, loaded.AccountIndex)
	assert.Zero(t, charge.Amount.Cmp(loaded.Amount))
	assert.Zero(t, charge.Received.Cmp(loaded.Received))
	assert.Equal(t, charge.Status, loaded.Status)
	require.Len(t, loaded.Transactions, 2)
	assert.Equal(t, "tx-1", loaded.Transactions[0].Hash)
	assert.Zero(t, charge.Transactions[0].Amount.Cmp(loaded.Transactions[0].Amount))
	assert.True(t, charge.CreatedAt.Equal(loaded.CreatedAt))
	assert.True(t, charge.ExpiresAt.Equal(loaded.ExpiresAt))
	require.NotNil(t, loaded.CompletedAt)
	assert.True(t, completed.Equal(*loaded.CompletedAt))
	assert.Equal(t, charge.NotifyURL, loaded.NotifyURL)
	assert.JSONEq(t, `{"order":"1234"}`, string(loaded.Metadata))

	// The allocator resumes where it left off.
	assert.Equal(t, uint32(1001), reopened.AllocateAccountIndex())
}

func TestSweptAddressNotReindexedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path)

	charge := newTestCharge("ch-1", "addr-1", 1000)
	charge.Status = models.StatusSwept
	require.NoError(t, s.CreateCharge(charge))
	s.ReleaseAddress("addr-1")
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	defer reopened.Close()

	_, err := reopened.GetCharge("ch-1")
	require.NoError(t, err)
	_, err = reopened.GetChargeByAddress("addr-1")
	assert.ErrorIs(t, err, models.ErrChargeNotFound)
}

func TestDebouncedSaveCoalesces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s := openTestStore(t, path)

	require.NoError(t, s.CreateCharge(newTestCharge("ch-1", "addr-1", 1000)))
	s.Save()
	s.Save()
	s.Save()

	// The debounce window is 50ms; after quiescence the write has landed.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.db.Close())

	reopened := openTestStore(t, path)
	defer reopened.Close()
	_, err := reopened.GetCharge("ch-1")
	require.NoError(t, err)
}

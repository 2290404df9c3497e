// Package store implements the durable charge registry: an in-memory dual
// index (by id, by address) snapshotted into a single BoltDB file.
//
// The whole charge set is written as one snapshot document. Routine updates
// go through Save, which coalesces rapid writes behind a short debounce
// timer; state-critical transitions use SaveNow to bound data loss on crash.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/strawberry-labs/berrypay-cli/internal/models"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

const (
	bucketName  = "berrypay"
	snapshotKey = "snapshot"
)

// Snapshot is the persisted state document. It is reloaded verbatim on
// restart, timestamps included.
type Snapshot struct {
	NextAccountIndex uint32           `json:"nextAccountIndex"`
	Charges          []*models.Charge `json:"charges"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// BoltStore is the ChargeRepository implementation. The indexed charges are
// owned by the store and only ever touched under its mutex: reads hand out
// deep copies, writes copy the caller's state in, and the snapshot marshal
// therefore never observes a charge mid-mutation.
type BoltStore struct {
	logger   *logger.Logger
	db       *bolt.DB
	debounce time.Duration

	mu        sync.Mutex
	byID      map[string]*models.Charge
	byAddress map[string]*models.Charge
	nextIndex uint32
	saveTimer *time.Timer
}

// Open opens (or creates) the store file and loads the snapshot. An absent
// snapshot starts an empty store at initialIndex, which is kept high to
// stay clear of the primary account's sub-account.
func Open(path string, initialIndex uint32, debounce time.Duration, logger *logger.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create store bucket: %w", err)
	}

	s := &BoltStore{
		logger:    logger,
		db:        db,
		debounce:  debounce,
		byID:      make(map[string]*models.Charge),
		byAddress: make(map[string]*models.Charge),
		nextIndex: initialIndex,
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// load reads the snapshot and rebuilds both indices. Swept charges stay in
// the id index for history but their addresses are not re-registered.
func (s *BoltStore) load() error {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucketName)).Get([]byte(snapshotKey)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if raw == nil {
		s.logger.Infow("no snapshot found, starting empty", "next_index", s.nextIndex)
		return nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	s.nextIndex = snapshot.NextAccountIndex
	for _, charge := range snapshot.Charges {
		s.byID[charge.ID] = charge
		if charge.Status != models.StatusSwept {
			s.byAddress[charge.Address] = charge
		}
	}
	s.logger.Infow("snapshot loaded",
		"charges", len(snapshot.Charges),
		"next_index", s.nextIndex,
		"updated_at", snapshot.UpdatedAt)
	return nil
}

func (s *BoltStore) CreateCharge(charge *models.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[charge.ID]; exists {
		return fmt.Errorf("charge %s already exists", charge.ID)
	}
	if other, exists := s.byAddress[charge.Address]; exists {
		return fmt.Errorf("address %s is already registered to charge %s", charge.Address, other.ID)
	}

	clone := charge.Clone()
	s.byID[clone.ID] = clone
	s.byAddress[clone.Address] = clone
	return nil
}

func (s *BoltStore) GetCharge(id string) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, ok := s.byID[id]
	if !ok {
		return nil, models.ErrChargeNotFound
	}
	return charge.Clone(), nil
}

func (s *BoltStore) GetChargeByAddress(address string) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, ok := s.byAddress[address]
	if !ok {
		return nil, models.ErrChargeNotFound
	}
	return charge.Clone(), nil
}

// UpdateCharge replaces the stored state of an existing charge with the
// caller's copy. A released address is not re-registered.
func (s *BoltStore) UpdateCharge(charge *models.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[charge.ID]; !ok {
		return models.ErrChargeNotFound
	}
	clone := charge.Clone()
	s.byID[clone.ID] = clone
	if indexed, ok := s.byAddress[clone.Address]; ok && indexed.ID == clone.ID {
		s.byAddress[clone.Address] = clone
	}
	return nil
}

func (s *BoltStore) ListCharges(statuses ...models.ChargeStatus) []*models.Charge {
	s.mu.Lock()
	defer s.mu.Unlock()

	charges := make([]*models.Charge, 0, len(s.byID))
	for _, charge := range s.byID {
		if len(statuses) > 0 && !statusIn(charge.Status, statuses) {
			continue
		}
		charges = append(charges, charge.Clone())
	}
	sort.Slice(charges, func(i, j int) bool {
		if charges[i].CreatedAt.Equal(charges[j].CreatedAt) {
			return charges[i].ID < charges[j].ID
		}
		return charges[i].CreatedAt.Before(charges[j].CreatedAt)
	})
	return charges
}

func statusIn(status models.ChargeStatus, statuses []models.ChargeStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *BoltStore) DeleteCharge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, ok := s.byID[id]
	if !ok {
		return models.ErrChargeNotFound
	}
	delete(s.byID, id)
	if indexed, ok := s.byAddress[charge.Address]; ok && indexed.ID == id {
		delete(s.byAddress, charge.Address)
	}
	return nil
}

func (s *BoltStore) ReleaseAddress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAddress, address)
}

func (s *BoltStore) AllocateAccountIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.nextIndex
	s.nextIndex++
	return index
}

// Save schedules a debounced snapshot write. Each call rearms the timer, so
// a burst of updates collapses into a single write after quiescence.
func (s *BoltStore) Save() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveTimer != nil {
		s.saveTimer.Reset(s.debounce)
		return
	}
	s.saveTimer = time.AfterFunc(s.debounce, func() {
		if err := s.SaveNow(); err != nil {
			s.logger.Errorw("debounced snapshot write failed", "error", err)
		}
	})
}

// SaveNow writes the snapshot immediately, cancelling any pending debounced
// write. Stored charges are replaced whole on update, never mutated in
// place, so the marshal may run outside the mutex.
func (s *BoltStore) SaveNow() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	snapshot := Snapshot{
		NextAccountIndex: s.nextIndex,
		Charges:          make([]*models.Charge, 0, len(s.byID)),
		UpdatedAt:        time.Now().UTC(),
	}
	for _, charge := range s.byID {
		snapshot.Charges = append(snapshot.Charges, charge)
	}
	sort.Slice(snapshot.Charges, func(i, j int) bool {
		if snapshot.Charges[i].CreatedAt.Equal(snapshot.Charges[j].CreatedAt) {
			return snapshot.Charges[i].ID < snapshot.Charges[j].ID
		}
		return snapshot.Charges[i].CreatedAt.Before(snapshot.Charges[j].CreatedAt)
	})
	data, err := json.Marshal(&snapshot)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(snapshotKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Close flushes the snapshot and releases the file lock.
func (s *BoltStore) Close() error {
	if err := s.SaveNow(); err != nil {
		s.logger.Errorw("final snapshot write failed", "error", err)
	}
	return s.db.Close()
}

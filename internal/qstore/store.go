package qstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/qserv/qserv-go/internal/ids"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkerEpochs = []byte("worker_epochs")
	bucketCzarEpoch    = []byte("czar_epoch")
	bucketGCWatermark  = []byte("gc_watermark")
)

const (
	keyCzarEpoch   = "last_seen_czar"
	keyGCWatermark = "watermark"
)

// Store is the shared BoltDB handle. A czar process uses the
// worker-epoch and GC-watermark buckets; a worker process uses the
// czar-epoch bucket. Both share one file layout so a future combined
// deployment (czar and worker colocated, e.g. in tests) needs only one
// database file.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the BoltDB file <dataDir>/qserv.db and ensures all
// buckets exist.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "qserv.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("qstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWorkerEpochs, bucketCzarEpoch, bucketGCWatermark} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("qstore: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// czarWorkerRecord is the czar's durable view of one worker.
type czarWorkerRecord struct {
	Epoch ids.Epoch `json:"epoch"`
}

// RecordWorkerEpoch persists the last-known restart epoch the czar has
// observed for worker w. Called whenever a /status response reveals a new
// epoch (spec.md §4.14's worker-restart-detection trigger).
func (s *Store) RecordWorkerEpoch(w ids.WorkerID, epoch ids.Epoch) error {
	rec := czarWorkerRecord{Epoch: epoch}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("qstore: marshal worker epoch: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkerEpochs).Put([]byte(w), data)
	})
}

// WorkerEpoch returns the last-persisted epoch for worker w, and whether
// one was found at all (false on a never-seen worker).
func (s *Store) WorkerEpoch(w ids.WorkerID) (ids.Epoch, bool, error) {
	var epoch ids.Epoch
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkerEpochs).Get([]byte(w))
		if data == nil {
			return nil
		}
		var rec czarWorkerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("qstore: unmarshal worker epoch: %w", err)
		}
		epoch = rec.Epoch
		found = true
		return nil
	})
	return epoch, found, err
}

// RecordCzarEpoch persists the last-seen czar id/epoch on the worker side,
// so a worker restart can compare against what it remembers from before it
// died (spec.md §4.14 S6).
func (s *Store) RecordCzarEpoch(czarID string, epoch ids.Epoch) error {
	rec := struct {
		CzarID string    `json:"czarId"`
		Epoch  ids.Epoch `json:"epoch"`
	}{czarID, epoch}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("qstore: marshal czar epoch: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCzarEpoch).Put([]byte(keyCzarEpoch), data)
	})
}

// LastCzarEpoch returns the worker's last-persisted czar id/epoch, and
// whether a record existed (false on first-ever startup).
func (s *Store) LastCzarEpoch() (czarID string, epoch ids.Epoch, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCzarEpoch).Get([]byte(keyCzarEpoch))
		if data == nil {
			return nil
		}
		var rec struct {
			CzarID string    `json:"czarId"`
			Epoch  ids.Epoch `json:"epoch"`
		}
		if uerr := json.Unmarshal(data, &rec); uerr != nil {
			return fmt.Errorf("qstore: unmarshal czar epoch: %w", uerr)
		}
		czarID, epoch, found = rec.CzarID, rec.Epoch, true
		return nil
	})
	return
}

// RecordGCWatermark persists the highest query id the czar has fully
// garbage-collected, so a czar restart doesn't forget how far GC has
// progressed and needlessly re-evaluate already-collected queries.
func (s *Store) RecordGCWatermark(q ids.QueryID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGCWatermark).Put([]byte(keyGCWatermark), []byte(fmt.Sprintf("%d", q)))
	})
}

// GCWatermark returns the persisted high-water-mark query id, or 0 if none
// has ever been recorded.
func (s *Store) GCWatermark() (ids.QueryID, error) {
	var q ids.QueryID
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGCWatermark).Get([]byte(keyGCWatermark))
		if data == nil {
			return nil
		}
		_, err := fmt.Sscanf(string(data), "%d", &q)
		return err
	})
	return q, err
}

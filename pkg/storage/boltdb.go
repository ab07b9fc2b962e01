package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/iffish/pkg/clustertypes"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta   = []byte("meta")
	bucketTokens = []byte("tokens")

	keyNodeID          = []byte("node_id")
	keyLastIncarnation = []byte("last_incarnation")
)

// BoltStore implements Store on top of a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the data directory's iffd.db
// and ensures both buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "iffd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketTokens); err != nil {
			return fmt.Errorf("create tokens bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// NodeIdentity returns the persisted node id and last incarnation,
// minting a new node id on first boot.
func (s *BoltStore) NodeIdentity() (clustertypes.NodeID, uint64, error) {
	var id clustertypes.NodeID
	var incarnation uint64

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)

		raw := b.Get(keyNodeID)
		if raw == nil {
			id = clustertypes.NewNodeID()
			if err := b.Put(keyNodeID, []byte(id.String())); err != nil {
				return fmt.Errorf("persist node id: %w", err)
			}
		} else {
			parsed, err := clustertypes.ParseNodeID(string(raw))
			if err != nil {
				return fmt.Errorf("parse persisted node id: %w", err)
			}
			id = parsed
		}

		if raw := b.Get(keyLastIncarnation); raw != nil {
			incarnation = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return clustertypes.NodeID{}, 0, err
	}
	return id, incarnation, nil
}

// SaveIncarnation persists the node's current incarnation so the next
// boot resumes strictly above it (spec.md §6).
func (s *BoltStore) SaveIncarnation(incarnation uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], incarnation)
		return b.Put(keyLastIncarnation, buf[:])
	})
}

// AppendTokenMutation appends one record to tokens.log, keyed by a
// monotonically increasing sequence number so ForEach replays in append
// order regardless of token id.
func (s *BoltStore) AppendTokenMutation(t clustertypes.Token) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}

		mut := TokenMutation{Seq: seq, Token: t}
		data, err := json.Marshal(mut)
		if err != nil {
			return fmt.Errorf("marshal token mutation: %w", err)
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], data)
	})
}

// ReplayTokenLog returns every mutation in append order.
func (s *BoltStore) ReplayTokenLog() ([]TokenMutation, error) {
	var muts []TokenMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var mut TokenMutation
			if err := json.Unmarshal(v, &mut); err != nil {
				return fmt.Errorf("unmarshal token mutation: %w", err)
			}
			muts = append(muts, mut)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return muts, nil
}

// CompactTokenLog drops the bucket's mutation history and reseeds it
// with one entry per token in snapshot, preserving the invariant that
// replay yields the same live state (spec.md §8).
func (s *BoltStore) CompactTokenLog(snapshot []clustertypes.Token) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketTokens); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("drop tokens bucket: %w", err)
		}
		b, err := tx.CreateBucket(bucketTokens)
		if err != nil {
			return fmt.Errorf("recreate tokens bucket: %w", err)
		}

		for _, t := range snapshot {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("allocate sequence: %w", err)
			}
			data, err := json.Marshal(TokenMutation{Seq: seq, Token: t})
			if err != nil {
				return fmt.Errorf("marshal token mutation: %w", err)
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], seq)
			if err := b.Put(key[:], data); err != nil {
				return err
			}
		}
		return nil
	})
}

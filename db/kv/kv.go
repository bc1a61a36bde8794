// Package kv is the persistence layer: a bbolt-backed device registry
// keyed by device_id with a secondary index on status, and a metadata
// store holding the current accumulator parameters and root. Writes
// happen under the gateway's single-writer lock; reads are served
// directly against bbolt's own MVCC snapshot and are eventually
// consistent with the most recent committed write.
package kv

import (
	"context"
	"encoding/binary"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mohae/deepcopy"
	bolt "go.etcd.io/bbolt"

	"github.com/meshguard/accumulator-gateway/domain"
	"github.com/meshguard/accumulator-gateway/gwerrors"
)

const databaseFileName = "gateway.db"

var (
	devicesBucket          = []byte("devices")
	deviceStatusIndexBucket = []byte("devices-by-status")
	metadataBucket         = []byte("metadata")

	metadataRootKey             = []byte("root")
	metadataRootHashKey         = []byte("root-hash")
	metadataVersionKey          = []byte("version")
	metadataPreviousRootKey     = []byte("previous-root")
	metadataPreviousRootHashKey = []byte("previous-root-hash")
	metadataNKey                = []byte("n")
	metadataGKey                = []byte("g")
	metadataLambdaKey           = []byte("lambda")
)

// deviceCacheSize bounds the in-memory LRU mirror of recently touched
// device records, avoiding a bbolt read on the gateway's hot
// authentication path.
const deviceCacheSize = 2048

// Store is the gateway's persistence handle.
type Store struct {
	db           *bolt.DB
	databasePath string
	deviceCache  *lru.Cache
}

// NewKVStore opens (creating if absent) the bbolt database rooted at
// dirPath.
func NewKVStore(_ context.Context, dirPath string) (*Store, error) {
	databasePath := filepath.Join(dirPath, databaseFileName)
	db, err := bolt.Open(databasePath, 0600, &bolt.Options{Timeout: 0})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to open database")
	}
	cache, err := lru.New(deviceCacheSize)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to allocate device cache")
	}
	s := &Store{db: db, databasePath: databasePath, deviceCache: cache}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{devicesBucket, deviceStatusIndexBucket, metadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to initialize buckets")
	}
	return s, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath returns the path to the bbolt file backing this store.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func statusIndexKey(status domain.DeviceStatus, deviceID [32]byte) []byte {
	key := make([]byte, 0, len(status)+1+32)
	key = append(key, []byte(status)...)
	key = append(key, '/')
	key = append(key, deviceID[:]...)
	return key
}

// SaveDevice upserts a device record. Callers are expected to already
// hold the gateway's single-writer accumulator lock.
func (s *Store) SaveDevice(_ context.Context, device *domain.Device) error {
	encoded, err := encodeDevice(device)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		devices := tx.Bucket(devicesBucket)
		if existing := devices.Get(device.DeviceID[:]); existing != nil {
			prior, err := decodeDevice(existing)
			if err != nil {
				return err
			}
			if prior.Status != device.Status {
				if err := tx.Bucket(deviceStatusIndexBucket).Delete(statusIndexKey(prior.Status, device.DeviceID)); err != nil {
					return err
				}
			}
		}
		if err := devices.Put(device.DeviceID[:], encoded); err != nil {
			return err
		}
		return tx.Bucket(deviceStatusIndexBucket).Put(statusIndexKey(device.Status, device.DeviceID), []byte{1})
	})
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "failed to save device")
	}
	s.deviceCache.Add(device.DeviceID, device.Clone())
	return nil
}

// Device fetches a device by id, checking the LRU mirror before bbolt.
func (s *Store) Device(_ context.Context, deviceID [32]byte) (*domain.Device, error) {
	if cached, ok := s.deviceCache.Get(deviceID); ok {
		return cached.(*domain.Device).Clone(), nil
	}
	var device *domain.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(devicesBucket).Get(deviceID[:])
		if raw == nil {
			return nil
		}
		d, err := decodeDevice(raw)
		if err != nil {
			return err
		}
		device = d
		return nil
	})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to read device")
	}
	if device == nil {
		return nil, gwerrors.New(gwerrors.NotFound, "device not found")
	}
	s.deviceCache.Add(deviceID, device.Clone())
	return device, nil
}

// DevicesByStatus returns every device_id currently indexed under status,
// via the secondary status index.
func (s *Store) DevicesByStatus(_ context.Context, status domain.DeviceStatus) ([][32]byte, error) {
	var ids [][32]byte
	prefix := append([]byte(status), '/')
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(deviceStatusIndexBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var id [32]byte
			copy(id[:], k[len(prefix):])
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to scan status index")
	}
	return ids, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// SaveCommitmentState persists the gateway's view of the current
// accumulator root (and the root it superseded, if any), root_hash, and
// version.
func (s *Store) SaveCommitmentState(_ context.Context, state *domain.CommitmentState) error {
	versionBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(versionBytes, state.Version)
	blockBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(blockBytes, state.LastUpdateBlock)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metadataBucket)
		if err := bkt.Put(metadataRootKey, state.Root.Bytes()); err != nil {
			return err
		}
		if err := bkt.Put(metadataRootHashKey, state.RootHash[:]); err != nil {
			return err
		}
		if err := bkt.Put(metadataVersionKey, versionBytes); err != nil {
			return err
		}
		if state.PreviousRoot != nil {
			if err := bkt.Put(metadataPreviousRootKey, state.PreviousRoot.Bytes()); err != nil {
				return err
			}
			if err := bkt.Put(metadataPreviousRootHashKey, state.PreviousRootHash[:]); err != nil {
				return err
			}
		} else {
			if err := bkt.Delete(metadataPreviousRootKey); err != nil {
				return err
			}
			if err := bkt.Delete(metadataPreviousRootHashKey); err != nil {
				return err
			}
		}
		return bkt.Put([]byte("last-update-block"), blockBytes)
	})
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "failed to save commitment state")
	}
	return nil
}

// CommitmentState reads back the persisted accumulator state. Returns
// gwerrors.NotFound if the gateway has never been initialized.
func (s *Store) CommitmentState(_ context.Context) (*domain.CommitmentState, error) {
	var state *domain.CommitmentState
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metadataBucket)
		rootBytes := bkt.Get(metadataRootKey)
		if rootBytes == nil {
			return nil
		}
		versionBytes := bkt.Get(metadataVersionKey)
		blockBytes := bkt.Get([]byte("last-update-block"))
		state = &domain.CommitmentState{
			Root:            newBigIntFromBytes(rootBytes),
			Version:         binary.BigEndian.Uint64(versionBytes),
			LastUpdateBlock: binary.BigEndian.Uint64(blockBytes),
		}
		copy(state.RootHash[:], bkt.Get(metadataRootHashKey))
		if previousRootBytes := bkt.Get(metadataPreviousRootKey); previousRootBytes != nil {
			state.PreviousRoot = newBigIntFromBytes(previousRootBytes)
			copy(state.PreviousRootHash[:], bkt.Get(metadataPreviousRootHashKey))
		}
		return nil
	})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to read commitment state")
	}
	if state == nil {
		return nil, gwerrors.New(gwerrors.NotFound, "gateway has not been initialized")
	}
	return state, nil
}

// SaveParameters persists the RSA accumulator's public parameters
// ({N_hex, g_hex, λ_hex}). λ is the trapdoor and is only ever written by
// the process holding the admin signing key; readers of this store should
// treat its presence as a capability, not a public fact.
func (s *Store) SaveParameters(_ context.Context, n, g, lambda []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metadataBucket)
		if err := bkt.Put(metadataNKey, n); err != nil {
			return err
		}
		if err := bkt.Put(metadataGKey, g); err != nil {
			return err
		}
		return bkt.Put(metadataLambdaKey, lambda)
	})
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "failed to save parameters")
	}
	return nil
}

// Parameters reads back the persisted accumulator parameters.
func (s *Store) Parameters(_ context.Context) (n, g, lambda []byte, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metadataBucket)
		n = cloneBytes(bkt.Get(metadataNKey))
		g = cloneBytes(bkt.Get(metadataGKey))
		lambda = cloneBytes(bkt.Get(metadataLambdaKey))
		return nil
	})
	if err != nil {
		return nil, nil, nil, gwerrors.Wrap(gwerrors.Internal, err, "failed to read parameters")
	}
	if n == nil {
		return nil, nil, nil, gwerrors.New(gwerrors.NotFound, "accumulator parameters not initialized")
	}
	return n, g, lambda, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return deepcopy.Copy(b).([]byte)
}

package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

// deploymentKeyPrefix + network + "/" + normalized address
const deploymentKeyPrefix = "deploy:"

// DeploymentStore persists located deployment blocks. A deployment block
// never changes, so entries are written once and never expire.
type DeploymentStore struct {
	db *pebble.DB
}

// OpenDeploymentStore opens the store at path; an empty path keeps it in memory.
func OpenDeploymentStore(path string) (*DeploymentStore, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployment store: %w", err)
	}
	return &DeploymentStore{db: db}, nil
}

func deploymentKey(network, address string) []byte {
	return []byte(deploymentKeyPrefix + network + "/" + address)
}

// Get returns the stored deployment block of address on network.
func (s *DeploymentStore) Get(network, address string) (uint64, bool, error) {
	value, closer, err := s.db.Get(deploymentKey(network, address))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("deployment store get: %w", err)
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, false, fmt.Errorf("deployment store: corrupt value for %s/%s", network, address)
	}
	return binary.BigEndian.Uint64(value), true, nil
}

func (s *DeploymentStore) Put(network, address string, block uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], block)
	if err := s.db.Set(deploymentKey(network, address), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("deployment store put: %w", err)
	}
	return nil
}

func (s *DeploymentStore) Close() error {
	return s.db.Close()
}

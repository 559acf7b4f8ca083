package boltdb

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// PlaybookStore implements the PlaybookRepository interface using BoltDB.
type PlaybookStore struct {
	boltDB *bolt.DB
}

// NewPlaybookStore creates a new PlaybookStore instance.
func NewPlaybookStore(boltDB *DB) *PlaybookStore {
	return &PlaybookStore{boltDB: boltDB.Bolt()}
}

func (s *PlaybookStore) Save(_ context.Context, p *entity.Playbook) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlaybookStore)
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal playbook: %w", err)
		}
		return b.Put([]byte(p.Name), data)
	})
}

func (s *PlaybookStore) Get(_ context.Context, name string) (*entity.Playbook, error) {
	var p entity.Playbook
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlaybookStore)
		data := b.Get([]byte(name))
		if data == nil {
			return errno.ErrPlaybookNotFound
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PlaybookStore) Delete(_ context.Context, name string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlaybookStore)
		return b.Delete([]byte(name))
	})
}

func (s *PlaybookStore) List(_ context.Context) ([]*entity.Playbook, error) {
	var playbooks []*entity.Playbook
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlaybookStore)
		return b.ForEach(func(k, v []byte) error {
			var p entity.Playbook
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal playbook: %w", err)
			}
			playbooks = append(playbooks, &p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list playbooks: %w", err)
	}
	return playbooks, nil
}

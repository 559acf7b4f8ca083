package boltdb

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// PersonaStore implements the PersonaRepository interface using BoltDB.
type PersonaStore struct {
	boltDB *bolt.DB
}

// NewPersonaStore creates a new PersonaStore instance.
func NewPersonaStore(boltDB *DB) *PersonaStore {
	return &PersonaStore{boltDB: boltDB.Bolt()}
}

func (s *PersonaStore) Create(_ context.Context, p *entity.Persona) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersonaStore)
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal persona: %w", err)
		}
		return b.Put([]byte(p.ID), data)
	})
}

func (s *PersonaStore) Get(_ context.Context, id string) (*entity.Persona, error) {
	var p entity.Persona
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersonaStore)
		data := b.Get([]byte(id))
		if data == nil {
			return errno.ErrPersonaNotFound
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PersonaStore) Update(_ context.Context, p *entity.Persona) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersonaStore)
		if b.Get([]byte(p.ID)) == nil {
			return errno.ErrPersonaNotFound
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal persona: %w", err)
		}
		return b.Put([]byte(p.ID), data)
	})
}

func (s *PersonaStore) Delete(_ context.Context, id string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersonaStore)
		return b.Delete([]byte(id))
	})
}

func (s *PersonaStore) List(_ context.Context) ([]*entity.Persona, error) {
	var personas []*entity.Persona
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersonaStore)
		return b.ForEach(func(k, v []byte) error {
			var p entity.Persona
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal persona: %w", err)
			}
			personas = append(personas, &p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	return personas, nil
}

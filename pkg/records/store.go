// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"

	"modelinstall/pkg/install"
)

const (
	autoShrinkSize = 1 << 20 // 1MiB
	collection     = "models##"
)

// Store is an install.RecordStore backed by a buntdb file.
type Store struct {
	db *buntdb.DB
}

var _ install.RecordStore = (*Store)(nil)

// Open opens (creating if necessary) the buntdb file at path.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    autoShrinkSize,
		AutoShrinkPercentage: 50,
	})
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func keyFor(key string) string { return collection + key }

func (s *Store) Add(ctx context.Context, cfg install.ModelConfig) (string, error) {
	if cfg.Key == "" {
		cfg.Key = uuid.NewString()
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyFor(cfg.Key), string(b), nil)
		return err
	})
	if err != nil {
		return "", err
	}
	return cfg.Key, nil
}

func (s *Store) Get(ctx context.Context, key string) (install.ModelConfig, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(keyFor(key))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return install.ModelConfig{}, fmt.Errorf("record %s: %w", key, install.ErrNotFound)
	}
	if err != nil {
		return install.ModelConfig{}, err
	}
	var cfg install.ModelConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return install.ModelConfig{}, err
	}
	return cfg, nil
}

func (s *Store) Update(ctx context.Context, key string, cfg install.ModelConfig) error {
	cfg.Key = key
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(keyFor(key)); err != nil {
			if err == buntdb.ErrNotFound {
				return fmt.Errorf("record %s: %w", key, install.ErrNotFound)
			}
			return err
		}
		_, _, err := tx.Set(keyFor(key), string(b), nil)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(keyFor(key))
		return err
	})
	if err == buntdb.ErrNotFound {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context) ([]install.ModelConfig, error) {
	var out []install.ModelConfig
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.AscendKeys(collection+"*", func(_, v string) bool {
			var cfg install.ModelConfig
			if err := json.Unmarshal([]byte(v), &cfg); err != nil {
				iterErr = err
				return false
			}
			out = append(out, cfg)
			return true
		})
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Rare-Specie/authkeeper/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// stores holds the durable and session-scoped backends plus whatever must
// be closed when the command ends.
type stores struct {
	durable storage.Backend
	session storage.Backend
	closers []func() error
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg StorageConfig, snapshotTTL time.Duration) (*stores, error) {
	switch cfg.Kind {
	case StorageMemory:
		return &stores{durable: storage.NewMemory(), session: storage.NewMemory()}, nil

	case StorageFile:
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		durable, err := storage.OpenFile(filepath.Join(cfg.Dir, "credentials.json"))
		if err != nil {
			return nil, err
		}
		session, err := storage.OpenFile(filepath.Join(cfg.Dir, "session.json"))
		if err != nil {
			return nil, err
		}
		return &stores{durable: durable, session: session}, nil

	case StorageSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		db, err := storage.OpenSQLite(ctx, filepath.Join(cfg.Dir, "authkeeper.db"))
		if err != nil {
			return nil, err
		}
		// The credential keys and the snapshot key never collide, so one
		// table serves both scopes.
		return &stores{durable: db, session: db, closers: []func() error{db.Close}}, nil

	case StorageRedis:
		s := &stores{}
		addr := cfg.RedisAddr
		if addr == MiniRedis {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, fmt.Errorf("start in-process redis: %w", err)
			}
			s.closers = append(s.closers, func() error { mr.Close(); return nil })
			addr = mr.Addr()
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: redis %s: %v", storage.ErrUnavailable, addr, err)
		}
		s.durable = storage.NewRedis(client, cfg.RedisPrefix, 0)
		s.session = storage.NewRedis(client, cfg.RedisPrefix+":session", snapshotTTL)
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
}

// Package mqttstore persists in-flight MQTT packets in SQLite so QoS 1
// publishes survive a process restart.
//
// Store implements the paho Store interface. Packets are scoped by client
// id, so several sessions can share one database file.
package mqttstore

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// opTimeout bounds each database operation. paho calls the store from its
// network goroutines and has no way to cancel.
const opTimeout = 5 * time.Second

// Store is a paho Store backed by a database.DB.
type Store struct {
	db       *database.DB
	clientID string
	logger   mqtt.Logger

	mu     sync.RWMutex
	opened bool
}

var _ pahomqtt.Store = (*Store)(nil)

// Migrations returns the schema the store needs.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err) // embedded path is fixed at compile time
	}
	return sub
}

// New migrates db and returns a Store for clientID.
func New(ctx context.Context, db *database.DB, clientID string, logger mqtt.Logger) (*Store, error) {
	if clientID == "" {
		return nil, fmt.Errorf("mqttstore: client id is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if err := db.Migrate(ctx, Migrations()); err != nil {
		return nil, fmt.Errorf("mqttstore: %w", err)
	}
	return &Store{db: db, clientID: clientID, logger: logger}, nil
}

// Open allows the store to be used. paho calls it on every connect.
func (s *Store) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
}

// Close disallows use until the next Open. The database stays open; its
// owner closes it.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
}

// Put stores packet under key, replacing any packet already there while
// keeping its position in the resume order.
func (s *Store) Put(key string, packet packets.ControlPacket) {
	if !s.isOpen("put", key) {
		return
	}

	var buf bytes.Buffer
	if err := packet.Write(&buf); err != nil {
		s.logger.Error("encoding packet for store", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inflight_packets (client_id, key, packet, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id, key) DO UPDATE SET packet = excluded.packet, stored_at = excluded.stored_at`,
		s.clientID, key, buf.Bytes(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Error("storing packet", "key", key, "error", err)
	}
}

// Get returns the packet stored under key, or nil if there is none or it
// cannot be decoded. Undecodable rows are deleted.
func (s *Store) Get(key string) packets.ControlPacket {
	if !s.isOpen("get", key) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT packet FROM inflight_packets WHERE client_id = ? AND key = ?",
		s.clientID, key,
	).Scan(&raw)
	if err != nil {
		if !isNoRows(err) {
			s.logger.Error("loading packet", "key", key, "error", err)
		}
		return nil
	}

	packet, err := packets.ReadPacket(bytes.NewReader(raw))
	if err != nil {
		s.logger.Warn("discarding corrupt stored packet", "key", key, "error", err)
		s.del(key)
		return nil
	}
	return packet
}

// All returns the stored keys in insertion order.
func (s *Store) All() []string {
	if !s.isOpen("all", "") {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM inflight_packets WHERE client_id = ? ORDER BY seq", s.clientID)
	if err != nil {
		s.logger.Error("listing stored packets", "error", err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.logger.Error("scanning stored packet key", "error", err)
			return keys
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("iterating stored packets", "error", err)
	}
	return keys
}

// Del removes the packet stored under key.
func (s *Store) Del(key string) {
	if !s.isOpen("del", key) {
		return
	}
	s.del(key)
}

// Reset removes every packet stored for this client.
func (s *Store) Reset() {
	if !s.isOpen("reset", "") {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM inflight_packets WHERE client_id = ?", s.clientID); err != nil {
		s.logger.Error("resetting packet store", "error", err)
	}
}

func (s *Store) del(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM inflight_packets WHERE client_id = ? AND key = ?", s.clientID, key,
	); err != nil {
		s.logger.Error("deleting stored packet", "key", key, "error", err)
	}
}

func (s *Store) isOpen(op, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.opened {
		s.logger.Warn("packet store used while closed", "op", op, "key", key, "error", ErrNotOpen)
	}
	return s.opened
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

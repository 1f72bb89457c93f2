package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/netaddr"
)

// ServerRecord is a server that has pinged the matchmaker, keyed by its
// IP-only address.
type ServerRecord struct {
	Addr      string          `json:"addr"`
	Updated   time.Time       `json:"updated"`
	Addresses []AddressRecord `json:"addresses"`
}

// AddressRecord is one internal address a server announced.
type AddressRecord struct {
	Addr    string    `json:"addr"`
	Updated time.Time `json:"updated"`
}

// AddressStore keeps the servers and their announced internal addresses.
type AddressStore struct {
	db  *Database
	now func() time.Time
}

// NewAddressStore opens the database at dbPath and applies the schema.
func NewAddressStore(dbPath string) (*AddressStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &AddressStore{db: database, now: time.Now}
	if err := store.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate address database: %w", err)
	}
	return store, nil
}

// SetClock replaces the time source used for record timestamps.
func (s *AddressStore) SetClock(now func() time.Time) {
	s.now = now
}

// Database exposes the underlying connection.
func (s *AddressStore) Database() *Database {
	return s.db
}

// Close closes the underlying database.
func (s *AddressStore) Close() error {
	return s.db.Close()
}

func (s *AddressStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			addr TEXT PRIMARY KEY NOT NULL,
			updated INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS addresses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			addr TEXT NOT NULL,
			server_addr TEXT NOT NULL REFERENCES servers(addr) ON DELETE CASCADE,
			updated INTEGER NOT NULL,
			UNIQUE(addr, server_addr)
		);

		CREATE INDEX IF NOT EXISTS idx_addresses_server ON addresses(server_addr);
		CREATE INDEX IF NOT EXISTS idx_servers_updated ON servers(updated);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertServerAndAddresses records server as seen now and adds or refreshes
// each of addrs under it. Existing addresses not in addrs are left alone.
func (s *AddressStore) UpsertServerAndAddresses(server netaddr.Address, addrs []netaddr.Address) error {
	key := server.IPString()
	now := s.now().Unix()

	err := s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO servers (addr, updated) VALUES (?, ?)
			 ON CONFLICT(addr) DO UPDATE SET updated = excluded.updated`,
			key, now,
		); err != nil {
			return err
		}

		for _, addr := range addrs {
			if _, err := tx.Exec(
				`INSERT INTO addresses (addr, server_addr, updated) VALUES (?, ?, ?)
				 ON CONFLICT(addr, server_addr) DO UPDATE SET updated = excluded.updated`,
				addr.String(), key, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert server %s: %w", key, err)
	}
	return nil
}

// ClearAddresses removes every address stored under server. The server
// row itself is kept.
func (s *AddressStore) ClearAddresses(server netaddr.Address) error {
	if _, err := s.db.Exec("DELETE FROM addresses WHERE server_addr = ?", server.IPString()); err != nil {
		return fmt.Errorf("failed to clear addresses of %s: %w", server.IPString(), err)
	}
	return nil
}

// GetAddresses returns the addresses stored under server in insertion
// order. An unknown server yields an empty slice.
func (s *AddressStore) GetAddresses(server netaddr.Address) ([]netaddr.Address, error) {
	records, err := s.addressRecords(server.IPString())
	if err != nil {
		return nil, err
	}

	out := make([]netaddr.Address, 0, len(records))
	for _, rec := range records {
		addr, err := netaddr.Parse(rec.Addr)
		if err != nil {
			log.Warn().Err(err).Str("addr", rec.Addr).Msg("skipping unparseable stored address")
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

// HasServer reports whether server has pinged and not yet expired.
func (s *AddressStore) HasServer(server netaddr.Address) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM servers WHERE addr = ? LIMIT 1", server.IPString()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up server %s: %w", server.IPString(), err)
	}
	return true, nil
}

// CheckToken accepts every token. Matchmaker tokens are not issued by this
// service, so there is nothing to check them against yet.
func (s *AddressStore) CheckToken(client netaddr.Address, token string) (bool, error) {
	return true, nil
}

// ListServers returns every tracked server with its addresses, most
// recently seen first.
func (s *AddressStore) ListServers() ([]ServerRecord, error) {
	rows, err := s.db.Query("SELECT addr, updated FROM servers ORDER BY updated DESC, addr")
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	var servers []ServerRecord
	for rows.Next() {
		var rec ServerRecord
		var updated int64
		if err := rows.Scan(&rec.Addr, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Updated = time.Unix(updated, 0)
		servers = append(servers, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range servers {
		addrs, err := s.addressRecords(servers[i].Addr)
		if err != nil {
			return nil, err
		}
		servers[i].Addresses = addrs
	}
	return servers, nil
}

// GetServer returns the record stored under the IP-only key, or nil.
func (s *AddressStore) GetServer(key string) (*ServerRecord, error) {
	rec := &ServerRecord{Addr: key}
	var updated int64
	err := s.db.QueryRow("SELECT updated FROM servers WHERE addr = ?", key).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up server %s: %w", key, err)
	}
	rec.Updated = time.Unix(updated, 0)

	if rec.Addresses, err = s.addressRecords(key); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteServer removes a server and its addresses. It reports whether a
// server was removed.
func (s *AddressStore) DeleteServer(key string) (bool, error) {
	var removed int64
	err := s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM addresses WHERE server_addr = ?", key); err != nil {
			return err
		}
		res, err := tx.Exec("DELETE FROM servers WHERE addr = ?", key)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete server %s: %w", key, err)
	}
	return removed > 0, nil
}

// ExpireBefore drops addresses and servers last seen before cutoff and
// returns the number of servers removed.
func (s *AddressStore) ExpireBefore(cutoff time.Time) (int, error) {
	limit := cutoff.Unix()
	var removed int64

	err := s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM addresses WHERE updated < ?", limit); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"DELETE FROM addresses WHERE server_addr IN (SELECT addr FROM servers WHERE updated < ?)",
			limit,
		); err != nil {
			return err
		}
		res, err := tx.Exec("DELETE FROM servers WHERE updated < ?", limit)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire records: %w", err)
	}
	return int(removed), nil
}

// CountServers returns the number of tracked servers.
func (s *AddressStore) CountServers() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM servers").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}
	return n, nil
}

func (s *AddressStore) addressRecords(key string) ([]AddressRecord, error) {
	rows, err := s.db.Query("SELECT addr, updated FROM addresses WHERE server_addr = ? ORDER BY id", key)
	if err != nil {
		return nil, fmt.Errorf("failed to read addresses of %s: %w", key, err)
	}
	defer rows.Close()

	records := []AddressRecord{}
	for rows.Next() {
		var rec AddressRecord
		var updated int64
		if err := rows.Scan(&rec.Addr, &updated); err != nil {
			return nil, err
		}
		rec.Updated = time.Unix(updated, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

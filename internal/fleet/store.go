package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StoredDevice is the persistable identity of a device: enough to seed
// the registry after a restart so labels and capabilities survive the
// gap until the device is rediscovered. Observed light state is
// deliberately not persisted; it is stale the moment the process
// stops.
type StoredDevice struct {
	Serial        string
	Address       string
	Label         string
	Group         string
	Location      string
	Vendor        uint32
	Product       uint32
	FirmwareMajor uint16
	FirmwareMinor uint16
	FirstSeen     time.Time
	LastSeen      time.Time
}

// Store persists device identity between runs.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Store interface {
	// SaveDevice inserts or updates a device by serial.
	SaveDevice(ctx context.Context, d StoredDevice) error

	// DeleteDevice removes a device by serial. Unknown serials are not
	// an error.
	DeleteDevice(ctx context.Context, serial string) error

	// ListDevices retrieves every persisted device.
	ListDevices(ctx context.Context) ([]StoredDevice, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// The db parameter should be an open SQLite connection with the
// devices migration applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SaveDevice inserts a device or updates it in place. The first-seen
// timestamp is kept from the original insert.
func (s *SQLiteStore) SaveDevice(ctx context.Context, d StoredDevice) error {
	query := `
		INSERT INTO devices (serial, address, label, group_label, location_label,
			vendor, product, firmware_major, firmware_minor, first_seen, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			address = excluded.address,
			label = excluded.label,
			group_label = excluded.group_label,
			location_label = excluded.location_label,
			vendor = excluded.vendor,
			product = excluded.product,
			firmware_major = excluded.firmware_major,
			firmware_minor = excluded.firmware_minor,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`

	now := time.Now().UTC()
	firstSeen := d.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}

	_, err := s.db.ExecContext(ctx, query,
		d.Serial, d.Address, d.Label, d.Group, d.Location,
		d.Vendor, d.Product, d.FirmwareMajor, d.FirmwareMinor,
		firstSeen.UTC(), nullableTime(d.LastSeen), now)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", d.Serial, err)
	}
	return nil
}

// DeleteDevice removes a device by serial.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, serial string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE serial = ?", serial); err != nil {
		return fmt.Errorf("deleting device %s: %w", serial, err)
	}
	return nil
}

// ListDevices retrieves every persisted device.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]StoredDevice, error) {
	query := `
		SELECT serial, address, label, group_label, location_label,
			vendor, product, firmware_major, firmware_minor, first_seen, last_seen
		FROM devices
		ORDER BY serial`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []StoredDevice
	for rows.Next() {
		var d StoredDevice
		var lastSeen sql.NullTime
		if err := rows.Scan(&d.Serial, &d.Address, &d.Label, &d.Group, &d.Location,
			&d.Vendor, &d.Product, &d.FirmwareMajor, &d.FirmwareMinor,
			&d.FirstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		if lastSeen.Valid {
			d.LastSeen = lastSeen.Time
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// nullableTime maps the zero time to NULL so "never" is representable.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	impacts "blitz-proxy/internal/impacts/domain"
)

const defaultImpactsTable = "impacts"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// EventStore reads impacts from Postgres using the earthdistance extension.
type EventStore struct {
	db       *sql.DB
	table    string
	encoding impacts.Encoding
	queries  dialect
}

// NewEventStore constructs a store bound to one storage encoding.
func NewEventStore(db *sql.DB, encoding impacts.Encoding, opts ...StoreOption) (*EventStore, error) {
	if db == nil {
		return nil, errors.New("impacts store: nil db")
	}
	if !encoding.IsValid() {
		return nil, fmt.Errorf("impacts store: %w: %q", impacts.ErrInvalidEncoding, encoding)
	}
	store := &EventStore{db: db, table: defaultImpactsTable, encoding: encoding}
	for _, opt := range opts {
		opt(store)
	}
	if !tableNamePattern.MatchString(store.table) {
		return nil, fmt.Errorf("impacts store: invalid table name %q", store.table)
	}
	store.queries = newDialect(encoding, store.table)
	return store, nil
}

// StoreOption configures the event store.
type StoreOption func(*EventStore)

// WithTable overrides the default impacts table name.
func WithTable(table string) StoreOption {
	return func(store *EventStore) {
		if store != nil && table != "" {
			store.table = table
		}
	}
}

// DB exposes the pool for connection statistics.
func (s *EventStore) DB() *sql.DB {
	return s.db
}

// Encoding returns the storage encoding the store decodes.
func (s *EventStore) Encoding() impacts.Encoding {
	return s.encoding
}

// Find returns the impacts matching filter, ascending by time.
func (s *EventStore) Find(ctx context.Context, filter impacts.Filter) ([]impacts.Impact, error) {
	if s == nil || s.db == nil {
		return nil, impacts.NewStorageError("find impacts", errors.New("nil db"))
	}
	if filter.Encoding != s.encoding {
		return nil, fmt.Errorf("impacts store: filter encoding %q on %q store", filter.Encoding, s.encoding)
	}

	rows, err := s.db.QueryContext(ctx, s.queries.find, filter.SinceNanos, filter.Lat, filter.Lon, filter.RadiusMeters)
	if err != nil {
		return nil, impacts.NewStorageError("find impacts", err)
	}
	defer rows.Close()

	result := make([]impacts.Impact, 0)
	for rows.Next() {
		impact, err := s.scanFound(rows)
		if err != nil {
			return nil, impacts.NewStorageError("scan impact", err)
		}
		result = append(result, impact)
	}
	if err := rows.Err(); err != nil {
		return nil, impacts.NewStorageError("find impacts", err)
	}
	return result, nil
}

func (s *EventStore) scanFound(rows *sql.Rows) (impacts.Impact, error) {
	var ts int64
	if s.encoding == impacts.EncodingCurrent {
		var lat, lon int64
		if err := rows.Scan(&ts, &lat, &lon); err != nil {
			return impacts.Impact{}, err
		}
		return impacts.Impact{
			Time: ts,
			Lat:  impacts.DecodeFixedPoint(lat),
			Lon:  impacts.DecodeFixedPoint(lon),
		}, nil
	}

	var (
		lat, lon float64
		distance int64
	)
	if err := rows.Scan(&ts, &lat, &lon, &distance); err != nil {
		return impacts.Impact{}, err
	}
	return impacts.Impact{
		Time:     ts,
		Lat:      lat,
		Lon:      lon,
		Distance: &distance,
	}, nil
}

// LatestTimestamp returns the newest impact time in seconds, or 0 on an empty table.
func (s *EventStore) LatestTimestamp(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, impacts.NewStorageError("latest impact", errors.New("nil db"))
	}
	var ts int64
	err := s.db.QueryRowContext(ctx, s.queries.latest).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, impacts.NewStorageError("latest impact", err)
	}
	return impacts.TimeFromNanos(ts), nil
}

// CorpusStats returns the row count and the first and last impacts.
func (s *EventStore) CorpusStats(ctx context.Context) (impacts.CorpusStats, error) {
	if s == nil || s.db == nil {
		return impacts.CorpusStats{}, impacts.NewStorageError("corpus stats", errors.New("nil db"))
	}

	var (
		count              int64
		firstTS, lastTS    sql.NullInt64
		firstLat, firstLon sql.NullFloat64
		lastLat, lastLon   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.queries.stats).Scan(
		&count,
		&firstTS, &firstLat, &firstLon,
		&lastTS, &lastLat, &lastLon,
	)
	if err != nil {
		return impacts.CorpusStats{}, impacts.NewStorageError("corpus stats", err)
	}

	return impacts.CorpusStats{
		Count: count,
		First: statImpact(firstTS, firstLat, firstLon),
		Last:  statImpact(lastTS, lastLat, lastLon),
	}, nil
}

func statImpact(ts sql.NullInt64, lat, lon sql.NullFloat64) *impacts.Impact {
	if !ts.Valid {
		return nil
	}
	return &impacts.Impact{
		Time: impacts.TimeFromNanos(ts.Int64),
		Lat:  lat.Float64,
		Lon:  lon.Float64,
	}
}

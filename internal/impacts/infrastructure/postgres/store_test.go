package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	impacts "blitz-proxy/internal/impacts/domain"
)

func newMockStore(t *testing.T, encoding impacts.Encoding, opts ...StoreOption) (*EventStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewEventStore(db, encoding, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, mock
}

func int64Ptr(v int64) *int64 { return &v }

func TestEventStoreFindLegacy(t *testing.T) {
	store, mock := newMockStore(t, impacts.EncodingLegacy)

	filter := impacts.Filter{
		Encoding:     impacts.EncodingLegacy,
		SinceNanos:   1694801111000000000,
		Lat:          45.80878,
		Lon:          4.872633,
		RadiusMeters: 50000,
	}
	rows := sqlmock.NewRows([]string{"time", "lat", "lon", "distance"}).
		AddRow(int64(1694801112), 45.81, 4.87, int64(1540)).
		AddRow(int64(1694801113), 45.9, 4.9, int64(10321))

	mock.ExpectQuery(`SELECT DISTINCT\s+time / 1000000000 AS ts,\s+location\[0\] AS lat`).
		WithArgs(filter.SinceNanos, filter.Lat, filter.Lon, filter.RadiusMeters).
		WillReturnRows(rows)

	got, err := store.Find(context.Background(), filter)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want := []impacts.Impact{
		{Time: 1694801112, Lat: 45.81, Lon: 4.87, Distance: int64Ptr(1540)},
		{Time: 1694801113, Lat: 45.9, Lon: 4.9, Distance: int64Ptr(10321)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("impacts mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEventStoreFindCurrent(t *testing.T) {
	store, mock := newMockStore(t, impacts.EncodingCurrent, WithTable("strikes"))

	filter := impacts.Filter{
		Encoding:     impacts.EncodingCurrent,
		SinceNanos:   10 * impacts.NanosPerSecond,
		Lat:          45.8,
		Lon:          4.8,
		RadiusMeters: 1000,
	}
	rows := sqlmock.NewRows([]string{"time", "lat", "lon"}).
		AddRow(int64(11), int64(458000001), int64(48000002))

	mock.ExpectQuery(`SELECT DISTINCT time / 1000000000 AS ts, lat, lon\s+FROM strikes\s+WHERE time > \$1`).
		WithArgs(filter.SinceNanos, filter.Lat, filter.Lon, filter.RadiusMeters).
		WillReturnRows(rows)

	got, err := store.Find(context.Background(), filter)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want := []impacts.Impact{{Time: 11, Lat: 45.8000001, Lon: 4.8000002}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("impacts mismatch (-want +got):\n%s", diff)
	}
}

func TestFindQueriesDeduplicateOnWholeSeconds(t *testing.T) {
	for _, encoding := range []impacts.Encoding{impacts.EncodingLegacy, impacts.EncodingCurrent} {
		t.Run(string(encoding), func(t *testing.T) {
			find := newDialect(encoding, "impacts").find
			distinct := regexp.MustCompile(`SELECT DISTINCT\s+time / 1000000000 AS ts,`)
			if !distinct.MatchString(find) {
				t.Fatalf("find query does not select whole seconds:\n%s", find)
			}
			if !strings.Contains(find, "ORDER BY ts ASC, lat ASC, lon ASC") {
				t.Fatalf("find query does not order on whole seconds:\n%s", find)
			}
			if !strings.Contains(find, "WHERE time > $1") {
				t.Fatalf("since bound must stay on raw nanoseconds:\n%s", find)
			}
		})
	}
}

func TestEventStoreFindStorageError(t *testing.T) {
	store, mock := newMockStore(t, impacts.EncodingLegacy)
	cause := errors.New("connection reset by peer")
	mock.ExpectQuery("earth_box").WillReturnError(cause)

	_, err := store.Find(context.Background(), impacts.Filter{Encoding: impacts.EncodingLegacy})
	var serr *impacts.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestEventStoreFindEncodingMismatch(t *testing.T) {
	store, _ := newMockStore(t, impacts.EncodingLegacy)
	if _, err := store.Find(context.Background(), impacts.Filter{Encoding: impacts.EncodingCurrent}); err == nil {
		t.Fatalf("expected error for mismatched encoding")
	}
}

func TestEventStoreLatestTimestamp(t *testing.T) {
	store, mock := newMockStore(t, impacts.EncodingLegacy)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT time FROM impacts ORDER BY time DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"time"}).AddRow(int64(1694801999123456789)))
	latest, err := store.LatestTimestamp(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 1694801999 {
		t.Fatalf("latest=%d", latest)
	}

	mock.ExpectQuery("ORDER BY time DESC").WillReturnRows(sqlmock.NewRows([]string{"time"}))
	latest, err = store.LatestTimestamp(context.Background())
	if err != nil || latest != 0 {
		t.Fatalf("empty table: latest=%d err=%v", latest, err)
	}
}

func TestEventStoreCorpusStats(t *testing.T) {
	store, mock := newMockStore(t, impacts.EncodingCurrent)

	mock.ExpectQuery(regexp.QuoteMeta("(lat::float8 / 10000000)")).
		WillReturnRows(sqlmock.NewRows([]string{"nb", "time", "lat", "lon", "time", "lat", "lon"}).
			AddRow(int64(3), int64(5*impacts.NanosPerSecond), 45.1, 4.1, int64(9*impacts.NanosPerSecond), 46.2, 5.2))

	stats, err := store.CorpusStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := impacts.CorpusStats{
		Count: 3,
		First: &impacts.Impact{Time: 5, Lat: 45.1, Lon: 4.1},
		Last:  &impacts.Impact{Time: 9, Lat: 46.2, Lon: 5.2},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestEventStoreCorpusStatsEmpty(t *testing.T) {
	store, mock := newMockStore(t, impacts.EncodingLegacy)

	mock.ExpectQuery("LEFT JOIN LATERAL").
		WillReturnRows(sqlmock.NewRows([]string{"nb", "time", "lat", "lon", "time", "lat", "lon"}).
			AddRow(int64(0), nil, nil, nil, nil, nil, nil))

	stats, err := store.CorpusStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 0 || stats.First != nil || stats.Last != nil {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNewEventStoreRejectsBadInput(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewEventStore(nil, impacts.EncodingLegacy); err == nil {
		t.Fatalf("expected error for nil db")
	}
	if _, err := NewEventStore(db, impacts.Encoding("wkt")); !errors.Is(err, impacts.ErrInvalidEncoding) {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
	if _, err := NewEventStore(db, impacts.EncodingLegacy, WithTable("impacts; DROP TABLE impacts")); err == nil {
		t.Fatalf("expected error for injected table name")
	}
	if _, err := NewEventStore(db, impacts.EncodingLegacy, WithTable("blitz.impacts")); err != nil {
		t.Fatalf("schema qualified table rejected: %v", err)
	}
}

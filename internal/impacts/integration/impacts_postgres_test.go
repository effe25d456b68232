package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"blitz-proxy/internal/impacts/application"
	impacts "blitz-proxy/internal/impacts/domain"
	impactsrepo "blitz-proxy/internal/impacts/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const sec = impacts.NanosPerSecond

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// temp tables live on a single session
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if !extensionAvailable(db, "earthdistance") {
		t.Skip("earthdistance extension not installed")
	}
	return db
}

func TestLegacyEncodingQuery(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `CREATE TEMP TABLE impacts_it_legacy (time BIGINT NOT NULL, location point NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO impacts_it_legacy (time, location) VALUES
	($1, point(45.80878, 4.872633)),
	($2, point(45.81, 4.87)),
	($2, point(45.81, 4.87)),
	($3, point(45.81, 4.87)),
	($4, point(45.6, 4.5)),
	($5, point(48.85, 2.35))`,
		1694801111*sec, 1694801112*sec, 1694801112*sec+400_000_000, 1694801150*sec, 1694801200*sec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	store, err := impactsrepo.NewEventStore(db, impacts.EncodingLegacy, impactsrepo.WithTable("impacts_it_legacy"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	service, err := application.NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := service.Query(ctx, application.Request{
		Since:       impacts.SinceSeconds(1694801111),
		MaxRadiusKm: impacts.MaxLegacyPointRadiusKm,
		Equipment: []impacts.EquipmentQuery{
			{ID: 41, Geometry: impacts.Circle{Lat: 45.80878, Lon: 4.872633, RadiusKm: 50}},
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := result.Equipment[0].Impacts
	if len(got) != 2 {
		t.Fatalf("expected 2 impacts after dedup, got %+v", got)
	}
	if got[0].Time != 1694801112 || got[1].Time != 1694801150 {
		t.Fatalf("unexpected order %+v", got)
	}
	for _, impact := range got {
		if impact.Distance == nil || *impact.Distance > 50000 {
			t.Fatalf("distance missing or out of radius: %+v", impact)
		}
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 6 || stats.First.Time != 1694801111 || stats.Last.Time != 1694801200 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCurrentEncodingQuery(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `CREATE TEMP TABLE impacts_it_current (time BIGINT NOT NULL, lat INTEGER NOT NULL, lon INTEGER NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO impacts_it_current (time, lat, lon) VALUES
	($1, 458087800, 48726330),
	($2, 458100000, 48700000),
	($3, 488500000, 23500000)`,
		1694801111*sec, 1694801112*sec, 1694801200*sec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	store, err := impactsrepo.NewEventStore(db, impacts.EncodingCurrent, impactsrepo.WithTable("impacts_it_current"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	service, err := application.NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := service.Query(ctx, application.Request{
		Since:       impacts.SinceSeconds(1694801000),
		MaxRadiusKm: impacts.MaxCurrentPointRadiusKm,
		WithLatest:  true,
		Equipment: []impacts.EquipmentQuery{
			{ID: 1, Geometry: impacts.Circle{Lat: 45.80878, Lon: 4.872633, RadiusKm: 10}},
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Latest == nil || *result.Latest != 1694801200 {
		t.Fatalf("unexpected latest %v", result.Latest)
	}
	got := result.Equipment[0].Impacts
	if len(got) != 2 || got[0].Lat != 45.80878 || got[0].Distance != nil {
		t.Fatalf("unexpected impacts %+v", got)
	}
}

func extensionAvailable(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM pg_extension
	WHERE extname = $1
)`, name).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}

package application

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	impacts "blitz-proxy/internal/impacts/domain"
	"blitz-proxy/internal/impacts/infrastructure/memory"
)

const sec = impacts.NanosPerSecond

type stubStore struct {
	encoding    impacts.Encoding
	findErr     error
	latest      int64
	findCalls   int
	latestCalls int
	filters     []impacts.Filter
}

func (s *stubStore) Encoding() impacts.Encoding { return s.encoding }

func (s *stubStore) Find(_ context.Context, filter impacts.Filter) ([]impacts.Impact, error) {
	s.findCalls++
	s.filters = append(s.filters, filter)
	if s.findErr != nil {
		return nil, s.findErr
	}
	return []impacts.Impact{}, nil
}

func (s *stubStore) LatestTimestamp(context.Context) (int64, error) {
	s.latestCalls++
	return s.latest, nil
}

func (s *stubStore) CorpusStats(context.Context) (impacts.CorpusStats, error) {
	return impacts.CorpusStats{}, nil
}

func newMemoryService(t *testing.T, records ...memory.Record) *Service {
	t.Helper()
	store, err := memory.NewEventStore(impacts.EncodingLegacy)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if err := store.Insert(records...); err != nil {
		t.Fatalf("insert: %v", err)
	}
	service, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestServiceQueryRoundTrip(t *testing.T) {
	service := newMemoryService(t,
		memory.Record{TimeNanos: 1694801111 * sec, Lat: 45.80878, Lon: 4.872633},
		memory.Record{TimeNanos: 1694801115 * sec, Lat: 45.9, Lon: 4.9},
		memory.Record{TimeNanos: 1694801112 * sec, Lat: 45.81, Lon: 4.87},
		memory.Record{TimeNanos: 1694801120 * sec, Lat: 48.85, Lon: 2.35},
	)

	req := Request{
		Since: impacts.SinceSeconds(1694801111),
		Equipment: []impacts.EquipmentQuery{
			{ID: 41, Geometry: impacts.Circle{Lat: 45.80878, Lon: 4.872633, RadiusKm: 50}},
			{ID: 7, Geometry: impacts.Box{North: 49, South: 48.7, East: 2.5, West: 2.2}},
		},
		MaxRadiusKm: impacts.MaxBoxRadiusKm,
		WithLatest:  true,
	}
	result, err := service.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if result.Latest == nil || *result.Latest != 1694801120 {
		t.Fatalf("unexpected latest %v", result.Latest)
	}
	if len(result.Equipment) != 2 || result.Equipment[0].ID != 41 || result.Equipment[1].ID != 7 {
		t.Fatalf("equipment order lost: %+v", result.Equipment)
	}
	first := result.Equipment[0].Impacts
	if len(first) != 2 || first[0].Time != 1694801112 || first[1].Time != 1694801115 {
		t.Fatalf("unexpected impacts for eq 41: %+v", first)
	}
	if len(result.Equipment[1].Impacts) != 1 || result.Equipment[1].Impacts[0].Time != 1694801120 {
		t.Fatalf("unexpected impacts for eq 7: %+v", result.Equipment[1].Impacts)
	}

	again, err := service.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("repeat query: %v", err)
	}
	if diff := cmp.Diff(result, again); diff != "" {
		t.Fatalf("repeated query differs (-first +second):\n%s", diff)
	}
}

func TestServiceQueryLegacyNanosecondSince(t *testing.T) {
	store := &stubStore{encoding: impacts.EncodingLegacy}
	service, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = service.Query(context.Background(), Request{
		Since:       impacts.SinceNanoseconds(1694801111000000000),
		Equipment:   []impacts.EquipmentQuery{{ID: 40, Geometry: impacts.Box{North: 46.255608, South: 45.344439, East: 5.511808, West: 4.239807}}},
		MaxRadiusKm: impacts.MaxBoxRadiusKm,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if store.latestCalls != 0 {
		t.Fatalf("latest fetched without being requested")
	}
	if len(store.filters) != 1 || store.filters[0].SinceNanos != 1694801111000000000 {
		t.Fatalf("unexpected filters %+v", store.filters)
	}
}

func TestServiceQueryValidatesBeforeStorage(t *testing.T) {
	store := &stubStore{encoding: impacts.EncodingCurrent}
	service, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = service.Query(context.Background(), Request{
		Since: impacts.SinceSeconds(1),
		Equipment: []impacts.EquipmentQuery{
			{ID: 1, Geometry: impacts.Circle{RadiusKm: 10}},
			{ID: 2, Geometry: impacts.Circle{RadiusKm: 1200}},
		},
		MaxRadiusKm: store.encoding.MaxPointRadiusKm(),
		WithLatest:  true,
	})
	if _, ok := impacts.AsValidation(err); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.findCalls != 0 || store.latestCalls != 0 {
		t.Fatalf("storage touched before validation: find=%d latest=%d", store.findCalls, store.latestCalls)
	}
}

func TestServiceQueryLatestFetchedOnce(t *testing.T) {
	store := &stubStore{encoding: impacts.EncodingLegacy, latest: 42}
	service, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	equipment := make([]impacts.EquipmentQuery, impacts.MaxEquipment)
	for i := range equipment {
		equipment[i] = impacts.EquipmentQuery{ID: int64(i), Geometry: impacts.Circle{RadiusKm: 10}}
	}
	result, err := service.Query(context.Background(), Request{
		Since:       impacts.SinceSeconds(1),
		Equipment:   equipment,
		MaxRadiusKm: 5000,
		WithLatest:  true,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if store.latestCalls != 1 || store.findCalls != impacts.MaxEquipment {
		t.Fatalf("latest=%d find=%d", store.latestCalls, store.findCalls)
	}
	if *result.Latest != 42 {
		t.Fatalf("latest=%d", *result.Latest)
	}
}

func TestServiceQueryStorageErrorFailsRequest(t *testing.T) {
	cause := impacts.NewStorageError("find impacts", errors.New("timeout"))
	store := &stubStore{encoding: impacts.EncodingLegacy, findErr: cause}
	service, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := service.Query(context.Background(), Request{
		Since: impacts.SinceSeconds(1),
		Equipment: []impacts.EquipmentQuery{
			{ID: 1, Geometry: impacts.Circle{RadiusKm: 10}},
			{ID: 2, Geometry: impacts.Circle{RadiusKm: 10}},
		},
		MaxRadiusKm: 5000,
	})
	if !impacts.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(result.Equipment) != 0 {
		t.Fatalf("partial result returned: %+v", result)
	}
	if store.findCalls != 1 {
		t.Fatalf("expected to stop after first failure, got %d calls", store.findCalls)
	}
}

func TestServiceStats(t *testing.T) {
	empty := newMemoryService(t)
	stats, err := empty.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 0 || stats.First != nil || stats.Last != nil {
		t.Fatalf("unexpected empty stats %+v", stats)
	}

	service := newMemoryService(t,
		memory.Record{TimeNanos: 5 * sec, Lat: 1, Lon: 2},
		memory.Record{TimeNanos: 8 * sec, Lat: 3, Lon: 4},
	)
	stats, err = service.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	zero := int64(0)
	want := impacts.CorpusStats{
		Count: 2,
		First: &impacts.Impact{Time: 5, Lat: 1, Lon: 2, Distance: &zero},
		Last:  &impacts.Impact{Time: 8, Lat: 3, Lon: 4, Distance: &zero},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

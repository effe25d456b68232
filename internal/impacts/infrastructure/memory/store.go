package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	impacts "blitz-proxy/internal/impacts/domain"
)

const (
	dimensions   = 2
	minChildren  = 25
	maxChildren  = 50
	pointTol     = 1e-9
	minRectWidth = 1e-9
)

// Record is an impact in its stored form.
type Record struct {
	TimeNanos int64   `yaml:"time"`
	Lat       float64 `yaml:"lat"`
	Lon       float64 `yaml:"lon"`
}

type item struct {
	record Record
	rect   *rtreego.Rect
}

func (i *item) Bounds() *rtreego.Rect { return i.rect }

// EventStore is an R-tree backed impact store for demo/testing.
type EventStore struct {
	mu       sync.RWMutex
	tree     *rtreego.Rtree
	encoding impacts.Encoding
	count    int64
	first    *Record
	last     *Record
}

// NewEventStore constructs an empty store.
func NewEventStore(encoding impacts.Encoding) (*EventStore, error) {
	if !encoding.IsValid() {
		return nil, fmt.Errorf("memory store: %w: %q", impacts.ErrInvalidEncoding, encoding)
	}
	return &EventStore{
		tree:     rtreego.NewTree(dimensions, minChildren, maxChildren),
		encoding: encoding,
	}, nil
}

// Encoding returns the simulated storage encoding.
func (s *EventStore) Encoding() impacts.Encoding {
	return s.encoding
}

// Insert indexes records. Coordinates are quantized on the current encoding.
func (s *EventStore) Insert(records ...Record) error {
	items := make([]*item, 0, len(records))
	for _, rec := range records {
		if rec.Lat < -90 || rec.Lat > 90 || rec.Lon < -180 || rec.Lon > 180 {
			return fmt.Errorf("memory store: coordinates out of range (%v, %v)", rec.Lat, rec.Lon)
		}
		if s.encoding == impacts.EncodingCurrent {
			rec.Lat = quantize(rec.Lat)
			rec.Lon = quantize(rec.Lon)
		}
		items = append(items, &item{
			record: rec,
			rect:   rtreego.Point{rec.Lat, rec.Lon}.ToRect(pointTol),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.tree.Insert(it)
		s.count++
		rec := it.record
		if s.first == nil || before(rec, *s.first) {
			s.first = &rec
		}
		if s.last == nil || before(*s.last, rec) {
			s.last = &rec
		}
	}
	return nil
}

// Find returns the impacts matching filter, ascending by time.
func (s *EventStore) Find(ctx context.Context, filter impacts.Filter) ([]impacts.Impact, error) {
	if err := ctx.Err(); err != nil {
		return nil, impacts.NewStorageError("find impacts", err)
	}
	if filter.Encoding != s.encoding {
		return nil, fmt.Errorf("memory store: filter encoding %q on %q store", filter.Encoding, s.encoding)
	}

	s.mu.RLock()
	candidates := make([]Record, 0)
	for _, box := range filter.Envelope() {
		rect, err := rtreego.NewRect(
			rtreego.Point{box.MinLat, box.MinLon},
			[]float64{math.Max(box.MaxLat-box.MinLat, minRectWidth), math.Max(box.MaxLon-box.MinLon, minRectWidth)},
		)
		if err != nil {
			s.mu.RUnlock()
			return nil, impacts.NewStorageError("find impacts", err)
		}
		for _, spatial := range s.tree.SearchIntersect(rect) {
			it, ok := spatial.(*item)
			if !ok {
				continue
			}
			candidates = append(candidates, it.record)
		}
	}
	s.mu.RUnlock()

	seen := make(map[Record]struct{}, len(candidates))
	matched := make([]Record, 0, len(candidates))
	for _, rec := range candidates {
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		if filter.Matches(rec.TimeNanos, rec.Lat, rec.Lon) {
			matched = append(matched, rec)
		}
	}

	// unique on the reported whole-second time
	reported := make(map[impactKey]struct{}, len(matched))
	result := make([]impacts.Impact, 0, len(matched))
	for _, rec := range matched {
		key := impactKey{time: impacts.TimeFromNanos(rec.TimeNanos), lat: rec.Lat, lon: rec.Lon}
		if _, dup := reported[key]; dup {
			continue
		}
		reported[key] = struct{}{}
		impact := impacts.Impact{Time: key.time, Lat: rec.Lat, Lon: rec.Lon}
		if s.encoding.HasDistance() {
			distance := filter.DistanceMeters(rec.Lat, rec.Lon)
			impact.Distance = &distance
		}
		result = append(result, impact)
	}
	sort.Slice(result, func(i, j int) bool { return impactBefore(result[i], result[j]) })
	return result, nil
}

// LatestTimestamp returns the newest impact time in seconds, or 0 when empty.
func (s *EventStore) LatestTimestamp(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, impacts.NewStorageError("latest impact", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return 0, nil
	}
	return impacts.TimeFromNanos(s.last.TimeNanos), nil
}

// CorpusStats returns the record count and the first and last impacts.
func (s *EventStore) CorpusStats(ctx context.Context) (impacts.CorpusStats, error) {
	if err := ctx.Err(); err != nil {
		return impacts.CorpusStats{}, impacts.NewStorageError("corpus stats", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return impacts.CorpusStats{
		Count: s.count,
		First: toImpact(s.first),
		Last:  toImpact(s.last),
	}, nil
}

// Size returns the number of indexed records.
func (s *EventStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

var errEmptySeed = errors.New("memory store: empty seed")

func toImpact(rec *Record) *impacts.Impact {
	if rec == nil {
		return nil
	}
	return &impacts.Impact{
		Time: impacts.TimeFromNanos(rec.TimeNanos),
		Lat:  rec.Lat,
		Lon:  rec.Lon,
	}
}

type impactKey struct {
	time     int64
	lat, lon float64
}

func impactBefore(a, b impacts.Impact) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if a.Lat != b.Lat {
		return a.Lat < b.Lat
	}
	return a.Lon < b.Lon
}

func before(a, b Record) bool {
	if a.TimeNanos != b.TimeNanos {
		return a.TimeNanos < b.TimeNanos
	}
	if a.Lat != b.Lat {
		return a.Lat < b.Lat
	}
	return a.Lon < b.Lon
}

func quantize(deg float64) float64 {
	return impacts.DecodeFixedPoint(impacts.EncodeFixedPoint(deg))
}

package application

import (
	"context"
	"errors"
	"io"
	"log"

	impacts "blitz-proxy/internal/impacts/domain"
)

// EventStore is the storage boundary of the assembler.
type EventStore interface {
	Encoding() impacts.Encoding
	Find(ctx context.Context, filter impacts.Filter) ([]impacts.Impact, error)
	LatestTimestamp(ctx context.Context) (int64, error)
	CorpusStats(ctx context.Context) (impacts.CorpusStats, error)
}

// Request is a validated query envelope.
type Request struct {
	Since       impacts.Since
	Equipment   []impacts.EquipmentQuery
	MaxRadiusKm float64
	// WithLatest asks for the newest stored impact time.
	WithLatest bool
}

// Service assembles per-equipment impact lists.
type Service struct {
	store EventStore
	debug *log.Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithDebugLogger enables per-query debug output.
func WithDebugLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.debug = logger
		}
	}
}

// NewService constructs a service over store.
func NewService(store EventStore, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("impacts: nil event store")
	}
	service := &Service{
		store: store,
		debug: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Encoding returns the storage encoding in use.
func (s *Service) Encoding() impacts.Encoding {
	return s.store.Encoding()
}

// Query runs one filter per equipment and keeps the input order.
// All entries are validated before storage is touched; any failure fails the request.
func (s *Service) Query(ctx context.Context, req Request) (impacts.Result, error) {
	if s == nil {
		return impacts.Result{}, errors.New("impacts: nil service")
	}
	areas, err := impacts.NormalizeAll(req.Equipment, req.MaxRadiusKm)
	if err != nil {
		return impacts.Result{}, err
	}

	var result impacts.Result
	if req.WithLatest {
		latest, err := s.store.LatestTimestamp(ctx)
		if err != nil {
			return impacts.Result{}, err
		}
		result.Latest = &latest
	}

	encoding := s.store.Encoding()
	result.Equipment = make([]impacts.EquipmentResult, 0, len(areas))
	for _, area := range areas {
		filter, err := impacts.BuildFilter(req.Since, area, encoding)
		if err != nil {
			return impacts.Result{}, err
		}
		s.debug.Printf("find eq=%d since=%d lat=%f lon=%f rad=%.0fm", area.EquipmentID, filter.SinceNanos, filter.Lat, filter.Lon, filter.RadiusMeters)

		found, err := s.store.Find(ctx, filter)
		if err != nil {
			return impacts.Result{}, err
		}
		s.debug.Printf("find eq=%d returned %d impacts", area.EquipmentID, len(found))
		result.Equipment = append(result.Equipment, impacts.EquipmentResult{
			ID:      area.EquipmentID,
			Impacts: found,
		})
	}
	return result, nil
}

// Stats returns the corpus summary with a zero distance on first and last.
func (s *Service) Stats(ctx context.Context) (impacts.CorpusStats, error) {
	if s == nil {
		return impacts.CorpusStats{}, errors.New("impacts: nil service")
	}
	stats, err := s.store.CorpusStats(ctx)
	if err != nil {
		return impacts.CorpusStats{}, err
	}
	stats.First = withZeroDistance(stats.First)
	stats.Last = withZeroDistance(stats.Last)
	return stats, nil
}

func withZeroDistance(impact *impacts.Impact) *impacts.Impact {
	if impact == nil {
		return nil
	}
	out := *impact
	var zero int64
	out.Distance = &zero
	return &out
}

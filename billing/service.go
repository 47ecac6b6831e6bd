package billing

import (
	"io"
	"log/slog"
)

// ProcessingAnchor selects which end of the period the processing date is
// checked against.
type ProcessingAnchor string

const (
	// AnchorPeriodEnd requires processing on or after the period end.
	AnchorPeriodEnd ProcessingAnchor = "end"
	// AnchorPeriodStart requires processing on or after the period start.
	AnchorPeriodStart ProcessingAnchor = "start"
)

// Service runs every engine operation against a store and a clock.
type Service struct {
	Store  TxStore
	Clock  Clock
	Marker RolloverMarker
	Logger *slog.Logger

	ProcessingAnchor ProcessingAnchor
	// StrictTermination requires a net receivable of exactly zero to
	// terminate; otherwise any net <= 0 is accepted.
	StrictTermination bool
	// ReactivationLeadDays is how far past today an escalation date must be
	// for a terminated client to be reactivated without correction.
	ReactivationLeadDays int
}

// NewService creates a service with default policy. When the store also
// implements RolloverMarker it is used as the marker.
func NewService(store TxStore, clock Clock) *Service {
	s := &Service{
		Store:            store,
		Clock:            clock,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		ProcessingAnchor: AnchorPeriodEnd,
	}
	if m, ok := store.(RolloverMarker); ok {
		s.Marker = m
	}
	return s
}

func (s *Service) today() Date { return s.Clock.Today() }

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

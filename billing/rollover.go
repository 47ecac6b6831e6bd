/*
rollover.go - Daily fee escalation

The rollover promotes each active client's scheduled rates to current on the
escalation effective date and books the next escalation one year out.

It runs at most once per calendar day. The RolloverMarker holds the last day
it completed; any later call on the same day is a no-op. Only clients whose
effective date is exactly today are promoted, so a day on which no trigger
fired is not caught up.

Triggers (both call RunRollover):
  - api.RolloverScheduler, an in-process ticker
  - jobs.RolloverHandler, an asynq cron task run by cmd/worker
*/
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrNoRolloverMarker = errors.New("no rollover marker configured")

// RolloverResult describes one RunRollover call.
type RolloverResult struct {
	Ran     bool       `json:"ran"`
	Date    Date       `json:"date"`
	RunID   string     `json:"run_id,omitempty"`
	Clients []ClientID `json:"clients"`
}

// RunRollover promotes escalations due today. Promotions and the marker are
// written in one store transaction when the marker lives in the same store.
func (s *Service) RunRollover(ctx context.Context) (*RolloverResult, error) {
	if s.Marker == nil {
		return nil, ErrNoRolloverMarker
	}
	today := s.today()
	res := &RolloverResult{Date: today, Clients: []ClientID{}}

	last, ok, err := s.Marker.LastRollover(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rollover marker: %w", err)
	}
	if ok && !last.Before(today) {
		s.log().Debug("rollover already ran", "date", today.String())
		return res, nil
	}

	res.Ran = true
	res.RunID = uuid.NewString()
	inStore := sameMarker(s.Marker, s.Store)
	log := s.log().With("run_id", res.RunID, "date", today.String())

	err = s.Store.WithTx(ctx, func(st Store) error {
		clients, err := st.ListClients(ctx, false)
		if err != nil {
			return err
		}
		for _, c := range clients {
			if !c.Fees.Escalation.EffectiveDate.Equal(today) {
				continue
			}
			promoted := c.Fees.Promote()
			if err := st.UpdateClientFees(ctx, c.ID, promoted); err != nil {
				return fmt.Errorf("promote fees for client %d: %w", c.ID, err)
			}
			log.Info("fees promoted", "client_id", c.ID,
				"base_fee", promoted.BaseFee.StringFixed(MoneyPlaces),
				"next_effective_date", promoted.Escalation.EffectiveDate.String())
			res.Clients = append(res.Clients, c.ID)
		}
		if m, ok := st.(RolloverMarker); ok && inStore {
			return m.SetLastRollover(ctx, today)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rollover %s: %w", today, err)
	}

	// A marker outside the store is written after the promotions commit.
	if !inStore {
		if err := s.Marker.SetLastRollover(ctx, today); err != nil {
			return nil, fmt.Errorf("write rollover marker: %w", err)
		}
	}

	log.Info("rollover complete", "promoted", len(res.Clients))
	return res, nil
}

// LastRollover reports the day the rollover last completed.
func (s *Service) LastRollover(ctx context.Context) (Date, bool, error) {
	if s.Marker == nil {
		return Date{}, false, ErrNoRolloverMarker
	}
	return s.Marker.LastRollover(ctx)
}

func sameMarker(m RolloverMarker, st TxStore) bool {
	sm, ok := st.(RolloverMarker)
	return ok && any(sm) == any(m)
}

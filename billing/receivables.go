package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCES
// =============================================================================

// ClientNetAmount is the sum of net amounts over a client's transactions.
func (s *Service) ClientNetAmount(ctx context.Context, id ClientID) (decimal.Decimal, error) {
	if _, err := s.Store.GetClient(ctx, id); err != nil {
		return decimal.Zero, err
	}
	t, err := s.Store.SumByClient(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum net for client %d: %w", id, err)
	}
	return RoundMoney(t.Net), nil
}

// PaymentAggregates returns cost, collected and net per active client,
// ordered by client id. Net is derived from the two sums.
func (s *Service) PaymentAggregates(ctx context.Context) ([]ClientTotals, error) {
	rows, err := s.Store.SumAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment aggregates: %w", err)
	}
	for i := range rows {
		rows[i].Totals = roundTotals(rows[i].Totals, true)
	}
	return rows, nil
}

// CollectionsOverview sums transactions processed in [from, to] per client,
// ordered by client name.
func (s *Service) CollectionsOverview(ctx context.Context, from, to Date) ([]ClientTotals, error) {
	var errs ValidationErrors
	if from.IsZero() {
		errs.Add("Start date is required.")
	}
	if to.IsZero() {
		errs.Add("End date is required.")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		errs.Add("End date must be on/after start date.")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	rows, err := s.Store.SumByProcessingRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("collections %s..%s: %w", from, to, err)
	}
	for i := range rows {
		rows[i].Totals = roundTotals(rows[i].Totals, false)
	}
	return rows, nil
}

func roundTotals(t Totals, deriveNet bool) Totals {
	out := Totals{Cost: RoundMoney(t.Cost), Collected: RoundMoney(t.Collected), Net: RoundMoney(t.Net)}
	if deriveNet {
		out.Net = NetOf(t.Cost, t.Collected)
	}
	return out
}

// =============================================================================
// COLLECTIONS - Two-phase batch edit
// =============================================================================

// CollectionEdit is one row of a collection batch. Date is operator text,
// empty for none.
type CollectionEdit struct {
	TransactionID TransactionID
	Collected     decimal.Decimal
	Description   string
	Date          string
}

type collectionWrite struct {
	id         TransactionID
	collection Collection
	net        decimal.Decimal
}

// UpdateCollectionFields validates the whole batch, then writes every row in
// one store transaction. A single bad row rejects the batch.
func (s *Service) UpdateCollectionFields(ctx context.Context, clientID ClientID, edits []CollectionEdit) ([]Transaction, error) {
	if _, err := s.Store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}

	var errs ValidationErrors
	writes := make([]collectionWrite, 0, len(edits))
	updated := make([]Transaction, 0, len(edits))
	for _, e := range edits {
		tx, err := s.Store.GetTransaction(ctx, e.TransactionID)
		if err != nil {
			if IsNotFound(err) {
				errs.Add("Transaction %d not found.", e.TransactionID)
				continue
			}
			return nil, err
		}
		if tx.ClientID != clientID {
			errs.Add("Transaction %d does not belong to this client.", e.TransactionID)
			continue
		}
		if e.Collected.IsNegative() {
			errs.Add("Collected amount for transaction %d must be >= 0.", e.TransactionID)
		}
		var date Date
		if raw := strings.TrimSpace(e.Date); raw != "" {
			date, err = ParseDate(raw)
			if err != nil {
				errs.Add("Collection date %q for transaction %d is not a valid date (use YYYY-MM-DD).", raw, e.TransactionID)
			}
		}

		c := Collection{
			Collected:   RoundMoney(e.Collected),
			Description: strings.TrimSpace(e.Description),
			Date:        date,
		}
		net := NetOf(tx.Cost, c.Collected)
		writes = append(writes, collectionWrite{id: tx.ID, collection: c, net: net})

		tx.Collection, tx.NetAmount = c, net
		updated = append(updated, *tx)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	err := s.Store.WithTx(ctx, func(st Store) error {
		for _, w := range writes {
			if err := st.UpdateCollection(ctx, w.id, w.collection, w.net); err != nil {
				return fmt.Errorf("transaction %d: %w", w.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update collections for client %d: %w", clientID, err)
	}
	s.log().Info("collections updated", "client_id", clientID, "rows", len(writes))
	return updated, nil
}

// =============================================================================
// FEE INCREASE REPORT
// =============================================================================

type FeeIncreaseWhen string

const (
	FeeIncreasePast   FeeIncreaseWhen = "past"
	FeeIncreaseFuture FeeIncreaseWhen = "future"
)

// FeeIncreaseRow carries current rates for past increases and the scheduled
// rates for future ones.
type FeeIncreaseRow struct {
	ClientID      ClientID
	ClientName    string
	EffectiveDate Date
	Rates         Rates
}

// FeeIncreaseReport lists every client whose escalation date is strictly
// before (past) or after (future) today, ordered by name.
func (s *Service) FeeIncreaseReport(ctx context.Context, when FeeIncreaseWhen) ([]FeeIncreaseRow, error) {
	if when != FeeIncreasePast && when != FeeIncreaseFuture {
		return nil, ValidationErrors{fmt.Sprintf("Report must be %q or %q.", FeeIncreasePast, FeeIncreaseFuture)}
	}

	var clients []Client
	for _, terminated := range []bool{false, true} {
		cs, err := s.Store.ListClients(ctx, terminated)
		if err != nil {
			return nil, fmt.Errorf("fee increase report: %w", err)
		}
		clients = append(clients, cs...)
	}

	today := s.today()
	rows := []FeeIncreaseRow{}
	for _, c := range clients {
		eff := c.Fees.Escalation.EffectiveDate
		switch {
		case when == FeeIncreasePast && eff.Before(today):
			rows = append(rows, FeeIncreaseRow{ClientID: c.ID, ClientName: c.Name, EffectiveDate: eff, Rates: c.Fees.Rates})
		case when == FeeIncreaseFuture && eff.After(today):
			rows = append(rows, FeeIncreaseRow{ClientID: c.ID, ClientName: c.Name, EffectiveDate: eff, Rates: c.Fees.Escalation.Future})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ClientName < rows[j].ClientName })
	return rows, nil
}

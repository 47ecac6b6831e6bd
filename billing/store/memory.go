// Package store provides an in-memory billing.TxStore for tests and demos.
package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory guards a memState with a RWMutex. It also implements
// billing.RolloverMarker.
type Memory struct {
	mu sync.RWMutex
	*memState
}

func NewMemory() *Memory {
	return &Memory{memState: newMemState()}
}

func (m *Memory) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.GetClient(ctx, id)
}

func (m *Memory) InsertClient(ctx context.Context, c billing.Client) (billing.ClientID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.InsertClient(ctx, c)
}

func (m *Memory) UpdateClient(ctx context.Context, c billing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.UpdateClient(ctx, c)
}

func (m *Memory) UpdateClientSchedule(ctx context.Context, id billing.ClientID, s billing.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.UpdateClientSchedule(ctx, id, s)
}

func (m *Memory) UpdateClientFees(ctx context.Context, id billing.ClientID, f billing.FeeSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.UpdateClientFees(ctx, id, f)
}

func (m *Memory) UpdateClientEffectiveDate(ctx context.Context, id billing.ClientID, d billing.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.UpdateClientEffectiveDate(ctx, id, d)
}

func (m *Memory) SetClientTerminated(ctx context.Context, id billing.ClientID, terminated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.SetClientTerminated(ctx, id, terminated)
}

func (m *Memory) AssignClientUser(ctx context.Context, id billing.ClientID, user *billing.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.AssignClientUser(ctx, id, user)
}

func (m *Memory) ListClients(ctx context.Context, terminated bool) ([]billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.ListClients(ctx, terminated)
}

func (m *Memory) GetTransaction(ctx context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.GetTransaction(ctx, id)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx billing.Transaction) (billing.TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.InsertTransaction(ctx, tx)
}

func (m *Memory) UpdateTransaction(ctx context.Context, tx billing.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.UpdateTransaction(ctx, tx)
}

func (m *Memory) UpdateCollection(ctx context.Context, id billing.TransactionID, c billing.Collection, net decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.UpdateCollection(ctx, id, c, net)
}

func (m *Memory) ListTransactions(ctx context.Context, clientID billing.ClientID) ([]billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.ListTransactions(ctx, clientID)
}

func (m *Memory) LatestPeriodEnd(ctx context.Context, clientID billing.ClientID) (billing.Date, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.LatestPeriodEnd(ctx, clientID)
}

func (m *Memory) SumByClient(ctx context.Context, clientID billing.ClientID) (billing.Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.SumByClient(ctx, clientID)
}

func (m *Memory) SumAllActive(ctx context.Context) ([]billing.ClientTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.SumAllActive(ctx)
}

func (m *Memory) SumByProcessingRange(ctx context.Context, from, to billing.Date) ([]billing.ClientTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.SumByProcessingRange(ctx, from, to)
}

func (m *Memory) GetUser(ctx context.Context, id billing.UserID) (*billing.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.GetUser(ctx, id)
}

func (m *Memory) InsertUser(ctx context.Context, u billing.User) (billing.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.InsertUser(ctx, u)
}

func (m *Memory) UpdateUser(ctx context.Context, u billing.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.UpdateUser(ctx, u)
}

func (m *Memory) DeleteUser(ctx context.Context, id billing.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.DeleteUser(ctx, id)
}

func (m *Memory) ListUsers(ctx context.Context) ([]billing.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.ListUsers(ctx)
}

func (m *Memory) LastRollover(ctx context.Context) (billing.Date, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memState.LastRollover(ctx)
}

func (m *Memory) SetLastRollover(ctx context.Context, d billing.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.SetLastRollover(ctx, d)
}

// Reset drops every record and the rollover marker.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memState = newMemState()
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.memState.clone()

	// The view writes straight into the live state; the lock is held.
	view := &txMemoryView{memState: m.memState}
	if err := fn(view); err != nil {
		m.memState = snapshot
		return err
	}
	return nil
}

type txMemoryView struct {
	*memState
}

// =============================================================================
// STATE - Unlocked record maps
// =============================================================================

type memState struct {
	clients      map[billing.ClientID]billing.Client
	transactions map[billing.TransactionID]billing.Transaction
	users        map[billing.UserID]billing.User
	lastRollover billing.Date

	nextClient billing.ClientID
	nextTx     billing.TransactionID
	nextUser   billing.UserID
}

func newMemState() *memState {
	return &memState{
		clients:      make(map[billing.ClientID]billing.Client),
		transactions: make(map[billing.TransactionID]billing.Transaction),
		users:        make(map[billing.UserID]billing.User),
	}
}

func (s *memState) clone() *memState {
	c := *s
	c.clients = maps.Clone(s.clients)
	c.transactions = maps.Clone(s.transactions)
	c.users = maps.Clone(s.users)
	return &c
}

func (s *memState) GetClient(_ context.Context, id billing.ClientID) (*billing.Client, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, billing.ErrClientNotFound
	}
	return copyClient(c), nil
}

func (s *memState) InsertClient(_ context.Context, c billing.Client) (billing.ClientID, error) {
	s.nextClient++
	c.ID = s.nextClient
	s.clients[c.ID] = *copyClient(c)
	return c.ID, nil
}

func (s *memState) UpdateClient(_ context.Context, c billing.Client) error {
	if _, ok := s.clients[c.ID]; !ok {
		return billing.ErrClientNotFound
	}
	s.clients[c.ID] = *copyClient(c)
	return nil
}

func (s *memState) mutateClient(id billing.ClientID, fn func(*billing.Client)) error {
	c, ok := s.clients[id]
	if !ok {
		return billing.ErrClientNotFound
	}
	fn(&c)
	s.clients[id] = c
	return nil
}

func (s *memState) UpdateClientSchedule(_ context.Context, id billing.ClientID, sched billing.Schedule) error {
	return s.mutateClient(id, func(c *billing.Client) { c.Schedule = sched })
}

func (s *memState) UpdateClientFees(_ context.Context, id billing.ClientID, f billing.FeeSchedule) error {
	return s.mutateClient(id, func(c *billing.Client) { c.Fees = f })
}

func (s *memState) UpdateClientEffectiveDate(_ context.Context, id billing.ClientID, d billing.Date) error {
	return s.mutateClient(id, func(c *billing.Client) { c.Fees.Escalation.EffectiveDate = d })
}

func (s *memState) SetClientTerminated(_ context.Context, id billing.ClientID, terminated bool) error {
	return s.mutateClient(id, func(c *billing.Client) { c.Terminated = terminated })
}

func (s *memState) AssignClientUser(_ context.Context, id billing.ClientID, user *billing.UserID) error {
	if user != nil {
		if _, ok := s.users[*user]; !ok {
			return billing.ErrUserNotFound
		}
	}
	return s.mutateClient(id, func(c *billing.Client) { c.AssignedUserID = copyUserID(user) })
}

func (s *memState) ListClients(_ context.Context, terminated bool) ([]billing.Client, error) {
	out := []billing.Client{}
	for _, c := range s.clients {
		if c.Terminated == terminated {
			out = append(out, *copyClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) GetTransaction(_ context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return nil, billing.ErrTransactionNotFound
	}
	return &tx, nil
}

func (s *memState) InsertTransaction(_ context.Context, tx billing.Transaction) (billing.TransactionID, error) {
	if _, ok := s.clients[tx.ClientID]; !ok {
		return 0, billing.ErrClientNotFound
	}
	s.nextTx++
	tx.ID = s.nextTx
	s.transactions[tx.ID] = tx
	return tx.ID, nil
}

func (s *memState) UpdateTransaction(_ context.Context, tx billing.Transaction) error {
	if _, ok := s.transactions[tx.ID]; !ok {
		return billing.ErrTransactionNotFound
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *memState) UpdateCollection(_ context.Context, id billing.TransactionID, c billing.Collection, net decimal.Decimal) error {
	tx, ok := s.transactions[id]
	if !ok {
		return billing.ErrTransactionNotFound
	}
	tx.Collection, tx.NetAmount = c, net
	s.transactions[id] = tx
	return nil
}

func (s *memState) ListTransactions(_ context.Context, clientID billing.ClientID) ([]billing.Transaction, error) {
	out := []billing.Transaction{}
	for _, tx := range s.transactions {
		if tx.ClientID == clientID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProcessingDate.Equal(out[j].ProcessingDate) {
			return out[i].ProcessingDate.After(out[j].ProcessingDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *memState) LatestPeriodEnd(_ context.Context, clientID billing.ClientID) (billing.Date, bool, error) {
	var latest billing.Date
	found := false
	for _, tx := range s.transactions {
		if tx.ClientID == clientID && (!found || tx.Period.End.After(latest)) {
			latest, found = tx.Period.End, true
		}
	}
	return latest, found, nil
}

func (s *memState) SumByClient(_ context.Context, clientID billing.ClientID) (billing.Totals, error) {
	var t billing.Totals
	for _, tx := range s.transactions {
		if tx.ClientID == clientID {
			addTotals(&t, tx)
		}
	}
	return t, nil
}

func (s *memState) SumAllActive(ctx context.Context) ([]billing.ClientTotals, error) {
	clients, _ := s.ListClients(ctx, false)
	out := make([]billing.ClientTotals, 0, len(clients))
	for _, c := range clients {
		t, _ := s.SumByClient(ctx, c.ID)
		out = append(out, billing.ClientTotals{ClientID: c.ID, ClientName: c.Name, Totals: t})
	}
	return out, nil
}

func (s *memState) SumByProcessingRange(_ context.Context, from, to billing.Date) ([]billing.ClientTotals, error) {
	byClient := make(map[billing.ClientID]*billing.ClientTotals)
	for _, tx := range s.transactions {
		if tx.ProcessingDate.Before(from) || tx.ProcessingDate.After(to) {
			continue
		}
		row, ok := byClient[tx.ClientID]
		if !ok {
			row = &billing.ClientTotals{ClientID: tx.ClientID, ClientName: s.clients[tx.ClientID].Name}
			byClient[tx.ClientID] = row
		}
		addTotals(&row.Totals, tx)
	}
	out := make([]billing.ClientTotals, 0, len(byClient))
	for _, row := range byClient {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientName != out[j].ClientName {
			return out[i].ClientName < out[j].ClientName
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

func addTotals(t *billing.Totals, tx billing.Transaction) {
	t.Cost = t.Cost.Add(tx.Cost)
	t.Collected = t.Collected.Add(tx.Collection.Collected)
	t.Net = t.Net.Add(tx.NetAmount)
}

func (s *memState) GetUser(_ context.Context, id billing.UserID) (*billing.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	return &u, nil
}

func (s *memState) InsertUser(_ context.Context, u billing.User) (billing.UserID, error) {
	s.nextUser++
	u.ID = s.nextUser
	s.users[u.ID] = u
	return u.ID, nil
}

func (s *memState) UpdateUser(_ context.Context, u billing.User) error {
	if _, ok := s.users[u.ID]; !ok {
		return billing.ErrUserNotFound
	}
	s.users[u.ID] = u
	return nil
}

// DeleteUser removes the user and clears every client assignment to it.
func (s *memState) DeleteUser(_ context.Context, id billing.UserID) error {
	if _, ok := s.users[id]; !ok {
		return billing.ErrUserNotFound
	}
	delete(s.users, id)
	for cid, c := range s.clients {
		if c.AssignedUserID != nil && *c.AssignedUserID == id {
			c.AssignedUserID = nil
			s.clients[cid] = c
		}
	}
	return nil
}

func (s *memState) ListUsers(_ context.Context) ([]billing.User, error) {
	out := make([]billing.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) LastRollover(_ context.Context) (billing.Date, bool, error) {
	return s.lastRollover, !s.lastRollover.IsZero(), nil
}

func (s *memState) SetLastRollover(_ context.Context, d billing.Date) error {
	if d.After(s.lastRollover) {
		s.lastRollover = d
	}
	return nil
}

func copyClient(c billing.Client) *billing.Client {
	c.AssignedUserID = copyUserID(c.AssignedUserID)
	return &c
}

func copyUserID(id *billing.UserID) *billing.UserID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

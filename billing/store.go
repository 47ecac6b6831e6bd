/*
store.go - Persistence interface for clients, transactions and users

PURPOSE:
  Defines the contract between the engine and the relational store. The
  engine never builds column lists or SQL; every write goes through an
  entity-specific typed method with a fixed field set.

KEY INTERFACES:
  Store:          Typed reads/writes for Client, Transaction and User
  TxStore:        Store plus WithTx for single-transaction multi-writes
  RolloverMarker: "Last rollover date" used to run the rollover once a day

FAILURE MODEL:
  The engine validates everything before the first write and then trusts
  the store. Multi-write operations (a period submission updates both the
  transaction and the client) run inside WithTx so a store fault leaves no
  partial state.

IMPLEMENTATIONS:
  - billing/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite
  - store/redismarker: RolloverMarker in Redis

SEE ALSO:
  - lifecycle.go, clients.go, receivables.go: the callers
*/
package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Clients
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	InsertClient(ctx context.Context, c Client) (ClientID, error)
	UpdateClient(ctx context.Context, c Client) error
	UpdateClientSchedule(ctx context.Context, id ClientID, s Schedule) error
	UpdateClientFees(ctx context.Context, id ClientID, f FeeSchedule) error
	UpdateClientEffectiveDate(ctx context.Context, id ClientID, d Date) error
	SetClientTerminated(ctx context.Context, id ClientID, terminated bool) error
	AssignClientUser(ctx context.Context, id ClientID, user *UserID) error
	// ListClients returns clients with the given terminated flag, ordered by id.
	ListClients(ctx context.Context, terminated bool) ([]Client, error)

	// Transactions
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	InsertTransaction(ctx context.Context, tx Transaction) (TransactionID, error)
	UpdateTransaction(ctx context.Context, tx Transaction) error
	UpdateCollection(ctx context.Context, id TransactionID, c Collection, net decimal.Decimal) error
	// ListTransactions returns a client's transactions, newest processing date first.
	ListTransactions(ctx context.Context, clientID ClientID) ([]Transaction, error)
	// LatestPeriodEnd returns the latest billed period end, ok=false when none.
	LatestPeriodEnd(ctx context.Context, clientID ClientID) (Date, bool, error)

	// Aggregates
	SumByClient(ctx context.Context, clientID ClientID) (Totals, error)
	// SumAllActive returns one row per active client, ordered by id, including
	// clients with no transactions.
	SumAllActive(ctx context.Context) ([]ClientTotals, error)
	// SumByProcessingRange returns one row per client with at least one
	// transaction processed in [from, to], ordered by client name.
	SumByProcessingRange(ctx context.Context, from, to Date) ([]ClientTotals, error)

	// Users
	GetUser(ctx context.Context, id UserID) (*User, error)
	InsertUser(ctx context.Context, u User) (UserID, error)
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id UserID) error
	ListUsers(ctx context.Context) ([]User, error)
}

// TxStore wraps Store with transaction support.
// If fn returns error, every write made through the Store passed to fn is
// rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// RolloverMarker persists the day the fee rollover last completed.
type RolloverMarker interface {
	LastRollover(ctx context.Context) (Date, bool, error)
	SetLastRollover(ctx context.Context, d Date) error
}

// =============================================================================
// AGGREGATE ROWS
// =============================================================================

// Totals are raw sums as stored; callers round for display.
type Totals struct {
	Cost      decimal.Decimal
	Collected decimal.Decimal
	Net       decimal.Decimal
}

type ClientTotals struct {
	ClientID   ClientID
	ClientName string
	Totals
}

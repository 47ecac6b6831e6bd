/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Persists clients, transactions and users, and the rollover marker, in one
  SQLite file. Every write is an entity-specific statement with a fixed
  column list; no SQL is assembled from caller input.

INTERFACES IMPLEMENTED:
  billing.Store:          Typed client/transaction/user reads and writes
  billing.TxStore:        WithTx over a single *sql.Tx
  billing.RolloverMarker: "last_rollover" row in the settings table

KEY TABLES:
  users:        Operators (bcrypt hash, permanent flag)
  clients:      Billing accounts with live fee schedule
  transactions: Billed periods with frozen pricing snapshot
  settings:     Key/value rows (rollover marker)

MONEY:
  Amounts are stored as INTEGER cents and percentages as TEXT decimals, so
  aggregate sums are exact.

CONCURRENCY:
  The pool is capped at one connection; SQLite serializes writers anyway and
  ":memory:" databases are per-connection. WithTx additionally holds the
  store mutex for the life of the transaction.

USAGE:
  st, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()
  svc := billing.NewService(st, billing.SystemClock{})

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
	*conn
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, conn: &conn{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'user')),
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		permanent INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_name TEXT NOT NULL,
		pay_frequency TEXT NOT NULL,
		pay_start_date TEXT NOT NULL,
		processing_date TEXT,
		pay_date TEXT,
		base_fee_cents INTEGER NOT NULL,
		add_state_fee_cents INTEGER NOT NULL,
		add_employee_fee_cents INTEGER NOT NULL,
		states_in_base INTEGER NOT NULL,
		employees_in_base INTEGER NOT NULL,
		surcharge_enabled INTEGER NOT NULL DEFAULT 0,
		surcharge_fee_cents INTEGER NOT NULL DEFAULT 0,
		fee_increase_mode TEXT NOT NULL DEFAULT 'percent',
		fee_increase_pct TEXT NOT NULL,
		fee_increase_effective_date TEXT NOT NULL,
		increased_base_fee_cents INTEGER NOT NULL,
		increased_add_state_fee_cents INTEGER NOT NULL,
		increased_add_employee_fee_cents INTEGER NOT NULL,
		assigned_user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		terminated INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_clients_terminated ON clients(terminated);
	CREATE INDEX IF NOT EXISTS idx_clients_effective_date ON clients(fee_increase_effective_date);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		period_type TEXT NOT NULL CHECK (period_type IN ('regular', 'additional')),
		pay_frequency TEXT NOT NULL,
		base_fee_cents INTEGER NOT NULL,
		add_state_fee_cents INTEGER NOT NULL,
		add_employee_fee_cents INTEGER NOT NULL,
		states_in_base INTEGER NOT NULL,
		employees_in_base INTEGER NOT NULL,
		surcharge_enabled INTEGER NOT NULL,
		surcharge_fee_cents INTEGER NOT NULL,
		pay_start_date TEXT NOT NULL,
		pay_end_date TEXT NOT NULL,
		processing_date TEXT NOT NULL,
		pay_date TEXT,
		employees_processed INTEGER NOT NULL,
		states_processed INTEGER NOT NULL,
		surcharge_invoked INTEGER NOT NULL DEFAULT 0,
		states_surcharged INTEGER NOT NULL DEFAULT 0,
		cost_cents INTEGER NOT NULL,
		collected_cents INTEGER NOT NULL DEFAULT 0,
		collection_description TEXT NOT NULL DEFAULT '',
		collection_date TEXT,
		net_amount_cents INTEGER NOT NULL
	);

	-- Per-client listing and aggregates (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_client_processing
		ON transactions(client_id, processing_date DESC);
	-- Collections overview by date range
	CREATE INDEX IF NOT EXISTS idx_transactions_processing
		ON transactions(processing_date);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// UpdateClient writes the client row and its fee columns atomically.
func (s *Store) UpdateClient(ctx context.Context, c billing.Client) error {
	return s.WithTx(ctx, func(st billing.Store) error {
		return st.UpdateClient(ctx, c)
	})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "clients", "users", "settings"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// CONN - Statements shared by *sql.DB and *sql.Tx
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type conn struct {
	q queryer
}

// =============================================================================
// CLIENTS
// =============================================================================

const clientColumns = `id, client_name, pay_frequency, pay_start_date, processing_date, pay_date,
	base_fee_cents, add_state_fee_cents, add_employee_fee_cents, states_in_base, employees_in_base,
	surcharge_enabled, surcharge_fee_cents, fee_increase_mode, fee_increase_pct,
	fee_increase_effective_date, increased_base_fee_cents, increased_add_state_fee_cents,
	increased_add_employee_fee_cents, assigned_user_id, terminated`

func (c *conn) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id)
	client, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *conn) InsertClient(ctx context.Context, cl billing.Client) (billing.ClientID, error) {
	f := cl.Fees
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO clients
		(client_name, pay_frequency, pay_start_date, processing_date, pay_date,
		 base_fee_cents, add_state_fee_cents, add_employee_fee_cents, states_in_base, employees_in_base,
		 surcharge_enabled, surcharge_fee_cents, fee_increase_mode, fee_increase_pct,
		 fee_increase_effective_date, increased_base_fee_cents, increased_add_state_fee_cents,
		 increased_add_employee_fee_cents, assigned_user_id, terminated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cl.Name, string(cl.Frequency),
		cl.Schedule.PayStartDate.String(), nullDate(cl.Schedule.ProcessingDate), nullDate(cl.Schedule.PayDate),
		billing.Cents(f.BaseFee), billing.Cents(f.AddStateFee), billing.Cents(f.AddEmployeeFee),
		f.StatesInBase, f.EmployeesInBase,
		f.SurchargeEnabled, billing.Cents(f.SurchargeFee),
		string(f.Escalation.Mode), f.Escalation.Percent.String(), f.Escalation.EffectiveDate.String(),
		billing.Cents(f.Escalation.Future.BaseFee), billing.Cents(f.Escalation.Future.AddStateFee),
		billing.Cents(f.Escalation.Future.AddEmployeeFee),
		nullUserID(cl.AssignedUserID), cl.Terminated,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert client: %w", err)
	}
	id, err := res.LastInsertId()
	return billing.ClientID(id), err
}

func (c *conn) UpdateClient(ctx context.Context, cl billing.Client) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE clients SET client_name = ?, pay_frequency = ?, pay_start_date = ?,
			processing_date = ?, pay_date = ?, assigned_user_id = ?, terminated = ?
		WHERE id = ?
	`,
		cl.Name, string(cl.Frequency), cl.Schedule.PayStartDate.String(),
		nullDate(cl.Schedule.ProcessingDate), nullDate(cl.Schedule.PayDate),
		nullUserID(cl.AssignedUserID), cl.Terminated, cl.ID,
	)
	if err := affected(res, err, billing.ErrClientNotFound); err != nil {
		return err
	}
	return c.UpdateClientFees(ctx, cl.ID, cl.Fees)
}

func (c *conn) UpdateClientSchedule(ctx context.Context, id billing.ClientID, s billing.Schedule) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE clients SET pay_start_date = ?, processing_date = ?, pay_date = ? WHERE id = ?",
		s.PayStartDate.String(), nullDate(s.ProcessingDate), nullDate(s.PayDate), id)
	return affected(res, err, billing.ErrClientNotFound)
}

func (c *conn) UpdateClientFees(ctx context.Context, id billing.ClientID, f billing.FeeSchedule) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE clients SET
			base_fee_cents = ?, add_state_fee_cents = ?, add_employee_fee_cents = ?,
			states_in_base = ?, employees_in_base = ?, surcharge_enabled = ?, surcharge_fee_cents = ?,
			fee_increase_mode = ?, fee_increase_pct = ?, fee_increase_effective_date = ?,
			increased_base_fee_cents = ?, increased_add_state_fee_cents = ?, increased_add_employee_fee_cents = ?
		WHERE id = ?
	`,
		billing.Cents(f.BaseFee), billing.Cents(f.AddStateFee), billing.Cents(f.AddEmployeeFee),
		f.StatesInBase, f.EmployeesInBase, f.SurchargeEnabled, billing.Cents(f.SurchargeFee),
		string(f.Escalation.Mode), f.Escalation.Percent.String(), f.Escalation.EffectiveDate.String(),
		billing.Cents(f.Escalation.Future.BaseFee), billing.Cents(f.Escalation.Future.AddStateFee),
		billing.Cents(f.Escalation.Future.AddEmployeeFee),
		id,
	)
	return affected(res, err, billing.ErrClientNotFound)
}

func (c *conn) UpdateClientEffectiveDate(ctx context.Context, id billing.ClientID, d billing.Date) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE clients SET fee_increase_effective_date = ? WHERE id = ?", d.String(), id)
	return affected(res, err, billing.ErrClientNotFound)
}

func (c *conn) SetClientTerminated(ctx context.Context, id billing.ClientID, terminated bool) error {
	res, err := c.q.ExecContext(ctx, "UPDATE clients SET terminated = ? WHERE id = ?", terminated, id)
	return affected(res, err, billing.ErrClientNotFound)
}

func (c *conn) AssignClientUser(ctx context.Context, id billing.ClientID, user *billing.UserID) error {
	if user != nil {
		if _, err := c.GetUser(ctx, *user); err != nil {
			return err
		}
	}
	res, err := c.q.ExecContext(ctx, "UPDATE clients SET assigned_user_id = ? WHERE id = ?", nullUserID(user), id)
	return affected(res, err, billing.ErrClientNotFound)
}

func (c *conn) ListClients(ctx context.Context, terminated bool) ([]billing.Client, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE terminated = ? ORDER BY id ASC", terminated)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	clients := []billing.Client{}
	for rows.Next() {
		cl, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *cl)
	}
	return clients, rows.Err()
}

func scanClient(row scanner) (*billing.Client, error) {
	var (
		cl                                billing.Client
		freq, start, mode, pct, effective string
		processing, pay                   sql.NullString
		base, addState, addEmp, surcharge int64
		futBase, futState, futEmp         int64
		assigned                          sql.NullInt64
	)
	err := row.Scan(
		&cl.ID, &cl.Name, &freq, &start, &processing, &pay,
		&base, &addState, &addEmp, &cl.Fees.StatesInBase, &cl.Fees.EmployeesInBase,
		&cl.Fees.SurchargeEnabled, &surcharge, &mode, &pct,
		&effective, &futBase, &futState, &futEmp, &assigned, &cl.Terminated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan client: %w", err)
	}

	cl.Frequency = billing.Frequency(freq)
	cl.Schedule = billing.Schedule{
		PayStartDate:   parseDate(start),
		ProcessingDate: parseNullDate(processing),
		PayDate:        parseNullDate(pay),
	}
	cl.Fees.Rates = billing.Rates{
		BaseFee:        billing.MoneyFromCents(base),
		AddStateFee:    billing.MoneyFromCents(addState),
		AddEmployeeFee: billing.MoneyFromCents(addEmp),
	}
	cl.Fees.SurchargeFee = billing.MoneyFromCents(surcharge)
	cl.Fees.Escalation = billing.Escalation{
		Mode:          billing.EscalationMode(mode),
		Percent:       parseDecimal(pct),
		EffectiveDate: parseDate(effective),
		Future: billing.Rates{
			BaseFee:        billing.MoneyFromCents(futBase),
			AddStateFee:    billing.MoneyFromCents(futState),
			AddEmployeeFee: billing.MoneyFromCents(futEmp),
		},
	}
	if assigned.Valid {
		uid := billing.UserID(assigned.Int64)
		cl.AssignedUserID = &uid
	}
	return &cl, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, client_id, period_type, pay_frequency,
	base_fee_cents, add_state_fee_cents, add_employee_fee_cents, states_in_base, employees_in_base,
	surcharge_enabled, surcharge_fee_cents, pay_start_date, pay_end_date, processing_date, pay_date,
	employees_processed, states_processed, surcharge_invoked, states_surcharged,
	cost_cents, collected_cents, collection_description, collection_date, net_amount_cents`

func (c *conn) GetTransaction(ctx context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *conn) InsertTransaction(ctx context.Context, tx billing.Transaction) (billing.TransactionID, error) {
	s := tx.Snapshot
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions
		(client_id, period_type, pay_frequency,
		 base_fee_cents, add_state_fee_cents, add_employee_fee_cents, states_in_base, employees_in_base,
		 surcharge_enabled, surcharge_fee_cents, pay_start_date, pay_end_date, processing_date, pay_date,
		 employees_processed, states_processed, surcharge_invoked, states_surcharged,
		 cost_cents, collected_cents, collection_description, collection_date, net_amount_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ClientID, string(tx.PeriodType), string(s.Frequency),
		billing.Cents(s.BaseFee), billing.Cents(s.AddStateFee), billing.Cents(s.AddEmployeeFee),
		s.StatesInBase, s.EmployeesInBase, s.SurchargeEnabled, billing.Cents(s.SurchargeFee),
		tx.Period.Start.String(), tx.Period.End.String(), tx.ProcessingDate.String(), nullDate(tx.PayDate),
		tx.Usage.EmployeesProcessed, tx.Usage.StatesProcessed, tx.Usage.SurchargeInvoked, tx.Usage.StatesSurcharged,
		billing.Cents(tx.Cost), billing.Cents(tx.Collection.Collected), tx.Collection.Description,
		nullDate(tx.Collection.Date), billing.Cents(tx.NetAmount),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return 0, billing.ErrClientNotFound
		}
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	return billing.TransactionID(id), err
}

// UpdateTransaction rewrites the editable columns. Period type and owner
// never change.
func (c *conn) UpdateTransaction(ctx context.Context, tx billing.Transaction) error {
	s := tx.Snapshot
	res, err := c.q.ExecContext(ctx, `
		UPDATE transactions SET
			base_fee_cents = ?, add_state_fee_cents = ?, add_employee_fee_cents = ?,
			states_in_base = ?, employees_in_base = ?, surcharge_enabled = ?, surcharge_fee_cents = ?,
			pay_start_date = ?, pay_end_date = ?, processing_date = ?, pay_date = ?,
			employees_processed = ?, states_processed = ?, surcharge_invoked = ?, states_surcharged = ?,
			cost_cents = ?, collected_cents = ?, collection_description = ?, collection_date = ?,
			net_amount_cents = ?
		WHERE id = ?
	`,
		billing.Cents(s.BaseFee), billing.Cents(s.AddStateFee), billing.Cents(s.AddEmployeeFee),
		s.StatesInBase, s.EmployeesInBase, s.SurchargeEnabled, billing.Cents(s.SurchargeFee),
		tx.Period.Start.String(), tx.Period.End.String(), tx.ProcessingDate.String(), nullDate(tx.PayDate),
		tx.Usage.EmployeesProcessed, tx.Usage.StatesProcessed, tx.Usage.SurchargeInvoked, tx.Usage.StatesSurcharged,
		billing.Cents(tx.Cost), billing.Cents(tx.Collection.Collected), tx.Collection.Description,
		nullDate(tx.Collection.Date), billing.Cents(tx.NetAmount),
		tx.ID,
	)
	return affected(res, err, billing.ErrTransactionNotFound)
}

func (c *conn) UpdateCollection(ctx context.Context, id billing.TransactionID, col billing.Collection, net decimal.Decimal) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE transactions
		SET collected_cents = ?, collection_description = ?, collection_date = ?, net_amount_cents = ?
		WHERE id = ?
	`, billing.Cents(col.Collected), col.Description, nullDate(col.Date), billing.Cents(net), id)
	return affected(res, err, billing.ErrTransactionNotFound)
}

func (c *conn) ListTransactions(ctx context.Context, clientID billing.ClientID) ([]billing.Transaction, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE client_id = ? ORDER BY processing_date DESC, id DESC",
		clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []billing.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func (c *conn) LatestPeriodEnd(ctx context.Context, clientID billing.ClientID) (billing.Date, bool, error) {
	var latest sql.NullString
	err := c.q.QueryRowContext(ctx,
		"SELECT MAX(pay_end_date) FROM transactions WHERE client_id = ?", clientID).Scan(&latest)
	if err != nil {
		return billing.Date{}, false, fmt.Errorf("failed to query latest period end: %w", err)
	}
	if !latest.Valid {
		return billing.Date{}, false, nil
	}
	return parseDate(latest.String), true, nil
}

func scanTransaction(row scanner) (*billing.Transaction, error) {
	var (
		tx                                billing.Transaction
		periodType, freq                  string
		base, addState, addEmp, surcharge int64
		start, end, processing            string
		pay, collectionDate               sql.NullString
		cost, collected, net              int64
	)
	s := &tx.Snapshot
	err := row.Scan(
		&tx.ID, &tx.ClientID, &periodType, &freq,
		&base, &addState, &addEmp, &s.StatesInBase, &s.EmployeesInBase,
		&s.SurchargeEnabled, &surcharge, &start, &end, &processing, &pay,
		&tx.Usage.EmployeesProcessed, &tx.Usage.StatesProcessed, &tx.Usage.SurchargeInvoked, &tx.Usage.StatesSurcharged,
		&cost, &collected, &tx.Collection.Description, &collectionDate, &net,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.PeriodType = billing.PeriodType(periodType)
	s.Frequency = billing.Frequency(freq)
	s.Rates = billing.Rates{
		BaseFee:        billing.MoneyFromCents(base),
		AddStateFee:    billing.MoneyFromCents(addState),
		AddEmployeeFee: billing.MoneyFromCents(addEmp),
	}
	s.SurchargeFee = billing.MoneyFromCents(surcharge)
	tx.Period = billing.Period{Start: parseDate(start), End: parseDate(end)}
	tx.ProcessingDate = parseDate(processing)
	tx.PayDate = parseNullDate(pay)
	tx.Cost = billing.MoneyFromCents(cost)
	tx.Collection.Collected = billing.MoneyFromCents(collected)
	tx.Collection.Date = parseNullDate(collectionDate)
	tx.NetAmount = billing.MoneyFromCents(net)
	return &tx, nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

func (c *conn) SumByClient(ctx context.Context, clientID billing.ClientID) (billing.Totals, error) {
	var cost, collected, net int64
	err := c.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_cents), 0), COALESCE(SUM(collected_cents), 0), COALESCE(SUM(net_amount_cents), 0)
		FROM transactions WHERE client_id = ?
	`, clientID).Scan(&cost, &collected, &net)
	if err != nil {
		return billing.Totals{}, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return totals(cost, collected, net), nil
}

func (c *conn) SumAllActive(ctx context.Context) ([]billing.ClientTotals, error) {
	return c.queryTotals(ctx, `
		SELECT c.id, c.client_name,
			COALESCE(SUM(t.cost_cents), 0),
			COALESCE(SUM(t.collected_cents), 0),
			COALESCE(SUM(t.net_amount_cents), 0)
		FROM clients c
		LEFT JOIN transactions t ON t.client_id = c.id
		WHERE c.terminated = 0
		GROUP BY c.id, c.client_name
		ORDER BY c.id ASC
	`)
}

func (c *conn) SumByProcessingRange(ctx context.Context, from, to billing.Date) ([]billing.ClientTotals, error) {
	return c.queryTotals(ctx, `
		SELECT c.id, c.client_name,
			COALESCE(SUM(t.cost_cents), 0),
			COALESCE(SUM(t.collected_cents), 0),
			COALESCE(SUM(t.net_amount_cents), 0)
		FROM transactions t
		JOIN clients c ON c.id = t.client_id
		WHERE t.processing_date >= ? AND t.processing_date <= ?
		GROUP BY c.id, c.client_name
		ORDER BY c.client_name ASC, c.id ASC
	`, from.String(), to.String())
}

func (c *conn) queryTotals(ctx context.Context, query string, args ...any) ([]billing.ClientTotals, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	out := []billing.ClientTotals{}
	for rows.Next() {
		var (
			row                  billing.ClientTotals
			cost, collected, net int64
		)
		if err := rows.Scan(&row.ClientID, &row.ClientName, &cost, &collected, &net); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		row.Totals = totals(cost, collected, net)
		out = append(out, row)
	}
	return out, rows.Err()
}

func totals(cost, collected, net int64) billing.Totals {
	return billing.Totals{
		Cost:      billing.MoneyFromCents(cost),
		Collected: billing.MoneyFromCents(collected),
		Net:       billing.MoneyFromCents(net),
	}
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = "id, name, role, email, password_hash, permanent"

func (c *conn) GetUser(ctx context.Context, id billing.UserID) (*billing.User, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrUserNotFound
	}
	return u, err
}

func (c *conn) InsertUser(ctx context.Context, u billing.User) (billing.UserID, error) {
	res, err := c.q.ExecContext(ctx,
		"INSERT INTO users (name, role, email, password_hash, permanent) VALUES (?, ?, ?, ?, ?)",
		u.Name, string(u.Role), u.Email, nullString(u.PasswordHash), u.Permanent)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	return billing.UserID(id), err
}

func (c *conn) UpdateUser(ctx context.Context, u billing.User) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE users SET name = ?, role = ?, email = ?, password_hash = ?, permanent = ? WHERE id = ?",
		u.Name, string(u.Role), u.Email, nullString(u.PasswordHash), u.Permanent, u.ID)
	return affected(res, err, billing.ErrUserNotFound)
}

// DeleteUser relies on ON DELETE SET NULL to clear client assignments.
func (c *conn) DeleteUser(ctx context.Context, id billing.UserID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	return affected(res, err, billing.ErrUserNotFound)
}

func (c *conn) ListUsers(ctx context.Context) ([]billing.User, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []billing.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(row scanner) (*billing.User, error) {
	var (
		u    billing.User
		role string
		hash sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Name, &role, &u.Email, &hash, &u.Permanent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Role = billing.Role(role)
	u.PasswordHash = hash.String
	return &u, nil
}

// =============================================================================
// ROLLOVER MARKER (billing.RolloverMarker interface)
// =============================================================================

const lastRolloverKey = "last_rollover"

func (c *conn) LastRollover(ctx context.Context) (billing.Date, bool, error) {
	var v string
	err := c.q.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", lastRolloverKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Date{}, false, nil
	}
	if err != nil {
		return billing.Date{}, false, fmt.Errorf("failed to read rollover marker: %w", err)
	}
	d, err := billing.ParseDate(v)
	if err != nil {
		return billing.Date{}, false, err
	}
	return d, true, nil
}

func (c *conn) SetLastRollover(ctx context.Context, d billing.Date) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		WHERE excluded.value > settings.value
	`, lastRolloverKey, d.String())
	if err != nil {
		return fmt.Errorf("failed to write rollover marker: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func affected(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d billing.Date) sql.NullString { return nullString(d.String()) }

func nullUserID(id *billing.UserID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

// parseDate trusts values this package wrote.
func parseDate(s string) billing.Date {
	d, _ := billing.ParseDate(s)
	return d
}

func parseNullDate(s sql.NullString) billing.Date {
	if !s.Valid {
		return billing.Date{}
	}
	return parseDate(s.String)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

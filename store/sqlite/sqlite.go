/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the treasury engine in one
  database so that report approval can write reports, funds and ledger
  rows inside a single transaction.

INTERFACES IMPLEMENTED:
  treasury.Store:       Funds and ledger transactions
  treasury.ChurchStore: Church directory
  report.Store:         Monthly reports + generation flag compare-and-set
  closing.Store:        Monthly ledgers and accounting entries

KEY TABLES:
  churches:           Church directory
  funds:              Funds with their current balance (name UNIQUE)
  transactions:       Ledger rows; balance column is a snapshot cache
  reports:            One row per (church, year, month), UNIQUE
  monthly_ledgers:    One row per (church, year, month), UNIQUE
  accounting_entries: Manual income/expense lines

STORAGE FORMATS:
  Money is stored as decimal TEXT, never REAL. Timestamps are fixed-width
  UTC TEXT so that string order equals time order. Report inputs and totals
  are JSON columns; nothing queries inside them.

TRANSACTIONS:
  WithTx / WithReportTx / WithClosingTx begin a database transaction and
  hand fn a view bound to it. Calling any WithTx on a view joins the same
  transaction. The connection pool is limited to one connection, so an
  in-memory database is shared by every caller and writers serialize.

USAGE:
  store, err := sqlite.New("./tesoreria.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - treasury/store.go: Ledger interface definitions
  - treasury/store/memory.go: In-memory ledger store for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/church-treasury/closing"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/treasury"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

var (
	_ treasury.Store = (*Store)(nil)
	_ report.Store   = (*Store)(nil)
	_ closing.Store  = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
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
	CREATE TABLE IF NOT EXISTS churches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		city TEXT,
		pastor_name TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS funds (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		fund_type TEXT NOT NULL,
		description TEXT,
		current_balance TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger rows. church_id NULL = national row.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		fund_id TEXT NOT NULL REFERENCES funds(id),
		church_id TEXT,
		report_id TEXT,
		provider_id TEXT,
		concept TEXT NOT NULL,
		document_number TEXT,
		amount_in TEXT NOT NULL,
		amount_out TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Fund replay and ledger view (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_fund_date
		ON transactions(fund_id, date, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_church_date
		ON transactions(church_id, date);
	-- Regeneration looks rows up by report
	CREATE INDEX IF NOT EXISTS idx_transactions_report
		ON transactions(report_id) WHERE report_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		church_id TEXT NOT NULL REFERENCES churches(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		inputs_json TEXT NOT NULL,
		totals_json TEXT NOT NULL,
		deposit_date TEXT,
		deposit_amount TEXT NOT NULL,
		deposit_photo TEXT,
		attendance INTEGER NOT NULL DEFAULT 0,
		baptisms INTEGER NOT NULL DEFAULT 0,
		observations TEXT,
		status TEXT NOT NULL,
		submitted_by TEXT,
		submitted_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		transactions_generated INTEGER NOT NULL DEFAULT 0,
		generated_at TEXT,
		generated_by TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one report per church and month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_church_period
		ON reports(church_id, year, month);
	CREATE INDEX IF NOT EXISTS idx_reports_status
		ON reports(status);

	CREATE TABLE IF NOT EXISTS monthly_ledgers (
		id TEXT PRIMARY KEY,
		church_id TEXT NOT NULL REFERENCES churches(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		opening_balance TEXT NOT NULL,
		total_income TEXT NOT NULL,
		total_expenses TEXT NOT NULL,
		closing_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		closed_by TEXT,
		closed_at TEXT,
		reconciled_by TEXT,
		reconciled_at TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledgers_church_period
		ON monthly_ledgers(church_id, year, month);

	CREATE TABLE IF NOT EXISTS accounting_entries (
		id TEXT PRIMARY KEY,
		church_id TEXT NOT NULL,
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		account TEXT NOT NULL,
		description TEXT,
		debit TEXT NOT NULL,
		credit TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_church_date
		ON accounting_entries(church_id, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func (s *Store) begin(ctx context.Context, fn func(*txView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{conn: conn{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(treasury.Store) error) error {
	return s.begin(ctx, func(v *txView) error { return fn(v) })
}

func (s *Store) WithReportTx(ctx context.Context, fn func(report.Store) error) error {
	return s.begin(ctx, func(v *txView) error { return fn(v) })
}

func (s *Store) WithClosingTx(ctx context.Context, fn func(closing.Store) error) error {
	return s.begin(ctx, func(v *txView) error { return fn(v) })
}

// txView runs every query inside one *sql.Tx. Nested WithTx calls join it.
type txView struct {
	conn
}

func (v *txView) WithTx(_ context.Context, fn func(treasury.Store) error) error {
	return fn(v)
}

func (v *txView) WithReportTx(_ context.Context, fn func(report.Store) error) error {
	return fn(v)
}

func (v *txView) WithClosingTx(_ context.Context, fn func(closing.Store) error) error {
	return fn(v)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds every query; Store and txView differ only in the querier.
type conn struct {
	q querier
}

// =============================================================================
// CHURCHES
// =============================================================================

func (c *conn) SaveChurch(ctx context.Context, ch treasury.Church) error {
	query := `
		INSERT INTO churches (id, name, city, pastor_name, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			pastor_name = excluded.pastor_name,
			is_active = excluded.is_active
	`
	_, err := c.q.ExecContext(ctx, query,
		ch.ID, ch.Name, nullString(ch.City), nullString(ch.PastorName),
		ch.IsActive, formatTime(ch.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save church: %w", err)
	}
	return nil
}

func (c *conn) GetChurch(ctx context.Context, id treasury.ChurchID) (*treasury.Church, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, city, pastor_name, is_active, created_at
		FROM churches WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query church: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	ch, err := scanChurch(rows)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *conn) ListChurches(ctx context.Context) ([]treasury.Church, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, city, pastor_name, is_active, created_at
		FROM churches ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query churches: %w", err)
	}
	defer rows.Close()

	churches := []treasury.Church{}
	for rows.Next() {
		ch, err := scanChurch(rows)
		if err != nil {
			return nil, err
		}
		churches = append(churches, ch)
	}
	return churches, rows.Err()
}

func scanChurch(rows *sql.Rows) (treasury.Church, error) {
	var (
		ch         treasury.Church
		city       sql.NullString
		pastorName sql.NullString
		createdAt  string
	)
	if err := rows.Scan(&ch.ID, &ch.Name, &city, &pastorName, &ch.IsActive, &createdAt); err != nil {
		return ch, fmt.Errorf("failed to scan church: %w", err)
	}
	ch.City = city.String
	ch.PastorName = pastorName.String
	ch.CreatedAt = parseTime(createdAt)
	return ch, nil
}

// =============================================================================
// FUNDS
// =============================================================================

const fundColumns = `id, name, fund_type, description, current_balance, is_active, created_at, updated_at`

func (c *conn) SaveFund(ctx context.Context, f treasury.Fund) error {
	query := `
		INSERT INTO funds (` + fundColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			fund_type = excluded.fund_type,
			description = excluded.description,
			current_balance = excluded.current_balance,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := c.q.ExecContext(ctx, query,
		f.ID, f.Name, string(f.Type), nullString(f.Description),
		f.CurrentBalance.String(), f.IsActive,
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return treasury.Conflict("Ya existe un fondo con el nombre %q", f.Name)
		}
		return fmt.Errorf("failed to save fund: %w", err)
	}
	return nil
}

func (c *conn) GetFund(ctx context.Context, id treasury.FundID) (*treasury.Fund, error) {
	return c.getFund(ctx, `SELECT `+fundColumns+` FROM funds WHERE id = ?`, id)
}

func (c *conn) FindFundByName(ctx context.Context, name string) (*treasury.Fund, error) {
	return c.getFund(ctx, `SELECT `+fundColumns+` FROM funds WHERE name = ?`, name)
}

func (c *conn) getFund(ctx context.Context, query string, arg any) (*treasury.Fund, error) {
	funds, err := c.queryFunds(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	if len(funds) == 0 {
		return nil, nil
	}
	return &funds[0], nil
}

func (c *conn) ListFunds(ctx context.Context) ([]treasury.Fund, error) {
	return c.queryFunds(ctx, `SELECT `+fundColumns+` FROM funds ORDER BY name ASC`)
}

func (c *conn) DeleteFund(ctx context.Context, id treasury.FundID) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM funds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete fund: %w", err)
	}
	return nil
}

func (c *conn) queryFunds(ctx context.Context, query string, args ...any) ([]treasury.Fund, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query funds: %w", err)
	}
	defer rows.Close()

	funds := []treasury.Fund{}
	for rows.Next() {
		var (
			f           treasury.Fund
			fundType    string
			description sql.NullString
			balance     string
			createdAt   string
			updatedAt   string
		)
		err := rows.Scan(&f.ID, &f.Name, &fundType, &description, &balance, &f.IsActive, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		f.Type = treasury.FundType(fundType)
		f.Description = description.String
		if f.CurrentBalance, err = parseDecimal(balance); err != nil {
			return nil, err
		}
		f.CreatedAt = parseTime(createdAt)
		f.UpdatedAt = parseTime(updatedAt)
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, date, fund_id, church_id, report_id, provider_id, concept,
	document_number, amount_in, amount_out, balance, created_by, created_at, updated_at`

func (c *conn) InsertTransaction(ctx context.Context, tx treasury.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query, transactionArgs(tx)...)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (c *conn) UpdateTransaction(ctx context.Context, tx treasury.Transaction) error {
	query := `
		UPDATE transactions SET
			date = ?, fund_id = ?, church_id = ?, report_id = ?, provider_id = ?,
			concept = ?, document_number = ?, amount_in = ?, amount_out = ?,
			balance = ?, created_by = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`
	args := transactionArgs(tx)
	args = append(args[1:], tx.ID)
	if _, err := c.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

func transactionArgs(tx treasury.Transaction) []any {
	return []any{
		tx.ID,
		formatTime(tx.Date),
		tx.FundID,
		nullString(string(tx.ChurchID)),
		nullString(string(tx.ReportID)),
		nullString(string(tx.ProviderID)),
		tx.Concept,
		nullString(tx.DocumentNumber),
		tx.AmountIn.String(),
		tx.AmountOut.String(),
		tx.Balance.String(),
		tx.CreatedBy.String(),
		formatTime(tx.CreatedAt),
		formatTime(tx.UpdatedAt),
	}
}

func (c *conn) DeleteTransaction(ctx context.Context, id treasury.TransactionID) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

func (c *conn) GetTransaction(ctx context.Context, id treasury.TransactionID) (*treasury.Transaction, error) {
	txs, err := c.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (c *conn) ListTransactions(ctx context.Context, f treasury.TransactionFilter) ([]treasury.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.FundID != "" {
		where = append(where, "fund_id = ?")
		args = append(args, f.FundID)
	}
	if f.ChurchID != "" {
		where = append(where, "church_id = ?")
		args = append(args, f.ChurchID)
	}
	if f.NationalOnly {
		where = append(where, "church_id IS NULL")
	}
	if f.ReportID != "" {
		where = append(where, "report_id = ?")
		args = append(args, f.ReportID)
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "date < ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date ASC, created_at ASC`

	return c.queryTransactions(ctx, query, args...)
}

func (c *conn) CountTransactions(ctx context.Context, fundID treasury.FundID) (int, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE fund_id = ?`, fundID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (c *conn) queryTransactions(ctx context.Context, query string, args ...any) ([]treasury.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []treasury.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (treasury.Transaction, error) {
	var (
		tx             treasury.Transaction
		date           string
		churchID       sql.NullString
		reportID       sql.NullString
		providerID     sql.NullString
		documentNumber sql.NullString
		amountIn       string
		amountOut      string
		balance        string
		createdBy      string
		createdAt      string
		updatedAt      string
	)

	err := rows.Scan(
		&tx.ID, &date, &tx.FundID, &churchID, &reportID, &providerID, &tx.Concept,
		&documentNumber, &amountIn, &amountOut, &balance, &createdBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Date = parseTime(date)
	tx.ChurchID = treasury.ChurchID(churchID.String)
	tx.ReportID = treasury.ReportID(reportID.String)
	tx.ProviderID = treasury.ProviderID(providerID.String)
	tx.DocumentNumber = documentNumber.String
	if tx.AmountIn, err = parseDecimal(amountIn); err != nil {
		return tx, err
	}
	if tx.AmountOut, err = parseDecimal(amountOut); err != nil {
		return tx, err
	}
	if tx.Balance, err = parseDecimal(balance); err != nil {
		return tx, err
	}
	tx.CreatedBy = treasury.ParseCreatedBy(createdBy)
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return tx, nil
}

// =============================================================================
// REPORTS
// =============================================================================

const reportColumns = `id, church_id, year, month, inputs_json, totals_json,
	deposit_date, deposit_amount, deposit_photo, attendance, baptisms, observations,
	status, submitted_by, submitted_at, approved_by, approved_at,
	rejected_by, rejected_at, rejection_reason,
	transactions_generated, generated_at, generated_by,
	created_by, created_at, updated_at`

func reportArgs(r report.Report) ([]any, error) {
	inputsJSON, err := json.Marshal(r.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report inputs: %w", err)
	}
	totalsJSON, err := json.Marshal(r.Totals)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report totals: %w", err)
	}
	return []any{
		r.ID, r.ChurchID, r.Period.Year, int(r.Period.Month),
		string(inputsJSON), string(totalsJSON),
		nullTime(r.Deposit.Date), r.Deposit.Amount.String(), nullString(r.Deposit.PhotoRef),
		r.Attendance, r.Baptisms, nullString(r.Observations),
		string(r.Status),
		nullString(r.SubmittedBy), nullTime(r.SubmittedAt),
		nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		nullString(r.RejectedBy), nullTime(r.RejectedAt), nullString(r.RejectionReason),
		r.TransactionsGenerated, nullTime(r.GeneratedAt), nullString(r.GeneratedBy),
		r.CreatedBy, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	}, nil
}

func (c *conn) InsertReport(ctx context.Context, r report.Report) error {
	args, err := reportArgs(r)
	if err != nil {
		return err
	}
	query := `INSERT INTO reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := c.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return treasury.Conflict("Ya existe un informe para %s", r.Period.Label())
		}
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (c *conn) UpdateReport(ctx context.Context, r report.Report) error {
	args, err := reportArgs(r)
	if err != nil {
		return err
	}
	query := `
		UPDATE reports SET
			church_id = ?, year = ?, month = ?, inputs_json = ?, totals_json = ?,
			deposit_date = ?, deposit_amount = ?, deposit_photo = ?,
			attendance = ?, baptisms = ?, observations = ?,
			status = ?, submitted_by = ?, submitted_at = ?, approved_by = ?, approved_at = ?,
			rejected_by = ?, rejected_at = ?, rejection_reason = ?,
			transactions_generated = ?, generated_at = ?, generated_by = ?,
			created_by = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`
	args = append(args[1:], r.ID)
	if _, err := c.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return treasury.Conflict("Ya existe un informe para %s", r.Period.Label())
		}
		return fmt.Errorf("failed to update report: %w", err)
	}
	return nil
}

func (c *conn) DeleteReport(ctx context.Context, id treasury.ReportID) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

func (c *conn) GetReport(ctx context.Context, id treasury.ReportID) (*report.Report, error) {
	return c.oneReport(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
}

func (c *conn) FindReport(ctx context.Context, church treasury.ChurchID, period treasury.Period) (*report.Report, error) {
	return c.oneReport(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE church_id = ? AND year = ? AND month = ?`,
		church, period.Year, int(period.Month))
}

func (c *conn) oneReport(ctx context.Context, query string, args ...any) (*report.Report, error) {
	reports, err := c.queryReports(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

func (c *conn) ListReports(ctx context.Context, f report.Filter) ([]report.Report, error) {
	var (
		where []string
		args  []any
	)
	if f.ChurchID != "" {
		where = append(where, "church_id = ?")
		args = append(args, f.ChurchID)
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		where = append(where, "month = ?")
		args = append(args, f.Month)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY year DESC, month DESC, church_id ASC`
	return c.queryReports(ctx, query, args...)
}

// ClaimGeneration is a compare-and-set on transactions_generated.
func (c *conn) ClaimGeneration(ctx context.Context, id treasury.ReportID, actor string, at time.Time) (bool, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE reports
		SET transactions_generated = 1, generated_at = ?, generated_by = ?, updated_at = ?
		WHERE id = ? AND transactions_generated = 0`,
		formatTime(at), actor, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim generation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim generation: %w", err)
	}
	return n == 1, nil
}

// ReleaseGeneration undoes a claim, putting back the actor that generated
// the entries still in the ledger.
func (c *conn) ReleaseGeneration(ctx context.Context, id treasury.ReportID, previousActor string) error {
	_, err := c.q.ExecContext(ctx, `
		UPDATE reports SET transactions_generated = 0, generated_at = NULL, generated_by = ?
		WHERE id = ?`, nullString(previousActor), id)
	if err != nil {
		return fmt.Errorf("failed to release generation: %w", err)
	}
	return nil
}

func (c *conn) queryReports(ctx context.Context, query string, args ...any) ([]report.Report, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []report.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(rows *sql.Rows) (report.Report, error) {
	var (
		r               report.Report
		month           int
		inputsJSON      string
		totalsJSON      string
		depositDate     sql.NullString
		depositAmount   string
		depositPhoto    sql.NullString
		observations    sql.NullString
		status          string
		submittedBy     sql.NullString
		submittedAt     sql.NullString
		approvedBy      sql.NullString
		approvedAt      sql.NullString
		rejectedBy      sql.NullString
		rejectedAt      sql.NullString
		rejectionReason sql.NullString
		generatedAt     sql.NullString
		generatedBy     sql.NullString
		createdAt       string
		updatedAt       string
	)

	err := rows.Scan(
		&r.ID, &r.ChurchID, &r.Period.Year, &month, &inputsJSON, &totalsJSON,
		&depositDate, &depositAmount, &depositPhoto, &r.Attendance, &r.Baptisms, &observations,
		&status, &submittedBy, &submittedAt, &approvedBy, &approvedAt,
		&rejectedBy, &rejectedAt, &rejectionReason,
		&r.TransactionsGenerated, &generatedAt, &generatedBy,
		&r.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan report: %w", err)
	}

	r.Period.Month = time.Month(month)
	if err := json.Unmarshal([]byte(inputsJSON), &r.Inputs); err != nil {
		return r, fmt.Errorf("failed to decode report inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(totalsJSON), &r.Totals); err != nil {
		return r, fmt.Errorf("failed to decode report totals: %w", err)
	}
	r.Deposit.Date = parseNullTime(depositDate)
	if r.Deposit.Amount, err = parseDecimal(depositAmount); err != nil {
		return r, err
	}
	r.Deposit.PhotoRef = depositPhoto.String
	r.Observations = observations.String
	r.Status = report.Status(status)
	r.SubmittedBy = submittedBy.String
	r.SubmittedAt = parseNullTime(submittedAt)
	r.ApprovedBy = approvedBy.String
	r.ApprovedAt = parseNullTime(approvedAt)
	r.RejectedBy = rejectedBy.String
	r.RejectedAt = parseNullTime(rejectedAt)
	r.RejectionReason = rejectionReason.String
	r.GeneratedAt = parseNullTime(generatedAt)
	r.GeneratedBy = generatedBy.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// MONTHLY LEDGERS
// =============================================================================

const ledgerColumns = `id, church_id, year, month, opening_balance, total_income, total_expenses,
	closing_balance, status, notes, closed_by, closed_at, reconciled_by, reconciled_at,
	created_by, created_at, updated_at`

func ledgerArgs(l closing.MonthlyLedger) []any {
	return []any{
		l.ID, l.ChurchID, l.Period.Year, int(l.Period.Month),
		l.OpeningBalance.String(), l.TotalIncome.String(), l.TotalExpenses.String(),
		l.ClosingBalance.String(), string(l.Status), nullString(l.Notes),
		nullString(l.ClosedBy), nullTime(l.ClosedAt),
		nullString(l.ReconciledBy), nullTime(l.ReconciledAt),
		l.CreatedBy, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	}
}

func (c *conn) InsertLedger(ctx context.Context, l closing.MonthlyLedger) error {
	query := `INSERT INTO monthly_ledgers (` + ledgerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := c.q.ExecContext(ctx, query, ledgerArgs(l)...); err != nil {
		if isUniqueConstraintError(err) {
			return treasury.Conflict("Ya existe un libro para %s", l.Period.Label())
		}
		return fmt.Errorf("failed to insert monthly ledger: %w", err)
	}
	return nil
}

func (c *conn) UpdateLedger(ctx context.Context, l closing.MonthlyLedger) error {
	query := `
		UPDATE monthly_ledgers SET
			church_id = ?, year = ?, month = ?, opening_balance = ?, total_income = ?,
			total_expenses = ?, closing_balance = ?, status = ?, notes = ?,
			closed_by = ?, closed_at = ?, reconciled_by = ?, reconciled_at = ?,
			created_by = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`
	args := append(ledgerArgs(l)[1:], l.ID)
	if _, err := c.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update monthly ledger: %w", err)
	}
	return nil
}

func (c *conn) GetLedger(ctx context.Context, id closing.LedgerID) (*closing.MonthlyLedger, error) {
	return c.oneLedger(ctx, `SELECT `+ledgerColumns+` FROM monthly_ledgers WHERE id = ?`, id)
}

func (c *conn) FindLedger(ctx context.Context, church treasury.ChurchID, period treasury.Period) (*closing.MonthlyLedger, error) {
	return c.oneLedger(ctx,
		`SELECT `+ledgerColumns+` FROM monthly_ledgers WHERE church_id = ? AND year = ? AND month = ?`,
		church, period.Year, int(period.Month))
}

func (c *conn) LatestLedgerBefore(ctx context.Context, church treasury.ChurchID, period treasury.Period) (*closing.MonthlyLedger, error) {
	return c.oneLedger(ctx, `
		SELECT `+ledgerColumns+` FROM monthly_ledgers
		WHERE church_id = ? AND (year < ? OR (year = ? AND month < ?))
		ORDER BY year DESC, month DESC
		LIMIT 1`,
		church, period.Year, period.Year, int(period.Month))
}

func (c *conn) ListLedgers(ctx context.Context, church treasury.ChurchID) ([]closing.MonthlyLedger, error) {
	if church == "" {
		return c.queryLedgers(ctx,
			`SELECT `+ledgerColumns+` FROM monthly_ledgers ORDER BY church_id ASC, year ASC, month ASC`)
	}
	return c.queryLedgers(ctx,
		`SELECT `+ledgerColumns+` FROM monthly_ledgers WHERE church_id = ? ORDER BY year ASC, month ASC`,
		church)
}

func (c *conn) oneLedger(ctx context.Context, query string, args ...any) (*closing.MonthlyLedger, error) {
	ledgers, err := c.queryLedgers(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(ledgers) == 0 {
		return nil, nil
	}
	return &ledgers[0], nil
}

func (c *conn) queryLedgers(ctx context.Context, query string, args ...any) ([]closing.MonthlyLedger, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly ledgers: %w", err)
	}
	defer rows.Close()

	ledgers := []closing.MonthlyLedger{}
	for rows.Next() {
		var (
			l            closing.MonthlyLedger
			month        int
			opening      string
			income       string
			expenses     string
			closingBal   string
			status       string
			notes        sql.NullString
			closedBy     sql.NullString
			closedAt     sql.NullString
			reconciledBy sql.NullString
			reconciledAt sql.NullString
			createdAt    string
			updatedAt    string
		)
		err := rows.Scan(
			&l.ID, &l.ChurchID, &l.Period.Year, &month, &opening, &income, &expenses,
			&closingBal, &status, &notes, &closedBy, &closedAt, &reconciledBy, &reconciledAt,
			&l.CreatedBy, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monthly ledger: %w", err)
		}
		l.Period.Month = time.Month(month)
		for _, p := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&l.OpeningBalance, opening},
			{&l.TotalIncome, income},
			{&l.TotalExpenses, expenses},
			{&l.ClosingBalance, closingBal},
		} {
			if *p.dst, err = parseDecimal(p.src); err != nil {
				return nil, err
			}
		}
		l.Status = closing.Status(status)
		l.Notes = notes.String
		l.ClosedBy = closedBy.String
		l.ClosedAt = parseNullTime(closedAt)
		l.ReconciledBy = reconciledBy.String
		l.ReconciledAt = parseNullTime(reconciledAt)
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updatedAt)
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

// =============================================================================
// ACCOUNTING ENTRIES
// =============================================================================

func (c *conn) InsertEntry(ctx context.Context, e closing.Entry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO accounting_entries
		(id, church_id, date, kind, account, description, debit, credit, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChurchID, formatTime(e.Date), string(e.Kind), e.Account, nullString(e.Description),
		e.Debit.String(), e.Credit.String(), e.CreatedBy, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert accounting entry: %w", err)
	}
	return nil
}

func (c *conn) ListEntries(ctx context.Context, church treasury.ChurchID, period treasury.Period) ([]closing.Entry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, church_id, date, kind, account, description, debit, credit, created_by, created_at
		FROM accounting_entries
		WHERE church_id = ? AND date >= ? AND date < ?
		ORDER BY date ASC, created_at ASC`,
		church, formatTime(period.Start()), formatTime(period.Next().Start()))
	if err != nil {
		return nil, fmt.Errorf("failed to query accounting entries: %w", err)
	}
	defer rows.Close()

	entries := []closing.Entry{}
	for rows.Next() {
		var (
			e           closing.Entry
			date        string
			kind        string
			description sql.NullString
			debit       string
			credit      string
			createdAt   string
		)
		err := rows.Scan(&e.ID, &e.ChurchID, &date, &kind, &e.Account, &description,
			&debit, &credit, &e.CreatedBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan accounting entry: %w", err)
		}
		e.Date = parseTime(date)
		e.Kind = closing.EntryKind(kind)
		e.Description = description.String
		if e.Debit, err = parseDecimal(debit); err != nil {
			return nil, err
		}
		if e.Credit, err = parseDecimal(credit); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

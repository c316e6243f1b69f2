// Package store provides an in-memory treasury.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	funds        map[treasury.FundID]treasury.Fund
	transactions map[treasury.TransactionID]treasury.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		funds:        make(map[treasury.FundID]treasury.Fund),
		transactions: make(map[treasury.TransactionID]treasury.Transaction),
	}
}

// =============================================================================
// FUNDS
// =============================================================================

func (m *Memory) GetFund(_ context.Context, id treasury.FundID) (*treasury.Fund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getFundLocked(id), nil
}

func (m *Memory) getFundLocked(id treasury.FundID) *treasury.Fund {
	f, ok := m.funds[id]
	if !ok {
		return nil
	}
	return &f
}

func (m *Memory) FindFundByName(_ context.Context, name string) (*treasury.Fund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findFundLocked(name), nil
}

func (m *Memory) findFundLocked(name string) *treasury.Fund {
	for _, f := range m.funds {
		if f.Name == name {
			f := f
			return &f
		}
	}
	return nil
}

func (m *Memory) ListFunds(_ context.Context) ([]treasury.Fund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listFundsLocked(), nil
}

func (m *Memory) listFundsLocked() []treasury.Fund {
	result := make([]treasury.Fund, 0, len(m.funds))
	for _, f := range m.funds {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *Memory) SaveFund(_ context.Context, f treasury.Fund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[f.ID] = f
	return nil
}

func (m *Memory) DeleteFund(_ context.Context, id treasury.FundID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.funds, id)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) InsertTransaction(_ context.Context, tx treasury.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id treasury.TransactionID) (*treasury.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id), nil
}

func (m *Memory) getTransactionLocked(id treasury.TransactionID) *treasury.Transaction {
	tx, ok := m.transactions[id]
	if !ok {
		return nil
	}
	return &tx
}

func (m *Memory) UpdateTransaction(_ context.Context, tx treasury.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id treasury.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transactions, id)
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, filter treasury.TransactionFilter) ([]treasury.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(filter), nil
}

func (m *Memory) listTransactionsLocked(filter treasury.TransactionFilter) []treasury.Transaction {
	var result []treasury.Transaction
	for _, tx := range m.transactions {
		if matches(tx, filter) {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func matches(tx treasury.Transaction, f treasury.TransactionFilter) bool {
	if f.FundID != "" && tx.FundID != f.FundID {
		return false
	}
	if f.ChurchID != "" && tx.ChurchID != f.ChurchID {
		return false
	}
	if f.NationalOnly && tx.ChurchID != "" {
		return false
	}
	if f.ReportID != "" && tx.ReportID != f.ReportID {
		return false
	}
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && !tx.Date.Before(*f.To) {
		return false
	}
	return true
}

func (m *Memory) CountTransactions(_ context.Context, fundID treasury.FundID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listTransactionsLocked(treasury.TransactionFilter{FundID: fundID})), nil
}

// =============================================================================
// TRANSACTIONS (atomic)
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(treasury.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	funds        map[treasury.FundID]treasury.Fund
	transactions map[treasury.TransactionID]treasury.Transaction
}

func (m *Memory) snapshot() memorySnapshot {
	funds := make(map[treasury.FundID]treasury.Fund, len(m.funds))
	for k, v := range m.funds {
		funds[k] = v
	}
	txs := make(map[treasury.TransactionID]treasury.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txs[k] = v
	}
	return memorySnapshot{funds: funds, transactions: txs}
}

func (m *Memory) restore(s memorySnapshot) {
	m.funds = s.funds
	m.transactions = s.transactions
}

// txView operates on the parent's maps while the parent lock is held.
type txView struct {
	parent *Memory
}

func (v *txView) GetFund(_ context.Context, id treasury.FundID) (*treasury.Fund, error) {
	return v.parent.getFundLocked(id), nil
}

func (v *txView) FindFundByName(_ context.Context, name string) (*treasury.Fund, error) {
	return v.parent.findFundLocked(name), nil
}

func (v *txView) ListFunds(_ context.Context) ([]treasury.Fund, error) {
	return v.parent.listFundsLocked(), nil
}

func (v *txView) SaveFund(_ context.Context, f treasury.Fund) error {
	v.parent.funds[f.ID] = f
	return nil
}

func (v *txView) DeleteFund(_ context.Context, id treasury.FundID) error {
	delete(v.parent.funds, id)
	return nil
}

func (v *txView) InsertTransaction(_ context.Context, tx treasury.Transaction) error {
	v.parent.transactions[tx.ID] = tx
	return nil
}

func (v *txView) GetTransaction(_ context.Context, id treasury.TransactionID) (*treasury.Transaction, error) {
	return v.parent.getTransactionLocked(id), nil
}

func (v *txView) UpdateTransaction(_ context.Context, tx treasury.Transaction) error {
	v.parent.transactions[tx.ID] = tx
	return nil
}

func (v *txView) DeleteTransaction(_ context.Context, id treasury.TransactionID) error {
	delete(v.parent.transactions, id)
	return nil
}

func (v *txView) ListTransactions(_ context.Context, filter treasury.TransactionFilter) ([]treasury.Transaction, error) {
	return v.parent.listTransactionsLocked(filter), nil
}

func (v *txView) CountTransactions(_ context.Context, fundID treasury.FundID) (int, error) {
	return len(v.parent.listTransactionsLocked(treasury.TransactionFilter{FundID: fundID})), nil
}

// WithTx joins the enclosing transaction.
func (v *txView) WithTx(_ context.Context, fn func(treasury.Store) error) error {
	return fn(v)
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/shared"
)

// Memory is an in-process Repository with the same unique constraints as the
// PostgreSQL schema. It backs tests and the offline tooling.
type Memory struct {
	mu           sync.RWMutex
	transactions []conto.Transaction
	unreconciled []conto.UnreconciledEntry
	imports      []conto.ImportRecord

	txKeys     map[string]struct{}
	unrecKeys  map[string]struct{}
	importKeys map[string]struct{}
}

// NewMemory returns an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		txKeys:     map[string]struct{}{},
		unrecKeys:  map[string]struct{}{},
		importKeys: map[string]struct{}{},
	}
}

func joinKey(parts ...string) string { return strings.Join(parts, "\x00") }

func (m *Memory) InsertTransaction(_ context.Context, tx conto.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ImportKey != "" {
		k := joinKey(string(tx.Account), tx.ImportKey, tx.Category)
		if _, dup := m.txKeys[k]; dup {
			return ErrDuplicateKey
		}
		m.txKeys[k] = struct{}{}
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) InsertUnreconciled(_ context.Context, e conto.UnreconciledEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ImportKey != "" {
		k := joinKey(string(e.Account), e.ImportKey)
		if _, dup := m.unrecKeys[k]; dup {
			return ErrDuplicateKey
		}
		m.unrecKeys[k] = struct{}{}
	}
	m.unreconciled = append(m.unreconciled, e)
	return nil
}

func (m *Memory) InsertImport(_ context.Context, rec conto.ImportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := joinKey(string(rec.Account), rec.FileHash)
	if _, dup := m.importKeys[k]; dup {
		return conto.ErrAlreadyImported
	}
	m.importKeys[k] = struct{}{}
	m.imports = append(m.imports, rec)
	return nil
}

func (m *Memory) FindImport(_ context.Context, account conto.Account, fileHash string) (conto.ImportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.imports {
		if rec.Account == account && rec.FileHash == fileHash {
			return rec, nil
		}
	}
	return conto.ImportRecord{}, shared.ErrNotFound
}

func (m *Memory) ExistingKeys(_ context.Context, account conto.Account, keys []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := map[string]struct{}{}
	for _, t := range m.transactions {
		if _, ok := want[t.ImportKey]; ok && t.Account == account {
			out[t.ImportKey] = struct{}{}
		}
	}
	for _, e := range m.unreconciled {
		if _, ok := want[e.ImportKey]; ok && e.Account == account {
			out[e.ImportKey] = struct{}{}
		}
	}
	return out, nil
}

func matchesText(q string, fields ...string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func (m *Memory) visibleTransactions(f Filter) []conto.Transaction {
	var out []conto.Transaction
	for _, t := range m.transactions {
		if t.Account != f.Account || !f.Scope.Allows(t.CompanyID, t.OwnerUserID) {
			continue
		}
		if f.From != nil && t.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && t.Date.After(*f.To) {
			continue
		}
		if !matchesText(f.Query, t.Description, t.CompanyName) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (m *Memory) visibleUnreconciled(f Filter) []conto.UnreconciledEntry {
	var out []conto.UnreconciledEntry
	for _, e := range m.unreconciled {
		if e.Account != f.Account || !f.Scope.Allows(e.CompanyID, e.OwnerUserID) {
			continue
		}
		if f.From != nil && e.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Date.After(*f.To) {
			continue
		}
		if !matchesText(f.Query, e.CompanyName, e.RegistrationNumber) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func (m *Memory) ListTransactions(_ context.Context, f Filter, limit, offset int) ([]conto.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.visibleTransactions(f)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.After(rows[j].Date)
		}
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].Category < rows[j].Category
	})
	return page(rows, limit, offset), len(rows), nil
}

func (m *Memory) EventRows(_ context.Context, f Filter) ([]conto.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []conto.Transaction
	for _, t := range m.visibleTransactions(f) {
		if t.ImportKey != "" {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ImportKey != out[j].ImportKey {
			return out[i].ImportKey < out[j].ImportKey
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (m *Memory) ListUnreconciled(_ context.Context, f Filter, limit, offset int) ([]conto.UnreconciledEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.visibleUnreconciled(f)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.After(rows[j].Date)
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return page(rows, limit, offset), len(rows), nil
}

func (m *Memory) ListImports(_ context.Context, account conto.Account, uploadedBy *uuid.UUID, limit, offset int) ([]conto.ImportRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []conto.ImportRecord
	for _, rec := range m.imports {
		if rec.Account != account {
			continue
		}
		if uploadedBy != nil && rec.UploadedBy != *uploadedBy {
			continue
		}
		rows = append(rows, rec)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].UploadedAt.After(rows[j].UploadedAt) })
	return page(rows, limit, offset), len(rows), nil
}

func (m *Memory) Totals(_ context.Context, f Filter) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var t Totals
	for _, tx := range m.visibleTransactions(f) {
		t.TransactionCount++
		if tx.Direction == conto.DirectionOut {
			t.Outgoing = t.Outgoing.Add(tx.Amount)
		} else {
			t.Incoming = t.Incoming.Add(tx.Amount)
		}
	}
	for _, e := range m.visibleUnreconciled(f) {
		t.UnreconciledCount++
		t.Unreconciled = t.Unreconciled.Add(e.Amount)
	}
	return t, nil
}

var _ Repository = (*Memory)(nil)

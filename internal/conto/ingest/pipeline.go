package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/dedup"
	"github.com/fiacom/gestionale/internal/conto/scope"
	"github.com/fiacom/gestionale/internal/conto/sheet"
	"github.com/fiacom/gestionale/internal/conto/split"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/shared"
)

// Stage is the last pipeline step a row completed.
type Stage string

const (
	StageParsed          Stage = "parsed"
	StageValidated       Stage = "row-validated"
	StageCompanyResolved Stage = "company-resolved"
	StagePartiesResolved Stage = "parties-resolved"
	StageSplitComputed   Stage = "split-computed"
	StageDuplicateCheck  Stage = "duplicate-checked"
)

// RowStatus is the outcome of a row.
type RowStatus string

const (
	RowOK            RowStatus = "ok"
	RowError         RowStatus = "error"
	RowDuplicateFile RowStatus = "duplicate-in-file"
	RowDuplicate     RowStatus = "duplicate"
)

// Party is a resolved manager or job center.
type Party struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Percentage float64          `json:"percentage"`
	Resolution scope.Resolution `json:"resolution"`
}

// Row is the preview of one spreadsheet row.
type Row struct {
	Row          int              `json:"row"`
	Stage        Stage            `json:"stage"`
	Status       RowStatus        `json:"status"`
	Record       sheet.Record     `json:"record"`
	ImportKey    string           `json:"importKey,omitempty"`
	CompanyID    *uuid.UUID       `json:"companyId,omitempty"`
	CompanyName  string           `json:"companyName,omitempty"`
	Manager      *Party           `json:"manager,omitempty"`
	JobCenter    *Party           `json:"jobCenter,omitempty"`
	Split        *split.Shares    `json:"split,omitempty"`
	Unreconciled *decimal.Decimal `json:"unreconciledAmount,omitempty"`
	DuplicateOf  int              `json:"duplicateOfRow,omitempty"`
	Error        *conto.RowError  `json:"error,omitempty"`

	company directory.Company
	manager directory.User
	center  *directory.JobCenter
}

// Upload is one spreadsheet submitted for an account.
type Upload struct {
	Account           conto.Account
	FileName          string
	Data              []byte
	Actor             shared.Identity
	ConfirmDuplicates bool
}

// Preview is the full analysis of an upload.
type Preview struct {
	Account         conto.Account       `json:"account"`
	FileName        string              `json:"fileName"`
	FileHash        string              `json:"fileHash"`
	TotalRows       int                 `json:"totalRows"`
	ValidRows       int                 `json:"validRows"`
	ErrorRows       int                 `json:"errorRows"`
	DuplicateRows   int                 `json:"duplicateRows"`
	AlreadyImported bool                `json:"alreadyImported"`
	PreviousImport  *conto.ImportRecord `json:"previousImport,omitempty"`
	Rows            []Row               `json:"rows"`
	Errors          []conto.RowError    `json:"errors"`
}

// Duplicates returns the rows already persisted by an earlier upload.
func (p *Preview) Duplicates() []Row {
	var out []Row
	for _, r := range p.Rows {
		if r.Status == RowDuplicate {
			out = append(out, r)
		}
	}
	return out
}

// Preview runs every validation and resolution step without writing.
func (s *Service) Preview(ctx context.Context, up Upload) (*Preview, error) {
	if err := s.authorize(up.Actor, up.Account); err != nil {
		return nil, err
	}
	p, _, err := s.analyze(ctx, up)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) analyze(ctx context.Context, up Upload) (*Preview, *directory.Snapshot, error) {
	grid, err := sheet.Read(up.FileName, up.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", conto.ErrUnreadableFile, err)
	}
	parsed, err := sheet.Normalize(grid)
	if errors.Is(err, sheet.ErrNoDataRows) {
		return nil, nil, conto.ErrNoDataRows
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", conto.ErrUnreadableFile, err)
	}
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: load directory: %w", err)
	}

	p := &Preview{
		Account:   up.Account,
		FileName:  up.FileName,
		FileHash:  dedup.FileHash(up.Data),
		TotalRows: len(parsed.Records),
		Rows:      make([]Row, 0, len(parsed.Records)),
		Errors:    []conto.RowError{},
	}
	tracker := dedup.NewTracker()
	for _, rec := range parsed.Records {
		row := s.analyzeRow(snap, up.Account, rec)
		if row.Status == RowOK {
			if first, dup := tracker.Observe(row.ImportKey, row.Row); dup {
				row.Status = RowDuplicateFile
				row.DuplicateOf = first
				row.fail("", conto.CodeDuplicateInFile, fmt.Sprintf("same event as row %d", first))
			}
		}
		p.Rows = append(p.Rows, row)
	}

	existing, err := s.store.ExistingKeys(ctx, up.Account, tracker.Keys())
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: existing keys: %w", err)
	}
	for i := range p.Rows {
		row := &p.Rows[i]
		if row.Status == RowOK {
			row.Stage = StageDuplicateCheck
			if _, dup := existing[row.ImportKey]; dup {
				row.Status = RowDuplicate
			}
		}
		switch row.Status {
		case RowOK:
			p.ValidRows++
		case RowDuplicate:
			p.DuplicateRows++
		default:
			p.ErrorRows++
			p.Errors = append(p.Errors, *row.Error)
		}
	}

	prev, err := s.store.FindImport(ctx, up.Account, p.FileHash)
	switch {
	case err == nil:
		p.AlreadyImported = true
		p.PreviousImport = &prev
	case !errors.Is(err, shared.ErrNotFound):
		return nil, nil, fmt.Errorf("ingest: find import: %w", err)
	}

	s.logger.Debug("upload analysed",
		slog.String("account", string(up.Account)),
		slog.String("file", up.FileName),
		slog.Int("rows", p.TotalRows),
		slog.Int("valid", p.ValidRows),
		slog.Int("errors", p.ErrorRows),
		slog.Int("duplicates", p.DuplicateRows),
	)
	return p, snap, nil
}

func (r *Row) fail(field, code, msg string) {
	r.Status = RowError
	if code == conto.CodeDuplicateInFile {
		r.Status = RowDuplicateFile
	}
	r.Error = &conto.RowError{Row: r.Row, Field: field, Code: code, Message: msg}
}

func positive(v *float64) bool { return v != nil && *v > 0 }

// analyzeRow walks one record through validation, resolution and split.
func (s *Service) analyzeRow(snap *directory.Snapshot, account conto.Account, rec sheet.Record) Row {
	row := Row{Row: rec.Row, Stage: StageParsed, Status: RowOK, Record: rec}

	if rec.RegistrationNumber == "" && rec.CompanyName == "" {
		row.fail(string(sheet.FieldCompanyName), conto.CodeMissingCompany, "registration number or company name required")
		return row
	}
	switch {
	case positive(rec.Base) || positive(rec.Unreconciled):
	case rec.Base == nil && rec.Unreconciled == nil:
		row.fail(string(sheet.FieldBase), conto.CodeMissingAmount, "base amount or unreconciled amount required")
		return row
	default:
		row.fail(string(sheet.FieldBase), conto.CodeInvalidAmount, "amounts must be positive")
		return row
	}
	row.Stage = StageValidated
	row.ImportKey = dedup.KeyForRecord(account, rec)

	company, err := scope.ResolveCompany(snap, rec.RegistrationNumber, rec.CompanyName)
	switch {
	case errors.Is(err, scope.ErrCompanyAmbiguous):
		row.fail(string(sheet.FieldCompanyName), conto.CodeCompanyAmbiguous, err.Error())
		return row
	case err != nil:
		row.fail(string(sheet.FieldCompanyName), conto.CodeCompanyNotFound, err.Error())
		return row
	}
	row.Stage = StageCompanyResolved
	row.company = company
	cid := company.ID
	row.CompanyID = &cid
	row.CompanyName = company.Name

	manager, mres, err := scope.ResolveManager(snap, company)
	if err != nil {
		row.fail("", conto.CodeManagerUnresolved, err.Error())
		return row
	}
	row.manager = manager
	row.Manager = &Party{ID: manager.ID, Name: managerLabel(manager), Percentage: split.ClampPercentage(manager.ProfitSharePct), Resolution: mres}

	hasBase := positive(rec.Base)
	center, cres, err := scope.ResolveJobCenter(snap, company)
	switch {
	case err != nil && hasBase:
		row.fail("", conto.CodeJobCenterUnresolved, err.Error())
		return row
	case err == nil && center != nil:
		row.center = center
		row.JobCenter = &Party{ID: center.ID, Name: center.DisplayName(), Percentage: split.ClampPercentage(center.CommissionPct), Resolution: cres}
	}
	row.Stage = StagePartiesResolved

	if hasBase {
		var centerPct *float64
		if center != nil {
			centerPct = center.CommissionPct
		}
		shares, err := split.Compute(decimal.NewFromFloat(*rec.Base), manager.ProfitSharePct, centerPct)
		if err != nil {
			row.fail(string(sheet.FieldBase), conto.CodeInvalidAmount, err.Error())
			return row
		}
		row.Split = &shares
	}
	if positive(rec.Unreconciled) {
		amount := split.Round2(decimal.NewFromFloat(*rec.Unreconciled))
		row.Unreconciled = &amount
	}
	row.Stage = StageSplitComputed
	return row
}

func managerLabel(u directory.User) string {
	if u.Organization != "" {
		return u.Organization
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

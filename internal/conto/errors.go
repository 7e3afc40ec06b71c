package conto

import "fmt"

// Row error codes. Input and resolution errors are reported per row and
// never abort the batch.
const (
	CodeMissingCompany      = "missing_company"
	CodeMissingAmount       = "missing_amount"
	CodeInvalidAmount       = "invalid_amount"
	CodeCompanyNotFound     = "company_not_found"
	CodeCompanyAmbiguous    = "company_ambiguous"
	CodeManagerUnresolved   = "manager_unresolved"
	CodeJobCenterUnresolved = "job_center_unresolved"
	CodeDuplicateInFile     = "duplicate_in_file"
	CodeDuplicate           = "duplicate"
	CodePersistence         = "persistence_failed"
)

// RowError describes why one spreadsheet row was excluded.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d, %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

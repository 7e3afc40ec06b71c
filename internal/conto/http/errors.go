package http

import (
	"errors"
	"net/http"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/platform/httpx"
)

var statusByError = []struct {
	err    error
	status int
	title  string
}{
	{conto.ErrInvalidAccount, http.StatusBadRequest, "Invalid Account"},
	{conto.ErrInvalidRequest, http.StatusBadRequest, "Invalid Request"},
	{conto.ErrUnreadableFile, http.StatusBadRequest, "Unreadable Spreadsheet"},
	{conto.ErrNoDataRows, http.StatusBadRequest, "Empty Spreadsheet"},
	{conto.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{conto.ErrAlreadyImported, http.StatusConflict, "Already Imported"},
	{conto.ErrManagerNotFound, http.StatusUnprocessableEntity, "Manager Not Found"},
	{conto.ErrJobCenterMissing, http.StatusUnprocessableEntity, "Job Center Not Found"},
}

func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return httpx.StatusFor(err)
}

func respondError(w http.ResponseWriter, err error) {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			httpx.Problem(w, m.status, m.title, err.Error())
			return
		}
	}
	httpx.RespondError(w, err)
}

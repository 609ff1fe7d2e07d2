package mysql

import (
	"encoding/json"
	"strings"

	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// resultsJSON serializes the results sequence for the JSON column; kolom
// tidak boleh NULL, jadi slice kosong jadi "[]".
func resultsJSON(results []domain.Result) (string, error) {
	if len(results) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// escapeLikePattern escapes special characters in LIKE patterns to prevent SQL injection
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

package patrol

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
)

// exportReport menulis seluruh hasil sesi ke CSV lokal lalu upload ke report
// store. File lokal dibersihkan oleh store setelah upload.
func (s *Service) exportReport(ctx context.Context, sess *domain.Session) (string, error) {
	path, err := writeReportCSV(sess)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s/%s/report-%s.csv", sess.TenantID, sess.Kind, sess.ID)
	url, err := s.Reports.UploadAndCleanup(ctx, path, key)
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return url, nil
}

func writeReportCSV(sess *domain.Session) (string, error) {
	f, err := os.CreateTemp("", "patrol-report-*.csv")
	if err != nil {
		return "", err
	}
	defer f.Close()

	// BOM supaya Excel membaca UTF-8 dengan benar
	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return "", err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"name", "risk", "critical", "reason", "detail_url", "source", "checked_at"}); err != nil {
		return "", err
	}
	checkedAt := sess.UpdatedAt.Format("2006-01-02 15:04:05")
	for _, r := range sess.Results {
		rec := []string{
			r.Item.Name,
			string(r.Verdict.RiskLevel),
			strconv.FormatBool(r.Verdict.IsCritical),
			r.Verdict.Reason,
			r.Item.DetailURL,
			r.Item.SourceRef,
			checkedAt,
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

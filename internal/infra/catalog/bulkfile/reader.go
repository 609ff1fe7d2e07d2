package bulkfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
)

// Options untuk loader bulk file.
type Options struct {
	// Encoding: shift-jis (default, ekspor tool EC Jepang biasanya ini),
	// utf-8, atau euc-jp.
	Encoding string
	// NameColumn: nama kolom header yang memuat nama produk. Kosong = deteksi
	// otomatis (header yang mengandung 商品名 atau "name").
	NameColumn string
}

// Skipped mencatat satu file yang dilewati karena gagal dibaca/diparse.
type Skipped struct {
	Name    string
	Message string
}

// Source is a materialized ItemSource: the whole parsed row set is one very
// large page that the batch scheduler slices. Tidak ada pagination maupun
// resume; run file selalu all-or-nothing.
type Source struct {
	items []catalog.Item
}

// Load parses delimited text files into one Source. Baris pertama tiap file
// adalah header. Satu file yang rusak di-skip dan dilaporkan; file lain di
// run yang sama tetap diproses.
func Load(paths []string, opts Options) (*Source, []Skipped, error) {
	dec, err := decoderFor(opts.Encoding)
	if err != nil {
		return nil, nil, err
	}

	src := &Source{}
	var skipped []Skipped
	for _, path := range paths {
		items, err := loadOne(path, dec, opts.NameColumn)
		if err != nil {
			skipped = append(skipped, Skipped{Name: filepath.Base(path), Message: err.Error()})
			continue
		}
		src.items = append(src.items, items...)
	}
	if len(src.items) == 0 && len(skipped) == len(paths) && len(paths) > 0 {
		return nil, skipped, fmt.Errorf("no readable files among %d given", len(paths))
	}
	return src, skipped, nil
}

func loadOne(path string, dec *encoding.Decoder, nameColumn string) ([]catalog.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(transform.NewReader(f, dec))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	nameIdx, err := findNameColumn(header, nameColumn)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	var items []catalog.Item
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", base, err)
		}
		name := ""
		if nameIdx < len(row) {
			name = strings.TrimSpace(row[nameIdx])
		}
		// baris tanpa nama tetap ikut; scheduler memberi verdict lokal tanpa
		// memanggil classifier
		items = append(items, catalog.Item{Name: name, SourceRef: base})
	}
	return items, nil
}

func findNameColumn(header []string, want string) (int, error) {
	if want != "" {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("column %q not found in header", want)
	}
	for i, h := range header {
		if strings.Contains(h, "商品名") || strings.Contains(strings.ToLower(h), "name") {
			return i, nil
		}
	}
	// fallback: kolom pertama
	return 0, nil
}

func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "shift-jis", "shift_jis", "sjis":
		return japanese.ShiftJIS.NewDecoder(), nil
	case "utf-8", "utf8":
		return unicode.UTF8.NewDecoder(), nil
	case "euc-jp", "eucjp":
		return japanese.EUCJP.NewDecoder(), nil
	}
	return nil, fmt.Errorf("unsupported encoding: %s", name)
}

// Len reports how many rows were materialized.
func (s *Source) Len() int { return len(s.items) }

// NextPage implements catalog.ItemSource: seluruh row set sebagai satu
// halaman, HasMore selalu false.
func (s *Source) NextPage(_ context.Context, cursor int) (catalog.Page, error) {
	if cursor > 1 {
		return catalog.Page{}, nil
	}
	return catalog.Page{Items: s.items, HasMore: false}, nil
}

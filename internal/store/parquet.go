package store

import (
	"os"

	"github.com/parquet-go/parquet-go"

	"marketpulse/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore with one Parquet file per symbol at
// <dir>/<symbol>.parquet.
type ParquetStore struct {
	seriesFiles
}

// NewParquetStore creates a new ParquetStore rooted at the given directory.
func NewParquetStore(dir string) *ParquetStore {
	return &ParquetStore{seriesFiles{dir: dir, codec: parquetCodec{}}}
}

// BarRecord is the Parquet schema for a daily bar.
type BarRecord struct {
	Date   string  `parquet:"date"`
	Adj    float64 `parquet:"adj"`
	Volume int64   `parquet:"vol"`
}

type parquetCodec struct{}

func (parquetCodec) ext() string { return ".parquet" }

func (parquetCodec) read(path string) (domain.Series, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, err
	}
	series := make(domain.Series, len(records))
	for i, r := range records {
		series[i] = domain.Bar{Date: r.Date, Adj: r.Adj, Volume: r.Volume}
	}
	return Dedup(series), nil
}

func (parquetCodec) write(path string, s domain.Series) error {
	return WriteParquet(path, s)
}

// WriteParquet atomically writes s to path as BarRecord rows.
func WriteParquet(path string, s domain.Series) error {
	records := make([]BarRecord, len(s))
	for i, b := range s {
		records[i] = BarRecord{Date: b.Date, Adj: b.Adj, Volume: b.Volume}
	}
	return writeAtomic(path, func(f *os.File) error {
		return parquet.Write(f, records)
	})
}

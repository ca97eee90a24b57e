package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"marketpulse/internal/domain"
)

// seriesCodec reads and writes one symbol's series in a file format.
type seriesCodec interface {
	ext() string
	read(path string) (domain.Series, error)
	write(path string, s domain.Series) error
}

// seriesFiles implements BarStore on one file per symbol under dir. The
// codec decides the on-disk format.
type seriesFiles struct {
	dir   string
	codec seriesCodec
	locks sync.Map // symbol -> *sync.Mutex
}

func (s *seriesFiles) lock(symbol string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(symbol, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// path returns <dir>/<symbol><ext>; path separators in symbols are replaced.
func (s *seriesFiles) path(symbol string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(symbol)
	return filepath.Join(s.dir, name+s.codec.ext())
}

// Load returns the stored series, or an empty series if the file is absent.
func (s *seriesFiles) Load(_ context.Context, symbol string) (domain.Series, error) {
	mu := s.lock(symbol)
	mu.Lock()
	defer mu.Unlock()
	return s.load(symbol)
}

func (s *seriesFiles) load(symbol string) (domain.Series, error) {
	series, err := s.codec.read(s.path(symbol))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w: %w", symbol, domain.ErrPersistence, err)
	}
	return series, nil
}

// Merge dedups stored+incoming and persists the result. Read and write
// failures wrap domain.ErrPersistence.
func (s *seriesFiles) Merge(_ context.Context, symbol string, bars []domain.Bar) (domain.Series, error) {
	mu := s.lock(symbol)
	mu.Lock()
	defer mu.Unlock()

	stored, err := s.load(symbol)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return stored, nil
	}

	merged := Dedup(stored, bars)
	if err := s.codec.write(s.path(symbol), merged); err != nil {
		return nil, fmt.Errorf("saving %s: %w: %w", symbol, domain.ErrPersistence, err)
	}
	return merged, nil
}

// Symbols lists the symbols that have a series file.
func (s *seriesFiles) Symbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ext := s.codec.ext()
	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, ext))
	}
	sort.Strings(symbols)
	return symbols, nil
}

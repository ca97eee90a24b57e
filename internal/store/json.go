package store

import (
	"encoding/json"
	"os"

	"marketpulse/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*JSONStore)(nil)

// JSONStore implements BarStore with one JSON array per symbol:
//
//	<dir>/<symbol>.json  ->  [{"date":"2024-01-02","adj":185.5,"vol":50000000}, ...]
type JSONStore struct {
	seriesFiles
}

// NewJSONStore creates a JSONStore rooted at dir.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{seriesFiles{dir: dir, codec: jsonCodec{}}}
}

type jsonCodec struct{}

func (jsonCodec) ext() string { return ".json" }

func (jsonCodec) read(path string) (domain.Series, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var series domain.Series
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, err
	}
	// Files written by older tools may not be canonical.
	return Dedup(series), nil
}

func (jsonCodec) write(path string, s domain.Series) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

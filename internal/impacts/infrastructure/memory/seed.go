package memory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Impacts []Record `yaml:"impacts"`
}

// LoadSeed inserts the impacts listed in a YAML seed file.
// Times are stored nanoseconds, coordinates are degrees.
func (s *EventStore) LoadSeed(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return s.ReadSeed(file)
}

// ReadSeed inserts the impacts of a YAML seed document.
func (s *EventStore) ReadSeed(r io.Reader) (int, error) {
	var seed seedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		if err == io.EOF {
			return 0, errEmptySeed
		}
		return 0, fmt.Errorf("memory store: decode seed: %w", err)
	}
	if err := s.Insert(seed.Impacts...); err != nil {
		return 0, err
	}
	return len(seed.Impacts), nil
}

// WriteSeed encodes records in the format ReadSeed accepts.
func WriteSeed(w io.Writer, records []Record) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(seedFile{Impacts: records}); err != nil {
		return fmt.Errorf("memory store: encode seed: %w", err)
	}
	return enc.Close()
}

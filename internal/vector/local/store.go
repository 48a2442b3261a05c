// Package local is the default on-disk vector index: a gob snapshot of every
// entry plus a human-readable YAML manifest, searched by brute-force cosine.
package local

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/vector"
)

const (
	snapshotFile  = "index.gob"
	manifestFile  = "manifest.yaml"
	formatVersion = 1
)

// record is the persisted form of one entry.
type record struct {
	Chunk        model.Chunk
	Vector       []float32
	DocumentHash string
}

type snapshot struct {
	Version   int
	Dimension int
	Records   []record
}

// Manifest summarises the snapshot for humans and tooling.
type Manifest struct {
	FormatVersion int       `yaml:"format_version"`
	Dimension     int       `yaml:"dimension"`
	Entries       int       `yaml:"entries"`
	Documents     int       `yaml:"documents"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// Store implements vector.Index on a directory.
//
// Writes build a new record slice, persist it and then swap it in under the
// write lock, so readers see either the old or the new state.
type Store struct {
	mu      sync.RWMutex
	rootDir string
	dim     int
	records []record
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open loads the index in rootDir. A missing directory is an empty index;
// nothing is created on disk until the first write.
func Open(rootDir string, opts ...Option) (*Store, error) {
	s := &Store{rootDir: rootDir, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.logger.Debug("opened local index", "dir", rootDir, "entries", len(s.records), "dimension", s.dim)
	return s, nil
}

// Dir returns the index directory.
func (s *Store) Dir() string { return s.rootDir }

func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *Store) Add(ctx context.Context, entries ...vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vector.Validate(s.dim, entries)
	if err != nil {
		return err
	}

	replaced := make(map[string]bool)
	for _, id := range vector.Documents(entries) {
		replaced[id] = true
	}
	next := make([]record, 0, len(s.records)+len(entries))
	for _, r := range s.records {
		if !replaced[r.Chunk.DocumentID] {
			next = append(next, r)
		}
	}
	for _, e := range entries {
		next = append(next, record{Chunk: e.Chunk, Vector: e.Vector, DocumentHash: e.DocumentHash})
	}

	if err := s.persist(dim, next); err != nil {
		return err
	}
	s.dim, s.records = dim, next
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]model.RetrievedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 || k <= 0 {
		return []model.RetrievedChunk{}, nil
	}
	if err := vector.CheckDimension(s.dim, len(vec)); err != nil {
		return nil, err
	}

	results := make([]model.RetrievedChunk, len(s.records))
	for i, r := range s.records {
		results[i] = model.RetrievedChunk{Chunk: r.Chunk, Score: vector.Cosine(vec, r.Vector)}
	}
	return vector.Rank(results, k), nil
}

func (s *Store) DocumentHash(_ context.Context, documentID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Chunk.DocumentID == documentID {
			return r.DocumentHash, true, nil
		}
	}
	return "", false, nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]record, 0, len(s.records))
	for _, r := range s.records {
		if r.Chunk.DocumentID != documentID {
			next = append(next, r)
		}
	}
	if len(next) == len(s.records) {
		return nil
	}
	dim := s.dim
	if len(next) == 0 {
		dim = 0
	}
	if err := s.persist(dim, next); err != nil {
		return err
	}
	s.dim, s.records = dim, next
	return nil
}

func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Manifest returns the manifest describing the current state.
func (s *Store) Manifest() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return manifestFor(s.dim, s.records)
}

func (s *Store) Close() error { return nil }

func manifestFor(dim int, records []record) Manifest {
	docs := make(map[string]bool)
	for _, r := range records {
		docs[r.Chunk.DocumentID] = true
	}
	return Manifest{
		FormatVersion: formatVersion,
		Dimension:     dim,
		Entries:       len(records),
		Documents:     len(docs),
		UpdatedAt:     time.Now().UTC(),
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.rootDir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", model.ErrIndexCorrupted, snapshotFile, err)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("%w: decode %s: %w", model.ErrIndexCorrupted, snapshotFile, err)
	}
	if snap.Version != formatVersion {
		return fmt.Errorf("%w: format version %d, expected %d", model.ErrIndexCorrupted, snap.Version, formatVersion)
	}
	for _, r := range snap.Records {
		if len(r.Vector) != snap.Dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index holds %d",
				model.ErrIndexCorrupted, r.Chunk.ID, len(r.Vector), snap.Dimension)
		}
	}

	// The snapshot is authoritative; a stale manifest only means the last
	// write stopped between the two renames.
	if m, err := s.readManifest(); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("ignoring unreadable index manifest", "dir", s.rootDir, "err", err)
	} else if err == nil && m.Entries != len(snap.Records) {
		s.logger.Warn("index manifest is stale", "dir", s.rootDir, "manifest_entries", m.Entries, "entries", len(snap.Records))
	}

	s.dim, s.records = snap.Dimension, snap.Records
	return nil
}

func (s *Store) readManifest() (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(s.rootDir, manifestFile))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", manifestFile, err)
	}
	return m, nil
}

// persist writes the snapshot then the manifest, each through a temp file
// and rename.
func (s *Store) persist(dim int, records []record) error {
	if err := os.MkdirAll(s.rootDir, 0o755); err != nil {
		return fmt.Errorf("%w: create index directory: %w", model.ErrIndex, err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{Version: formatVersion, Dimension: dim, Records: records}); err != nil {
		return fmt.Errorf("%w: encode snapshot: %w", model.ErrIndex, err)
	}
	if err := writeAtomic(filepath.Join(s.rootDir, snapshotFile), buf.Bytes()); err != nil {
		return err
	}

	manifest, err := yaml.Marshal(manifestFor(dim, records))
	if err != nil {
		return fmt.Errorf("%w: encode manifest: %w", model.ErrIndex, err)
	}
	return writeAtomic(filepath.Join(s.rootDir, manifestFile), manifest)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrIndex, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", model.ErrIndex, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", model.ErrIndex, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrIndex, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", model.ErrIndex, path, err)
	}
	return nil
}

var _ vector.Index = (*Store)(nil)

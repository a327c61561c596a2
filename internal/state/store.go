// Package state is the Persistent State Store: a single JSON object of
// named values, persisted to one file.
//
// Keys are flat names such as "session.current"; dots are part of the key,
// not path separators. Serialize produces RFC 8785 canonical JSON so two
// documents with equal values serialize to equal bytes.
package state

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/docsession/internal/logging"
)

// Errors returned by the state store.
var (
	// ErrCorrupt indicates the state file could not be used. The store
	// falls back to an empty document.
	ErrCorrupt = errors.New("state file is corrupt")

	// ErrEmptyKey indicates an empty key was used.
	ErrEmptyKey = errors.New("state key cannot be empty")
)

//go:embed schema.json
var schemaJSON []byte

// Store holds the state document in memory and persists it on Flush.
// It is safe for concurrent use.
type Store struct {
	fs     afero.Fs
	path   string
	schema *jsonschema.Schema
	logger *slog.Logger

	mu  sync.Mutex
	doc []byte
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store persisted at file on fsys. The document starts empty;
// call Load to read the file.
func New(fsys afero.Fs, file string, opts ...Option) (*Store, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile state schema: %w", err)
	}

	s := &Store{
		fs:     fsys,
		path:   file,
		schema: schema,
		logger: logging.Discard(),
		doc:    []byte("{}"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory document with the file contents.
// A missing file yields an empty document. A file that is not a JSON object
// or fails schema validation also yields an empty document, and Load
// returns an error wrapping ErrCorrupt.
func (s *Store) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, iofs.ErrNotExist) {
		s.reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state %s: %w", s.path, err)
	}

	if err := s.validate(data); err != nil {
		s.reset()
		s.logger.Warn("discarding unusable state file", "path", s.path, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	s.mu.Lock()
	s.doc = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *Store) validate(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid JSON")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return errors.New("top level is not an object")
	}
	result := s.schema.ValidateJSON(data)
	if !result.IsValid() {
		return fmt.Errorf("schema validation failed: %v", result.Errors)
	}
	return nil
}

func (s *Store) reset() {
	s.mu.Lock()
	s.doc = []byte("{}")
	s.mu.Unlock()
}

// Get returns the raw JSON value stored under key.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	if key == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res := gjson.GetBytes(s.doc, escapeKey(key))
	if !res.Exists() {
		return nil, false
	}
	return json.RawMessage(res.Raw), true
}

// Decode unmarshals the value under key into v. It reports false when the
// key is absent.
func (s *Store) Decode(key string, v any) (bool, error) {
	raw, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode state key %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key. json.RawMessage values are stored verbatim;
// anything else is marshaled.
func (s *Store) Set(key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		doc []byte
		err error
	)
	if raw, ok := value.(json.RawMessage); ok {
		doc, err = sjson.SetRawBytes(s.doc, escapeKey(key), raw)
	} else {
		doc, err = sjson.SetBytes(s.doc, escapeKey(key), value)
	}
	if err != nil {
		return fmt.Errorf("set state key %q: %w", key, err)
	}
	s.doc = doc
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := sjson.DeleteBytes(s.doc, escapeKey(key))
	if err != nil {
		return fmt.Errorf("delete state key %q: %w", key, err)
	}
	s.doc = doc
	return nil
}

// Keys returns the top-level keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	gjson.ParseBytes(s.doc).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	sort.Strings(keys)
	return keys
}

// Serialize returns the canonical JSON form of the document.
func (s *Store) Serialize() ([]byte, error) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()

	out, err := jcs.Transform(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize state: %w", err)
	}
	return out, nil
}

// Flush writes the canonical document to the state file, replacing it
// through a temporary file in the same directory.
func (s *Store) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.Serialize()
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("flush state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("flush state: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("flush state: %w", err)
	}
	return nil
}

// escapeKey makes key usable as a single gjson/sjson path component.
func escapeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '\\', '.', '*', '?', '|', '#', '@', '!', ':', '=', '<', '>', '%', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

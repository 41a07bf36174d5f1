/*
Package disk is a file-backed DurableStore.

Each key lives in its own file under <dir>/<namespace>, named by a hash of the
key. A gob index of key → file metadata sits next to the files so Open does not
have to read every entry; when the index is missing or unreadable it is rebuilt
from the files themselves.
*/
package disk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/krisalay/tiered-cache/types"
)

const (
	indexFile = "cache.index"
	fileExt   = ".cache"

	// compressMin is the smallest payload worth compressing.
	compressMin = 1024

	// saveEvery persists the index after this many mutations.
	saveEvery = 64

	// First byte of every cache file.
	markerRaw  byte = 0
	markerZstd byte = 1
)

// ErrItemTooLarge is returned when one record exceeds the whole capacity.
var ErrItemTooLarge = errors.New("item larger than disk capacity")

// Options configure a Store.
type Options struct {
	// Dir is the root directory; the namespace becomes a subdirectory.
	Dir       string
	Namespace string

	// Capacity is the advisory ceiling in bytes on disk. Zero means unbounded.
	Capacity int64

	// CompressionLevel is a zstd level (1-19). Zero disables compression.
	CompressionLevel int

	// Fs defaults to the OS filesystem.
	Fs     afero.Fs
	Logger logrus.FieldLogger
}

// indexEntry describes one file.
type indexEntry struct {
	Key        string
	File       string
	Size       int64 // on disk
	Timestamp  time.Time
	TTL        time.Duration
	Compressed bool
}

// fileRecord is what a cache file holds (before optional compression).
type fileRecord struct {
	Key       string
	Timestamp time.Time
	TTL       time.Duration
	Blob      []byte
}

// Store implements types.DurableStore on a filesystem.
type Store struct {
	opts Options
	fs   afero.Fs
	dir  string
	log  logrus.FieldLogger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu     sync.Mutex
	index  map[string]*indexEntry
	size   int64
	dirty  int
	opened bool
}

var _ types.DurableStore = (*Store)(nil)

func New(opts Options) *Store {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Store{
		opts:  opts,
		fs:    opts.Fs,
		dir:   filepath.Join(opts.Dir, opts.Namespace),
		log:   opts.Logger.WithFields(logrus.Fields{"store": "disk", "namespace": opts.Namespace}),
		index: make(map[string]*indexEntry),
	}
}

// Open creates the directory and loads (or rebuilds) the index.
func (s *Store) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return nil
	}
	if s.opts.Dir == "" {
		return fmt.Errorf("%w: no cache directory configured", types.ErrUnavailable)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create cache directory: %v", types.ErrUnavailable, err)
	}

	if s.opts.CompressionLevel > 0 {
		var err error
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(s.opts.CompressionLevel)))
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Files written with compression stay readable after it is turned off.
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	s.decoder = decoder

	if err := s.loadIndex(); err != nil {
		s.log.WithError(err).Warn("cache index unreadable, rebuilding from files")
		if err := s.rebuildIndex(); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
	}
	s.calculateSize()
	s.opened = true
	return nil
}

func (s *Store) Get(_ context.Context, key string) (types.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return types.Record{}, false, types.ErrUnavailable
	}
	entry, ok := s.index[key]
	if !ok {
		return types.Record{}, false, nil
	}

	rec, err := s.readFile(entry)
	if err != nil {
		// File missing or corrupted, remove from index
		s.dropLocked(key, entry)
		if errors.Is(err, os.ErrNotExist) {
			return types.Record{}, false, nil
		}
		return types.Record{}, false, fmt.Errorf("read %q: %w", key, err)
	}

	return types.Record{Key: rec.Key, Timestamp: rec.Timestamp, TTL: rec.TTL, Blob: rec.Blob}, true, nil
}

func (s *Store) Put(_ context.Context, rec types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return types.ErrUnavailable
	}

	data, compressed, err := s.encode(rec)
	if err != nil {
		return err
	}
	diskSize := int64(len(data))

	if existing, ok := s.index[rec.Key]; ok {
		s.dropLocked(rec.Key, existing)
	}

	if s.opts.Capacity > 0 {
		if diskSize > s.opts.Capacity {
			return ErrItemTooLarge
		}
		for s.size+diskSize > s.opts.Capacity && len(s.index) > 0 {
			s.evictOldestLocked()
		}
	}

	name := fileName(rec.Key)
	if err := s.writeFile(filepath.Join(s.dir, name), data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	s.index[rec.Key] = &indexEntry{
		Key:        rec.Key,
		File:       name,
		Size:       diskSize,
		Timestamp:  rec.Timestamp,
		TTL:        rec.TTL,
		Compressed: compressed,
	}
	s.size += diskSize
	s.touchLocked()
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return types.ErrUnavailable
	}
	if entry, ok := s.index[key]; ok {
		s.dropLocked(key, entry)
		s.touchLocked()
	}
	return nil
}

// Clear removes every cache file in the namespace and saves an empty index.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return types.ErrUnavailable
	}
	files, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("list cache directory: %w", err)
	}
	for _, f := range files {
		if strings.HasSuffix(f.Name(), fileExt) {
			_ = s.fs.Remove(filepath.Join(s.dir, f.Name()))
		}
	}

	s.index = make(map[string]*indexEntry)
	s.size = 0
	return s.saveIndex()
}

// Close persists the index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
	return s.saveIndex()
}

// Size returns the bytes used on disk.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

/*
PurgeExpired removes records whose TTL has elapsed at now and returns how
many were removed. The cache itself never calls it; stale records are otherwise
dropped when read.
*/
func (s *Store) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.index {
		if entry.TTL > 0 && now.Sub(entry.Timestamp) > entry.TTL {
			s.dropLocked(key, entry)
			removed++
		}
	}
	if removed > 0 {
		s.touchLocked()
	}
	return removed
}

// Oldest returns up to n keys, oldest write first.
func (s *Store) Oldest(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return nil
	}
	entries := make([]*indexEntry, 0, len(s.index))
	for _, entry := range s.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Key < entries[j].Key
	})
	if n > len(entries) {
		n = len(entries)
	}
	keys := make([]string, n)
	for i := range keys {
		keys[i] = entries[i].Key
	}
	return keys
}

// Private helper methods

func fileName(key string) string {
	// Use SHA256 hash of key for filename
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + fileExt
}

func (s *Store) encode(rec types.Record) ([]byte, bool, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(fileRecord{
		Key:       rec.Key,
		Timestamp: rec.Timestamp,
		TTL:       rec.TTL,
		Blob:      rec.Blob,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encode record %q: %w", rec.Key, err)
	}
	raw := buf.Bytes()

	if s.encoder != nil && len(raw) > compressMin {
		packed := s.encoder.EncodeAll(raw, []byte{markerZstd})
		// Only use compression if it actually reduces size
		if len(packed) < len(raw)+1 {
			return packed, true, nil
		}
	}
	return append([]byte{markerRaw}, raw...), false, nil
}

func (s *Store) readFile(entry *indexEntry) (*fileRecord, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, entry.File))
	if err != nil {
		return nil, err
	}
	return s.decode(data)
}

func (s *Store) decode(data []byte) (*fileRecord, error) {
	if len(data) == 0 {
		return nil, errors.New("empty cache file")
	}
	switch data[0] {
	case markerRaw:
		data = data[1:]
	case markerZstd:
		var err error
		data, err = s.decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown file marker %#x", data[0])
	}
	var rec fileRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &rec, nil
}

func (s *Store) writeFile(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	tempPath := path + ".tmp"

	file, err := s.fs.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		_ = s.fs.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = s.fs.Remove(tempPath)
		return closeErr
	}

	return s.fs.Rename(tempPath, path)
}

func (s *Store) dropLocked(key string, entry *indexEntry) {
	_ = s.fs.Remove(filepath.Join(s.dir, entry.File))
	s.size -= entry.Size
	delete(s.index, key)
}

// evictOldestLocked drops the record with the oldest write timestamp.
func (s *Store) evictOldestLocked() {
	var oldest *indexEntry
	for _, entry := range s.index {
		if oldest == nil || entry.Timestamp.Before(oldest.Timestamp) ||
			(entry.Timestamp.Equal(oldest.Timestamp) && entry.Key < oldest.Key) {
			oldest = entry
		}
	}
	if oldest != nil {
		s.dropLocked(oldest.Key, oldest)
		s.log.WithField("key", oldest.Key).Debug("evicted to stay under disk capacity")
	}
}

// touchLocked counts a mutation and saves the index every saveEvery of them.
func (s *Store) touchLocked() {
	s.dirty++
	if s.dirty < saveEvery {
		return
	}
	if err := s.saveIndex(); err != nil {
		s.log.WithError(err).Warn("failed to save cache index")
	}
}

/*
loadIndex reads the saved index and reconciles it with the directory. The
index is only saved periodically, so after an unclean shutdown files may be
missing from it, gone, or newer than their entry.
*/
func (s *Store) loadIndex() error {
	file, err := s.fs.Open(filepath.Join(s.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s.rebuildIndex()
		}
		return err
	}
	defer file.Close()

	index := make(map[string]*indexEntry)
	if err := gob.NewDecoder(file).Decode(&index); err != nil {
		return err
	}

	byFile := make(map[string]*indexEntry, len(index))
	for _, entry := range index {
		byFile[entry.File] = entry
	}

	files, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), fileExt) {
			continue
		}
		seen[f.Name()] = struct{}{}
		if entry, ok := byFile[f.Name()]; ok && entry.Size == f.Size() {
			continue
		}
		// Written (or rewritten) after the index was last saved.
		if entry, ok := s.entryFromFile(f.Name()); ok {
			index[entry.Key] = entry
		}
	}

	// Drop entries whose file vanished since the index was written.
	for key, entry := range index {
		if _, ok := seen[entry.File]; !ok {
			delete(index, key)
		}
	}
	s.index = index
	return nil
}

// rebuildIndex reads every cache file in the directory.
func (s *Store) rebuildIndex() error {
	files, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return err
	}

	index := make(map[string]*indexEntry)
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), fileExt) {
			continue
		}
		if entry, ok := s.entryFromFile(f.Name()); ok {
			index[entry.Key] = entry
		}
	}
	s.index = index
	return nil
}

// entryFromFile builds the index entry for one cache file. Unreadable or
// misnamed files are removed.
func (s *Store) entryFromFile(name string) (*indexEntry, bool) {
	path := filepath.Join(s.dir, name)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, false
	}
	rec, err := s.decode(data)
	if err != nil || fileName(rec.Key) != name {
		_ = s.fs.Remove(path)
		return nil, false
	}
	return &indexEntry{
		Key:        rec.Key,
		File:       name,
		Size:       int64(len(data)),
		Timestamp:  rec.Timestamp,
		TTL:        rec.TTL,
		Compressed: data[0] == markerZstd,
	}, true
}

func (s *Store) saveIndex() error {
	indexPath := filepath.Join(s.dir, indexFile)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.index); err != nil {
		return err
	}
	if err := s.writeFile(indexPath, buf.Bytes()); err != nil {
		return err
	}
	s.dirty = 0
	return nil
}

func (s *Store) calculateSize() {
	s.size = 0
	for _, entry := range s.index {
		s.size += entry.Size
	}
}

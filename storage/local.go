package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"TrackVault/logger"
	"TrackVault/model"
)

const (
	recordExt  = ".json"
	tempPrefix = ".tmp-"
)

var validTrackID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-.]{0,127}$`)

// ValidateTrackID rejects ids that are unsafe as file or object names.
func ValidateTrackID(id string) error {
	if !validTrackID.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", model.ErrInvalidTrackID, id)
	}
	return nil
}

// LocalStore is the local disk tier. Each track is an audio file named
// <id>.<format> plus a <id>.json record; the record is written last and acts
// as the commit marker. Every write goes through a temp file and a rename.
type LocalStore struct {
	baseDir string
}

// NewLocalStore prepares baseDir and removes temp files left by a crash.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, &model.LocalIOError{Op: "resolve", Path: baseDir, Err: err}
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, &model.LocalIOError{Op: "mkdir", Path: abs, Err: err}
	}

	leftovers, _ := filepath.Glob(filepath.Join(abs, tempPrefix+"*"))
	for _, p := range leftovers {
		if err := os.Remove(p); err == nil {
			logger.Info("removed stale temp file", logger.String("path", p))
		}
	}
	return &LocalStore{baseDir: abs}, nil
}

// BaseDir returns the absolute directory of the tier.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// AudioPath returns where the audio bytes of a track live.
func (s *LocalStore) AudioPath(id, format string) string {
	return filepath.Join(s.baseDir, id+"."+model.NormalizeFormat(format))
}

func (s *LocalStore) recordPath(id string) string {
	return filepath.Join(s.baseDir, id+recordExt)
}

// WriteAudio atomically replaces the audio file and returns its path.
func (s *LocalStore) WriteAudio(id, format string, data []byte) (string, error) {
	if err := ValidateTrackID(id); err != nil {
		return "", err
	}
	path := s.AudioPath(id, format)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteRecord atomically replaces the record of a track.
func (s *LocalStore) WriteRecord(rec model.TrackRecord) error {
	if err := ValidateTrackID(rec.ID); err != nil {
		return err
	}
	rec.SchemaVersion = model.TrackSchemaVersion
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return writeFileAtomic(s.recordPath(rec.ID), data)
}

// ReadRecord loads a record and checks that its audio file is intact.
// A record whose file is missing or has the wrong size counts as absent.
func (s *LocalStore) ReadRecord(id string) (model.TrackRecord, error) {
	if err := ValidateTrackID(id); err != nil {
		return model.TrackRecord{}, err
	}
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.TrackRecord{}, model.ErrNotFound
		}
		return model.TrackRecord{}, &model.LocalIOError{Op: "read", Path: s.recordPath(id), Err: err}
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return model.TrackRecord{}, fmt.Errorf("record %s: %w", id, err)
	}

	path := s.AudioPath(rec.ID, rec.Format)
	info, err := os.Stat(path)
	if err != nil || info.Size() != rec.SizeBytes {
		logger.Warn("local record has no intact audio file",
			logger.String("trackId", id),
			logger.String("path", path))
		return model.TrackRecord{}, model.ErrNotFound
	}
	rec.LocalPath = path
	return rec, nil
}

// Open returns the audio file of a track positioned at offset 0.
func (s *LocalStore) Open(id string) (*os.File, model.TrackRecord, error) {
	rec, err := s.ReadRecord(id)
	if err != nil {
		return nil, model.TrackRecord{}, err
	}
	f, err := os.Open(rec.LocalPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.TrackRecord{}, model.ErrNotFound
		}
		return nil, model.TrackRecord{}, &model.LocalIOError{Op: "open", Path: rec.LocalPath, Err: err}
	}
	return f, rec, nil
}

// Remove deletes the record first, then every audio file of the track.
// Removing an absent track is not an error.
func (s *LocalStore) Remove(id string) error {
	if err := ValidateTrackID(id); err != nil {
		return err
	}
	if err := os.Remove(s.recordPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &model.LocalIOError{Op: "remove", Path: s.recordPath(id), Err: err}
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return &model.LocalIOError{Op: "readdir", Path: s.baseDir, Err: err}
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, recordExt) || strings.TrimSuffix(name, filepath.Ext(name)) != id {
			continue
		}
		p := filepath.Join(s.baseDir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &model.LocalIOError{Op: "remove", Path: p, Err: err}
		}
	}
	return nil
}

// List returns every intact record in the tier.
func (s *LocalStore) List() ([]model.TrackRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, &model.LocalIOError{Op: "readdir", Path: s.baseDir, Err: err}
	}
	var records []model.TrackRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, recordExt) {
			continue
		}
		rec, err := s.ReadRecord(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Usage sums the size of every intact track.
func (s *LocalStore) Usage() (int64, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range records {
		total += r.SizeBytes
	}
	return total, nil
}

// TrackIDFromPath maps a file in the tier back to its track id. ok is false
// for temp files and anything outside the tier.
func (s *LocalStore) TrackIDFromPath(path string) (string, bool) {
	if filepath.Dir(path) != s.baseDir {
		return "", false
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, tempPrefix) {
		return "", false
	}
	ext := filepath.Ext(name)
	if ext == "" {
		return "", false
	}
	id := strings.TrimSuffix(name, ext)
	if ValidateTrackID(id) != nil {
		return "", false
	}
	return id, true
}

func decodeRecord(data []byte) (model.TrackRecord, error) {
	var rec model.TrackRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	switch {
	case rec.SchemaVersion == 0:
		rec.SchemaVersion = model.TrackSchemaVersion
	case rec.SchemaVersion > model.TrackSchemaVersion:
		return rec, fmt.Errorf("unsupported schema version %d", rec.SchemaVersion)
	}
	return rec, nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and
// renames it over path, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return &model.LocalIOError{Op: "create", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(op string, err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return &model.LocalIOError{Op: op, Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &model.LocalIOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return &model.LocalIOError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &model.LocalIOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

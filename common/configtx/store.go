package configtx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/logger"
)

// Artifact identifies one file produced by an update run.
type Artifact int

const (
	Block Artifact = iota
	BlockJSON
	ConfigSnapshotJSON
	ModifiedConfigJSON
	ConfigSnapshotPB
	ModifiedConfigPB
	UpdateDeltaPB
	UpdateDeltaJSON
	UpdateEnvelopeJSON
	UpdateEnvelopePB
	SignedEnvelopePB
)

var artifactNames = map[Artifact]string{
	Block:              "Block",
	BlockJSON:          "BlockJSON",
	ConfigSnapshotJSON: "ConfigSnapshotJSON",
	ModifiedConfigJSON: "ModifiedConfigJSON",
	ConfigSnapshotPB:   "ConfigSnapshotPB",
	ModifiedConfigPB:   "ModifiedConfigPB",
	UpdateDeltaPB:      "UpdateDeltaPB",
	UpdateDeltaJSON:    "UpdateDeltaJSON",
	UpdateEnvelopeJSON: "UpdateEnvelopeJSON",
	UpdateEnvelopePB:   "UpdateEnvelopePB",
	SignedEnvelopePB:   "SignedEnvelopePB",
}

func (a Artifact) String() string {
	if n, ok := artifactNames[a]; ok {
		return n
	}
	return "Artifact(unknown)"
}

// FileName returns the on-disk name of the artifact for an update subject.
func (a Artifact) FileName(subject string) string {
	switch a {
	case Block:
		return "config_block.pb"
	case BlockJSON:
		return "config_block.json"
	case ConfigSnapshotJSON:
		return "config.json"
	case ModifiedConfigJSON:
		return "modified_config.json"
	case ConfigSnapshotPB:
		return "config.pb"
	case ModifiedConfigPB:
		return "modified_config.pb"
	case UpdateDeltaPB:
		return subject + "_updated.pb"
	case UpdateDeltaJSON:
		return subject + "_updated.json"
	case UpdateEnvelopeJSON:
		return subject + "_updated_in_envelope.json"
	case UpdateEnvelopePB:
		return subject + "_updated_in_envelope.pb"
	case SignedEnvelopePB:
		return subject + "_signed_in_envelope.pb"
	}
	return ""
}

// Store names and persists update artifacts under
// {root}/{channel_id}/{update_subject}/{artifact}. Writing an artifact again
// replaces it; nothing is removed until Clean is called.
type Store struct {
	root string
}

// NewStore returns a store rooted at the channels directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// Dir is the directory holding every artifact of one update subject.
func (s *Store) Dir(channelID, subject string) string {
	return filepath.Join(s.root, channelID, subject)
}

// Path returns the artifact path for (channel, subject).
func (s *Store) Path(channelID, subject string, a Artifact) string {
	return filepath.Join(s.Dir(channelID, subject), a.FileName(subject))
}

// FilePath returns the path of an auxiliary file kept next to the artifacts,
// such as a regenerated system genesis.
func (s *Store) FilePath(channelID, subject, name string) string {
	return filepath.Join(s.Dir(channelID, subject), name)
}

// Write stores data as artifact a and returns its path.
func (s *Store) Write(channelID, subject string, a Artifact, data []byte) (string, error) {
	path := s.Path(channelID, subject, a)
	if err := writeAtomic(path, data); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", a)
	}
	logger.Debugf("[Artifact] wrote %s (%d bytes)", path, len(data))
	return path, nil
}

// WriteFile stores an auxiliary file next to the artifacts.
func (s *Store) WriteFile(channelID, subject, name string, data []byte) (string, error) {
	path := s.FilePath(channelID, subject, name)
	if err := writeAtomic(path, data); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", name)
	}
	return path, nil
}

// WriteJSON stores v with sorted keys and four-space indentation so that
// identical documents produce identical bytes.
func (s *Store) WriteJSON(channelID, subject string, a Artifact, v any) (string, error) {
	data, err := MarshalJSON(v)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode %s", a)
	}
	return s.Write(channelID, subject, a, data)
}

// Read loads artifact a.
func (s *Store) Read(channelID, subject string, a Artifact) ([]byte, error) {
	data, err := os.ReadFile(s.Path(channelID, subject, a))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", a)
	}
	return data, nil
}

// Exists reports whether artifact a is on disk.
func (s *Store) Exists(channelID, subject string, a Artifact) bool {
	_, err := os.Stat(s.Path(channelID, subject, a))
	return err == nil
}

// List returns the file names present for (channel, subject), sorted.
func (s *Store) List(channelID, subject string) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(channelID, subject))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list artifacts")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Clean removes every artifact of a channel.
func (s *Store) Clean(channelID string) error {
	if channelID == "" {
		return errors.New("channel ID cannot be empty")
	}
	dir := filepath.Join(s.root, channelID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to clean %s", dir)
	}
	logger.Infof("[Artifact] removed %s", dir)
	return nil
}

// MarshalJSON encodes v the way artifacts are written.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create artifact directory")
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "failed to rename temporary file")
	}
	return nil
}

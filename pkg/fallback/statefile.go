package fallback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State file layout, big-endian:
//
//	int32  cookie
//	int32  format version
//	int32  target count
//	int32  active index (-1 .. count-1)
//	int64  standalone last-active, ms since epoch (0 = never)
//	int64  per-target last-active, ms since epoch (0 = never), in order
const (
	stateFileCookie  = 0xe2bd1a96
	stateFileVersion = 1
)

// stateRecord is the persisted controller decision.
type stateRecord struct {
	targetCount        int32
	activeIndex        int32
	standaloneActiveMS int64
	targetActiveMS     []int64
}

func newStateRecord(targetCount int) *stateRecord {
	return &stateRecord{
		targetCount:    int32(targetCount),
		targetActiveMS: make([]int64, targetCount),
	}
}

func timeToMS(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func msToTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

// readStateFile reads and validates a state record. A bad cookie, version,
// or active index is an error; a target-count mismatch with the current
// configuration is not detected here and is the caller's to handle.
func readStateFile(path string) (*stateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewReader(data)

	var cookie uint32
	var version int32
	if err := binary.Read(buf, binary.BigEndian, &cookie); err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	if cookie != stateFileCookie {
		return nil, fmt.Errorf("invalid state file %s (incorrect header)", path)
	}
	if err := binary.Read(buf, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	if version != stateFileVersion {
		return nil, fmt.Errorf("invalid state file %s format version (expecting %d, found %d)",
			path, stateFileVersion, version)
	}

	rec := &stateRecord{}
	if err := binary.Read(buf, binary.BigEndian, &rec.targetCount); err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	if rec.targetCount < 1 {
		return nil, fmt.Errorf("invalid state file %s target count %d", path, rec.targetCount)
	}
	if err := binary.Read(buf, binary.BigEndian, &rec.activeIndex); err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	if rec.activeIndex < -1 || rec.activeIndex >= rec.targetCount {
		return nil, fmt.Errorf("invalid state file %s target index %d", path, rec.activeIndex)
	}
	if err := binary.Read(buf, binary.BigEndian, &rec.standaloneActiveMS); err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	rec.targetActiveMS = make([]int64, rec.targetCount)
	for i := range rec.targetActiveMS {
		if err := binary.Read(buf, binary.BigEndian, &rec.targetActiveMS[i]); err != nil {
			return nil, fmt.Errorf("invalid state file %s: %w", path, err)
		}
	}
	return rec, nil
}

// writeStateFile atomically replaces path with the serialized record: the
// bytes are written to a temporary file in the same directory, synced, and
// renamed over the target, so a reader sees either the old record or the new
// one, never a partial write.
func writeStateFile(path string, rec *stateRecord) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(stateFileCookie))
	binary.Write(&buf, binary.BigEndian, int32(stateFileVersion))
	binary.Write(&buf, binary.BigEndian, rec.targetCount)
	binary.Write(&buf, binary.BigEndian, rec.activeIndex)
	binary.Write(&buf, binary.BigEndian, rec.standaloneActiveMS)
	for _, ms := range rec.targetActiveMS {
		binary.Write(&buf, binary.BigEndian, ms)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

package telemetry

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/pthm-cable/gradient/engine"
	"github.com/pthm-cable/gradient/experiment"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// SnapshotHeader is written as a JSON line ahead of the compressed body so
// snapshots can be identified without decoding the state.
type SnapshotHeader struct {
	Version    int     `json:"version"`
	RunID      string  `json:"run_id"`
	Replicate  int     `json:"replicate"`
	Checkpoint int     `json:"checkpoint"`
	Time       float64 `json:"time"`
}

// Snapshot holds a complete trajectory state for resuming or inspection.
type Snapshot struct {
	Header SnapshotHeader
	Seed   int64
	State  engine.State

	Bookmark *Bookmark
}

// NewSnapshot captures the engine state.
func NewSnapshot(eng *engine.Engine, runID string, replicate, checkpoint int, seed int64) *Snapshot {
	return &Snapshot{
		Header: SnapshotHeader{
			Version:    SnapshotVersion,
			RunID:      runID,
			Replicate:  replicate,
			Checkpoint: checkpoint,
			Time:       eng.TimeElapsed(),
		},
		Seed:  seed,
		State: eng.State(),
	}
}

// FinalSnapshot captures the last state of a finished trajectory. Its
// checkpoint number is one past the final measurement.
func FinalSnapshot(tr experiment.Trajectory) *Snapshot {
	return &Snapshot{
		Header: SnapshotHeader{
			Version:    SnapshotVersion,
			RunID:      tr.RunID,
			Replicate:  tr.Replicate,
			Checkpoint: len(tr.Checkpoints),
			Time:       tr.FinalTime,
		},
		Seed:  tr.Seed,
		State: tr.Final,
	}
}

// SaveSnapshot writes a snapshot into dir and returns its path.
func SaveSnapshot(snapshot *Snapshot, dir string) (path string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_r%03d_c%03d", snapshot.Header.Replicate, snapshot.Header.Checkpoint)
	if snapshot.Bookmark != nil {
		name += "_" + string(snapshot.Bookmark.Type)
	}
	path = filepath.Join(dir, name+".zst")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close snapshot: %w", cerr)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snapshot.Header)
	if err != nil {
		enc.Close()
		return "", fmt.Errorf("marshal header: %w", err)
	}
	hb = append(hb, '\n')
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return "", fmt.Errorf("write header: %w", err)
	}
	if err := gob.NewEncoder(bw).Encode(snapshot); err != nil {
		enc.Close()
		return "", fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return "", fmt.Errorf("flush snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("finish zstd stream: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var header SnapshotHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	if header.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", header.Version, SnapshotVersion)
	}

	var snapshot Snapshot
	if err := gob.NewDecoder(br).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &snapshot, nil
}

// ReadSnapshotHeader decodes only the JSON header line.
func ReadSnapshotHeader(path string) (SnapshotHeader, error) {
	var header SnapshotHeader
	f, err := os.Open(path)
	if err != nil {
		return header, fmt.Errorf("read snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return header, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return header, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &header); err != nil {
		return header, fmt.Errorf("unmarshal header: %w", err)
	}
	return header, nil
}

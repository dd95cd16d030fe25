package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/internal/utterance"
)

// IndexFile is the name of the JSON-lines index the [File] sink appends to.
const IndexFile = "index.jsonl"

// Record is one line of the index written by the [File] sink.
type Record struct {
	Timestamp time.Time          `json:"timestamp"`
	SessionID string             `json:"session_id"`
	WAV       string             `json:"wav"`
	Metadata  utterance.Metadata `json:"metadata"`
}

// File writes each utterance as <id>.wav plus <id>.json into a directory and
// appends a [Record] to its index. Safe for concurrent use.
type File struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewFile creates a File sink rooted at dir, creating the directory if
// needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: file: create dir %q: %w", dir, err)
	}
	return &File{dir: dir, now: time.Now}, nil
}

// Dir returns the output directory.
func (f *File) Dir() string { return f.dir }

// Deliver implements [Sink]. The payload and metadata are written to
// temporary files and renamed into place so readers never see partial data.
func (f *File) Deliver(ctx context.Context, sessionID string, res utterance.Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sink: file: %w", err)
	}
	if res.ID == "" {
		return fmt.Errorf("sink: file: utterance has no id")
	}

	meta := res.Metadata()
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("sink: file: marshal metadata: %w", err)
	}

	wavName := res.ID + ".wav"
	if err := writeAtomic(filepath.Join(f.dir, wavName), res.Payload); err != nil {
		return fmt.Errorf("sink: file: write payload: %w", err)
	}
	if err := writeAtomic(filepath.Join(f.dir, res.ID+".json"), metaJSON); err != nil {
		return fmt.Errorf("sink: file: write metadata: %w", err)
	}

	line, err := json.Marshal(Record{
		Timestamp: f.now().UTC(),
		SessionID: sessionID,
		WAV:       wavName,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("sink: file: marshal record: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	idx, err := os.OpenFile(filepath.Join(f.dir, IndexFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sink: file: open index: %w", err)
	}
	defer idx.Close()
	if _, err := idx.Write(line); err != nil {
		return fmt.Errorf("sink: file: append index: %w", err)
	}
	return nil
}

// Close implements [Sink].
func (f *File) Close() error { return nil }

var _ Sink = (*File)(nil)

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

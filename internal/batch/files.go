package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sift/internal/fsutil"
	"github.com/kalambet/sift/internal/llm"
)

const (
	fileSuffix     = ".jsonl"
	chatEndpoint   = "/v1/chat/completions"
	maxResultLine  = 8 << 20
	fileTimeLayout = "20060102T150405"
)

// deferredLine is the replayable request payload written for deferred work.
type deferredLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     llm.ChatRequest `json:"body"`
}

// Files owns the results and deferred-work directories.
type Files struct {
	ResultsDir  string
	DeferredDir string

	now   func() time.Time
	newID func() string
}

// NewFiles creates a Files rooted at the two directories.
func NewFiles(resultsDir, deferredDir string) *Files {
	return &Files{
		ResultsDir:  resultsDir,
		DeferredDir: deferredDir,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (f *Files) name(stage string) string {
	return fmt.Sprintf("%s-%s-%s%s", stage, f.now().UTC().Format(fileTimeLayout), f.newID()[:8], fileSuffix)
}

// WriteResults writes one {custom_id, response} object per line and returns
// the file path.
func (f *Files) WriteResults(stage string, results []Result) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return "", fmt.Errorf("encoding result %s: %w", r.CustomID, err)
		}
	}
	path := filepath.Join(f.ResultsDir, f.name(stage))
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteDeferred writes every request of sb as a replayable payload line.
func (f *Files) WriteDeferred(stage string, sb SubBatch) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range sb.Requests {
		line := deferredLine{
			CustomID: r.ID,
			Method:   "POST",
			URL:      chatEndpoint,
			Body:     r.Body,
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("encoding deferred request %s: %w", r.ID, err)
		}
	}
	path := filepath.Join(f.DeferredDir, f.name(stage))
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Prune removes result and deferred files last modified before cutoff.
func (f *Files) Prune(cutoff time.Time) (int, error) {
	total := 0
	for _, dir := range []string{f.ResultsDir, f.DeferredDir} {
		n, err := fsutil.PruneOlderThan(dir, fileSuffix, cutoff)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadResults parses a results file. Malformed lines are logged and skipped.
func ReadResults(path string) ([]Result, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening results: %w", err)
	}
	defer fh.Close()

	var out []Result
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), maxResultLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Result
		if err := json.Unmarshal(line, &r); err != nil || r.CustomID == "" {
			slog.Warn("skipping malformed result line", "path", path, "line", lineNo, "error", err)
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scanning results: %w", err)
	}
	return out, nil
}

// DeferredFile describes one deferred-work file on disk.
type DeferredFile struct {
	Path     string
	Requests int
	ModTime  time.Time
}

// ListDeferred returns deferred files in dir, newest first.
func ListDeferred(dir string) ([]DeferredFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading deferred dir: %w", err)
	}

	var out []DeferredFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		n, err := countLines(path)
		if err != nil {
			return nil, err
		}
		out = append(out, DeferredFile{Path: path, Requests: n, ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	n := 0
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n, nil
}

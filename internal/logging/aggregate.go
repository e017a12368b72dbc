package logging

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Entry is one parsed line of a run log.
type Entry struct {
	Timestamp  time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"msg"`
	RunID      string         `json:"run_id,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Hemisphere string         `json:"hemisphere,omitempty"`
	Mesh       string         `json:"mesh,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// Filter selects log entries. Zero fields match everything; set fields are
// combined with AND.
type Filter struct {
	// Level keeps entries at or above this level.
	Level      string
	Since      time.Time
	RunID      string
	Subject    string
	Hemisphere string
	Mesh       string
	Phase      string
	// Contains keeps entries whose message contains this substring.
	Contains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// structured are the keys lifted out of Attrs into Entry fields.
var structured = map[string]bool{
	"time":       true,
	"level":      true,
	"msg":        true,
	"run_id":     true,
	"subject":    true,
	"hemisphere": true,
	"mesh":       true,
	"phase":      true,
}

// ReadEntries parses the ciftiprep.log in dir. Lines that are not JSON are
// skipped. Entries are sorted by time; entries with equal times keep file order.
func ReadEntries(fs afero.Fs, dir string) ([]Entry, error) {
	path := filepath.Join(dir, FileName)
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	// Tool output attached to failed steps makes for long lines.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := ParseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file %s: %w", path, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// ParseEntry parses one JSON log line.
func ParseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	str := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}

	e := Entry{
		Level:      str("level"),
		Message:    str("msg"),
		RunID:      str("run_id"),
		Subject:    str("subject"),
		Hemisphere: str("hemisphere"),
		Mesh:       str("mesh"),
		Phase:      str("phase"),
		Attrs:      make(map[string]any),
	}
	if t, err := time.Parse(time.RFC3339Nano, str("time")); err == nil {
		e.Timestamp = t
	}
	for k, v := range raw {
		if !structured[k] {
			e.Attrs[k] = v
		}
	}
	return e, nil
}

// FilterEntries returns the entries matching f.
func FilterEntries(entries []Entry, f Filter) []Entry {
	if f == (Filter{}) {
		return entries
	}
	var out []Entry
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f Filter) matches(e Entry) bool {
	if f.Level != "" {
		want, ok1 := levelOrder[strings.ToUpper(f.Level)]
		got, ok2 := levelOrder[e.Level]
		if ok1 && ok2 && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	fields := []struct{ want, got string }{
		{f.RunID, e.RunID},
		{f.Subject, e.Subject},
		{f.Hemisphere, e.Hemisphere},
		{f.Mesh, e.Mesh},
		{f.Phase, e.Phase},
	}
	for _, fld := range fields {
		if fld.want != "" && fld.want != fld.got {
			return false
		}
	}
	return f.Contains == "" || strings.Contains(e.Message, f.Contains)
}

// Formats accepted by WriteEntries.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// WriteEntries writes entries to w as text, json or csv.
func WriteEntries(w io.Writer, entries []Entry, format string) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		return writeText(w, entries)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatCSV:
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported log format: %s (supported: text, json, csv)", format)
	}
}

// writeText writes "[time] LEVEL msg (context) {attrs}" lines.
func writeText(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		parts := []string{
			"[" + e.Timestamp.Format("2006-01-02 15:04:05.000") + "]",
			e.Level,
			e.Message,
		}
		if ctx := e.context(); ctx != "" {
			parts = append(parts, "("+ctx+")")
		}
		if len(e.Attrs) > 0 {
			attrs, _ := json.Marshal(e.Attrs)
			parts = append(parts, string(attrs))
		}
		if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
			return fmt.Errorf("failed to write log entry: %w", err)
		}
	}
	return nil
}

func (e Entry) context() string {
	var ctx []string
	for _, kv := range [][2]string{
		{"subject", e.Subject},
		{"phase", e.Phase},
		{"hemisphere", e.Hemisphere},
		{"mesh", e.Mesh},
	} {
		if kv[1] != "" {
			ctx = append(ctx, kv[0]+"="+kv[1])
		}
	}
	return strings.Join(ctx, ", ")
}

func writeCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	header := []string{"time", "level", "message", "run_id", "subject", "phase", "hemisphere", "mesh", "attrs"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		record := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level,
			e.Message,
			e.RunID,
			e.Subject,
			e.Phase,
			e.Hemisphere,
			e.Mesh,
			attrs,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

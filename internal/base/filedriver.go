package base

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
)

const (
	DefaultDelimiter = "\t"
	DefaultPath      = "./db/database.tsv"
)

// FileDriver stores records as delimited text: a header row of field names
// followed by one row per record. Values are written verbatim; a value that
// contains the delimiter or a line break corrupts the file.
type FileDriver struct {
	path      string
	delimiter string
}

// NewFileDriver returns a driver for path. Empty arguments select the
// defaults.
func NewFileDriver(path, delimiter string) *FileDriver {
	if path == "" {
		path = DefaultPath
	}
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return &FileDriver{path: path, delimiter: delimiter}
}

func (d *FileDriver) Path() string      { return d.path }
func (d *FileDriver) Delimiter() string { return d.delimiter }

// Load reads every row of the file. A missing file is reported as an error
// wrapping fs.ErrNotExist; rows with fewer than two fields are skipped.
func (d *FileDriver) Load(ctx context.Context) ([]Record, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open records file: %w", err)
	}
	defer f.Close()

	var (
		records []Record
		header  []string
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if header == nil {
			header = strings.Split(line, d.delimiter)
			continue
		}
		fields := strings.Split(line, d.delimiter)
		if len(fields) < 2 {
			continue
		}
		records = append(records, RecordFromRow(header, fields))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read records file: %w", err)
	}
	return records, nil
}

// Save rewrites the whole file. The rows go to a fresh temporary file in one
// sequential pass, which is then renamed over the target.
func (d *FileDriver) Save(ctx context.Context, records []Record) (bool, error) {
	if len(records) == 0 {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return false, fmt.Errorf("create records directory: %w", err)
	}

	w, err := atomicwriter.New(d.path, 0o644)
	if err != nil {
		return false, fmt.Errorf("open records file: %w", err)
	}
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(records[0].Fields(), d.delimiter))
	bw.WriteByte('\n')
	for _, r := range records {
		bw.WriteString(strings.Join(r.Values(), d.delimiter))
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		_ = w.Close()
		return false, fmt.Errorf("write records file: %w", err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("commit records file: %w", err)
	}
	return true, nil
}

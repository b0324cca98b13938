// Package ingest turns dock export files into flat records for the
// import pipeline. Exports land in a drop directory named by date and
// sequence, e.g. 02_16_26.01.json, with higher sequences superseding
// earlier drops from the same day.
package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"example.com/dockops/services/jobtracker/internal/normalizer"
)

// RecordSource produces one batch of flat export records.
type RecordSource interface {
	Records(ctx context.Context) ([]normalizer.Record, error)
	Name() string
}

// FileSource reads a JSON array of flat records from one export file.
type FileSource struct {
	path string
}

// NewFileSource creates a source for one export file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name identifies the source in logs and run summaries.
func (s *FileSource) Name() string {
	return filepath.Base(s.path)
}

// Records reads and decodes the export file.
func (s *FileSource) Records(ctx context.Context) ([]normalizer.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read export file")
	}

	var records []normalizer.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, "failed to decode export file")
	}

	return records, nil
}

var exportNamePattern = regexp.MustCompile(`^(\d{2})_(\d{2})_(\d{2})\.(\d{2})\.json$`)

type exportFile struct {
	path string
	date time.Time
	seq  int
}

// parseExportName decodes an MM_DD_YY.NN.json export file name.
func parseExportName(name string) (time.Time, int, bool) {
	m := exportNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, 0, false
	}

	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	seq, _ := strconv.Atoi(m[4])

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, 0, false
	}

	date := time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return date, seq, true
}

func listExports(dir string) ([]exportFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read export directory")
	}

	var exports []exportFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, seq, ok := parseExportName(entry.Name())
		if !ok {
			continue
		}
		exports = append(exports, exportFile{
			path: filepath.Join(dir, entry.Name()),
			date: date,
			seq:  seq,
		})
	}

	return exports, nil
}

// LatestExport finds the newest export in the drop directory, judged by
// file-name date and then sequence.
func LatestExport(dir string) (string, error) {
	exports, err := listExports(dir)
	if err != nil {
		return "", err
	}
	if len(exports) == 0 {
		return "", errors.Errorf("no export files in %s", dir)
	}

	latest := exports[0]
	for _, export := range exports[1:] {
		if export.date.After(latest.date) ||
			(export.date.Equal(latest.date) && export.seq > latest.seq) {
			latest = export
		}
	}

	return latest.path, nil
}

// BackfillExport is one day's authoritative export.
type BackfillExport struct {
	Path string
	Date time.Time
}

// ChronologicalExports returns one export per day, the highest sequence
// of each, ordered oldest first. This is the replay order for rebuilding
// history from a directory of accumulated drops.
func ChronologicalExports(dir string) ([]BackfillExport, error) {
	exports, err := listExports(dir)
	if err != nil {
		return nil, err
	}
	if len(exports) == 0 {
		return nil, errors.Errorf("no export files in %s", dir)
	}

	perDay := make(map[time.Time]exportFile)
	for _, export := range exports {
		best, ok := perDay[export.date]
		if !ok || export.seq > best.seq {
			perDay[export.date] = export
		}
	}

	result := make([]BackfillExport, 0, len(perDay))
	for date, export := range perDay {
		result = append(result, BackfillExport{Path: export.path, Date: date})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})

	return result, nil
}

// Package workbook imports batch manifests from and exports results to
// Excel workbooks.
package workbook

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

var ErrNoSourceColumn = errors.New("manifest has no source column")

type columns struct {
	id, source, kind, language int
}

// detectColumns finds columns by header heuristics.
func detectColumns(header []string) columns {
	c := columns{id: -1, source: -1, kind: -1, language: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "audio") || strings.Contains(l, "file") || strings.Contains(l, "path") || strings.Contains(l, "recording") || strings.Contains(l, "source"):
			if c.source == -1 {
				c.source = i
			}
		case strings.Contains(l, "lang"):
			if c.language == -1 {
				c.language = i
			}
		case strings.Contains(l, "kind") || strings.Contains(l, "type"):
			if c.kind == -1 {
				c.kind = i
			}
		case strings.Contains(l, "id"):
			if c.id == -1 {
				c.id = i
			}
		}
	}
	return c
}

// ImportManifest reads the first sheet of an xlsx manifest into submissions.
// Relative source paths resolve against the manifest's directory. Rows
// without a source are skipped.
func ImportManifest(path string, log *logger.Logger) ([]types.Submission, error) {
	log = log.Component("workbook.manifest")
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("manifest %s: no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("manifest %s: no data rows", path)
	}

	cols := detectColumns(rows[0])
	if cols.source == -1 {
		return nil, ErrNoSourceColumn
	}
	log.WithField("columns", fmt.Sprintf("%+v", cols)).Debug("detected manifest columns")

	base := filepath.Dir(path)
	var out []types.Submission
	skipped := 0
	for i, r := range rows[1:] {
		source := cell(r, cols.source)
		if source == "" {
			skipped++
			continue
		}
		if !filepath.IsAbs(source) {
			source = filepath.Join(base, source)
		}

		kind := types.Kind(strings.ToLower(cell(r, cols.kind)))
		if !kind.Valid() {
			kind = KindFor(source)
		}
		id := cell(r, cols.id)
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, types.Submission{
			JobID:        id,
			Kind:         kind,
			SourcePath:   source,
			LanguageHint: strings.ToLower(cell(r, cols.language)),
		})
		log.WithField("row", i+2).WithField("job_id", id).Debug("manifest row accepted")
	}

	log.WithField("path", path).WithField("rows", len(out)).WithField("skipped", skipped).Info("manifest imported")
	return out, nil
}

// KindFor guesses the pipeline from a file extension.
func KindFor(path string) types.Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".text":
		return types.KindDocument
	}
	return types.KindAudio
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// Package export writes campaign leads to CSV or XLSX for handoff to
// tools outside the engine.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unsupported format %q", s)
	}
}

var header = []string{
	"id", "company", "name", "email", "phone", "website", "location",
	"industry", "rating", "review_count", "score", "quality", "status",
	"personalization", "created_at",
}

// Exporter reads campaign leads from the store and writes them out.
type Exporter struct {
	store store.Store
	log   *zap.Logger
}

// New creates an Exporter.
func New(st store.Store) *Exporter {
	return &Exporter{
		store: st,
		log:   zap.L().With(zap.String("component", "export")),
	}
}

// CampaignToFile exports the campaign's leads matching filter to path,
// inferring the format from the file extension. Returns the number of
// leads written.
func (e *Exporter) CampaignToFile(ctx context.Context, campaignID, path string, filter store.LeadFilter) (int, error) {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "export: create file")
	}
	defer f.Close()

	n, err := e.Campaign(ctx, campaignID, format, filter, f)
	if err != nil {
		return 0, err
	}
	e.log.Info("campaign exported",
		zap.String("campaign_id", campaignID),
		zap.String("path", path),
		zap.Int("leads", n),
	)
	return n, nil
}

// Campaign writes the campaign's leads matching filter to w.
func (e *Exporter) Campaign(ctx context.Context, campaignID string, format Format, filter store.LeadFilter, w io.Writer) (int, error) {
	filter.CampaignID = campaignID
	leads, err := e.store.ListLeads(ctx, filter)
	if err != nil {
		return 0, err
	}

	switch format {
	case FormatCSV:
		err = WriteCSV(w, leads)
	case FormatXLSX:
		err = WriteXLSX(w, leads)
	default:
		err = eris.Errorf("export: unsupported format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(leads), nil
}

// WriteCSV writes leads as CSV with a header row.
func WriteCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i := range leads {
		if err := cw.Write(leadRow(&leads[i])); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes leads as a single-sheet workbook.
func WriteXLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	hr := sheet.AddRow()
	for _, col := range header {
		hr.AddCell().SetString(col)
	}
	for i := range leads {
		row := sheet.AddRow()
		for _, val := range leadRow(&leads[i]) {
			row.AddCell().SetString(val)
		}
	}

	return eris.Wrap(f.Write(w), "export: write workbook")
}

func leadRow(l *model.Lead) []string {
	return []string{
		l.ID,
		l.Company,
		l.Name,
		l.Email,
		l.Phone,
		l.Website,
		l.Location,
		l.Industry,
		formatFloat(l.Rating),
		strconv.Itoa(l.ReviewCount),
		formatFloat(l.Score),
		string(l.Quality),
		string(l.Status),
		string(l.Personalization),
		l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

package xlsx

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	sheetSummary    = "Summary"
	sheetIncomplete = "Missing documents"
	sheetByTemplate = "By template"
	sheetEntities   = "Entity documents"
)

// WriteOverview renders a case overview as a workbook: a summary sheet, one row
// per missing (entity, template) pair, per-template counts and the documents
// linked to each entity.
func WriteOverview(w io.Writer, overview *domain.CaseOverview) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeSummary(f, overview, header); err != nil {
		return err
	}
	if err := writeIncomplete(f, overview, header); err != nil {
		return err
	}
	if err := writeByTemplate(f, overview, header); err != nil {
		return err
	}
	if err := writeEntities(f, overview, header); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, overview *domain.CaseOverview, header int) error {
	tags := make([]string, 0, len(overview.Tags))
	for _, tag := range overview.Tags {
		tags = append(tags, string(tag))
	}

	rows := [][]any{
		{"Metric", "Value"},
		{"Case", overview.CaseID},
		{"Generated at", overview.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		{"Case tags", strings.Join(tags, ", ")},
		{"Missing required documents", overview.MissingRequiredDocuments},
		{"Documents needing attention", overview.DocumentsNeedingAttention},
		{"Documents total", overview.Documents.Total},
		{"Unidentified", overview.Documents.Unidentified},
		{"Unlinked", overview.Documents.Unlinked},
		{"Identified", overview.Documents.Identified},
		{"Processed", overview.Documents.Processed},
		{"Pending", overview.Documents.Pending},
	}
	for _, kind := range domain.EntityKinds {
		rows = append(rows, []any{"Entities: " + string(kind), overview.EntityCounts[kind]})
	}
	if err := setRows(f, sheetSummary, rows); err != nil {
		return err
	}
	return styleHeader(f, sheetSummary, "B", header, 40)
}

func writeIncomplete(f *excelize.File, overview *domain.CaseOverview, header int) error {
	if _, err := f.NewSheet(sheetIncomplete); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheetIncomplete, err)
	}
	rows := [][]any{{"Entity kind", "Entity id", "Entity name", "Missing template"}}
	for _, entity := range overview.IncompleteEntities {
		for _, missing := range entity.MissingTemplates {
			rows = append(rows, []any{string(entity.Entity.Kind), entity.Entity.ID, entity.Entity.Name, missing.DisplayName})
		}
	}
	if err := setRows(f, sheetIncomplete, rows); err != nil {
		return err
	}
	return styleHeader(f, sheetIncomplete, "D", header, 28)
}

func writeByTemplate(f *excelize.File, overview *domain.CaseOverview, header int) error {
	if _, err := f.NewSheet(sheetByTemplate); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheetByTemplate, err)
	}
	names := make([]string, 0, len(overview.Documents.ByTemplate))
	for name := range overview.Documents.ByTemplate {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := [][]any{{"Template", "Documents"}}
	for _, name := range names {
		rows = append(rows, []any{name, overview.Documents.ByTemplate[name]})
	}
	if err := setRows(f, sheetByTemplate, rows); err != nil {
		return err
	}
	return styleHeader(f, sheetByTemplate, "B", header, 36)
}

// writeEntities emits one row per linked document; entities without documents
// get a single row with an empty document column.
func writeEntities(f *excelize.File, overview *domain.CaseOverview, header int) error {
	if _, err := f.NewSheet(sheetEntities); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheetEntities, err)
	}
	rows := [][]any{{"Entity kind", "Entity id", "Entity name", "Documents", "Template", "Status", "Version", "File"}}
	for _, entity := range overview.Entities {
		prefix := []any{string(entity.Entity.Kind), entity.Entity.ID, entity.Entity.Name, entity.DocumentCount}
		if len(entity.Documents) == 0 {
			rows = append(rows, prefix)
			continue
		}
		for _, doc := range entity.Documents {
			row := append(append([]any{}, prefix...), doc.DisplayName, string(doc.Status), doc.VersionNumber, doc.FileRef)
			rows = append(rows, row)
		}
	}
	if err := setRows(f, sheetEntities, rows); err != nil {
		return err
	}
	return styleHeader(f, sheetEntities, "H", header, 24)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func styleHeader(f *excelize.File, sheet, lastCol string, style int, width float64) error {
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", style); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return f.SetColWidth(sheet, "A", lastCol, width)
}

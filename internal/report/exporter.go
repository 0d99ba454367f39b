package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

// Workbook layout
const (
	SheetRequests = "Requests"
	SheetSteps    = "Steps"
	SheetAudit    = "Audit"

	timeLayout = "2006-01-02 15:04:05"
)

var (
	requestHeader = []interface{}{
		"Request ID", "Policy", "Object Type", "Object ID", "Requester", "Status",
		"Final Decision", "Final Notes", "Steps", "Escalations", "Created", "Expires", "Completed",
	}
	stepHeader = []interface{}{
		"Request ID", "Step", "Order", "Status", "Required", "Approved", "Rejected", "Pending", "Decisions",
	}
	auditHeader = []interface{}{
		"Request ID", "Timestamp", "Action", "Actor", "Step ID", "Details",
	}
)

// ExcelExporter renders approval requests as an xlsx workbook with one sheet
// for requests, one for their steps and one for the audit trail
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates a new ExcelExporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// Export writes the workbook to w
func (e *ExcelExporter) Export(w io.Writer, requests []*approval.Request) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRequests); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetSteps, SheetAudit} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	sheets := []struct {
		name   string
		header []interface{}
		rows   [][]interface{}
	}{
		{SheetRequests, requestHeader, requestRows(requests)},
		{SheetSteps, stepHeader, stepRows(requests)},
		{SheetAudit, auditHeader, auditRows(requests)},
	}
	for _, s := range sheets {
		if err := writeSheet(f, s.name, s.header, s.rows, bold); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Approval workbook exported",
		zap.Int("request_count", len(requests)),
		zap.Int("audit_rows", len(sheets[2].rows)))
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(header))
	return f.SetColWidth(sheet, "A", lastCol, 18)
}

func requestRows(requests []*approval.Request) [][]interface{} {
	rows := make([][]interface{}, 0, len(requests))
	for _, r := range requests {
		rows = append(rows, []interface{}{
			r.ID,
			r.PolicyID,
			r.ObjectType,
			r.ObjectID,
			actorLabel(r.Requester),
			string(r.Status),
			string(r.FinalDecision),
			r.FinalNotes,
			len(r.Steps),
			r.EscalationCount,
			formatTime(&r.CreatedAt),
			formatTime(r.ExpiresAt),
			formatTime(r.CompletedAt),
		})
	}
	return rows
}

func stepRows(requests []*approval.Request) [][]interface{} {
	var rows [][]interface{}
	for _, r := range requests {
		for _, s := range r.Steps {
			approvals, rejections, remaining := s.Tally()
			decisions := make([]string, 0, len(s.Decisions))
			for _, d := range s.Decisions {
				decisions = append(decisions, fmt.Sprintf("%s: %s", actorLabel(d.Approver), d.Decision))
			}
			rows = append(rows, []interface{}{
				r.ID,
				s.Name,
				s.Order + 1,
				string(s.Status),
				s.RequiredApprovals,
				approvals,
				rejections,
				remaining,
				strings.Join(decisions, "; "),
			})
		}
	}
	return rows
}

func auditRows(requests []*approval.Request) [][]interface{} {
	var rows [][]interface{}
	for _, r := range requests {
		for _, a := range r.AuditLog {
			ts := a.Timestamp
			rows = append(rows, []interface{}{
				r.ID,
				formatTime(&ts),
				a.Action,
				a.ActorID,
				a.StepID,
				formatDetails(a.Details),
			})
		}
	}
	return rows
}

func actorLabel(a approval.Actor) string {
	if a.Name != "" {
		return fmt.Sprintf("%s (%s)", a.Name, a.ID)
	}
	return a.ID
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// formatDetails renders details as sorted key=value pairs
func formatDetails(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + details[k]
	}
	return strings.Join(parts, ", ")
}

var _ port.RequestExporter = (*ExcelExporter)(nil)

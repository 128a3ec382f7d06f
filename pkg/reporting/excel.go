package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-risk-core/internal/transition"
	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

const (
	summarySheet   = "Summary"
	positionsSheet = "Positions"
	logSheet       = "Log"
)

// ExcelStyles holds the workbook style ids
type ExcelStyles struct {
	HeaderStyle   int
	CurrencyStyle int
	PercentStyle  int
	ProfitStyle   int
	LossStyle     int
	TextStyle     int
}

// ExportTransitionXLSX writes a transition, its positions and its audit log
// to an Excel workbook
func ExportTransitionXLSX(path string, t *transition.Transition, positions []*types.PositionRecord) error {
	if t == nil {
		return fmt.Errorf("no transition to export")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	if _, err := fx.NewSheet(positionsSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(logSheet); err != nil {
		return err
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}
	if err := writeSummarySheet(fx, t, styles); err != nil {
		return err
	}
	if err := writePositionsSheet(fx, positions, styles); err != nil {
		return err
	}
	if err := writeLogSheet(fx, t.Log, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	cellBorder := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	// $ format
	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    cellBorder,
	})
	if err != nil {
		return styles, err
	}

	// values are already percent, shown with two decimals
	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    2,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    cellBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.ProfitStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    cellBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.LossStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    cellBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.TextStyle, err = fx.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left", WrapText: true},
		Border:    cellBorder,
	})
	return styles, err
}

func writeHeader(fx *excelize.File, sheet string, headers []string, styles ExcelStyles) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}
	fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func pnlStyle(styles ExcelStyles, pnl float64) int {
	if pnl < 0 {
		return styles.LossStyle
	}
	return styles.ProfitStyle
}

func writeSummarySheet(fx *excelize.File, t *transition.Transition, styles ExcelStyles) error {
	fx.SetColWidth(summarySheet, "A", "A", 24)
	fx.SetColWidth(summarySheet, "B", "B", 40)
	writeHeader(fx, summarySheet, []string{"Field", "Value"}, styles)

	completed := ""
	if t.CompletedAt != nil {
		completed = t.CompletedAt.Format(timeLayout)
	}
	rows := [][]interface{}{
		{"Transition", t.ID},
		{"From", t.FromExchange},
		{"To", t.ToExchange},
		{"Strategy", string(t.Strategy)},
		{"Escalated To", string(t.EscalatedTo)},
		{"Status", string(t.Status)},
		{"Started", t.StartedAt.Format(timeLayout)},
		{"Completed", completed},
		{"Manual Approval", t.ManualOverrideApproved},
		{"Total Positions", t.TotalPositions},
		{"Positions Closed", t.PositionsClosed},
		{"Positions Remaining", t.PositionsRemaining},
		{"Total P&L", t.TotalPnL},
		{"Total P&L %", t.TotalPnLPct},
	}
	for i, row := range rows {
		r := i + 2
		label, _ := excelize.CoordinatesToCellName(1, r)
		value, _ := excelize.CoordinatesToCellName(2, r)
		if err := fx.SetCellValue(summarySheet, label, row[0]); err != nil {
			return err
		}
		if err := fx.SetCellValue(summarySheet, value, row[1]); err != nil {
			return err
		}
		fx.SetCellStyle(summarySheet, label, label, styles.TextStyle)
		switch row[0] {
		case "Total P&L":
			fx.SetCellStyle(summarySheet, value, value, pnlStyle(styles, t.TotalPnL))
		case "Total P&L %":
			fx.SetCellStyle(summarySheet, value, value, styles.PercentStyle)
		default:
			fx.SetCellStyle(summarySheet, value, value, styles.TextStyle)
		}
	}
	return nil
}

func writePositionsSheet(fx *excelize.File, positions []*types.PositionRecord, styles ExcelStyles) error {
	headers := []string{"Symbol", "Side", "Leverage", "Quantity", "Entry", "Exit", "Stop Loss", "Status", "Realized P&L", "P&L %", "Closed", "Reason"}
	writeHeader(fx, positionsSheet, headers, styles)
	fx.SetColWidth(positionsSheet, "A", "A", 12)
	fx.SetColWidth(positionsSheet, "B", "H", 11)
	fx.SetColWidth(positionsSheet, "I", "K", 16)
	fx.SetColWidth(positionsSheet, "L", "L", 30)

	for i, p := range positions {
		row := i + 2
		closed := ""
		if !p.ClosedAt.IsZero() {
			closed = p.ClosedAt.Format(timeLayout)
		}
		values := []interface{}{
			p.Symbol, string(p.Direction), p.Leverage, p.Quantity, p.EntryPrice, p.ExitPrice,
			p.StopLossPrice, string(p.Status), p.RealizedPnL, p.RealizedPnLPct, closed, p.CloseReason,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(positionsSheet, cell, v); err != nil {
				return err
			}
		}
		pnlCell, _ := excelize.CoordinatesToCellName(9, row)
		fx.SetCellStyle(positionsSheet, pnlCell, pnlCell, pnlStyle(styles, p.RealizedPnL))
		pctCell, _ := excelize.CoordinatesToCellName(10, row)
		fx.SetCellStyle(positionsSheet, pctCell, pctCell, styles.PercentStyle)
	}
	return nil
}

func writeLogSheet(fx *excelize.File, entries []transition.LogEntry, styles ExcelStyles) error {
	writeHeader(fx, logSheet, []string{"Timestamp", "Event", "Message"}, styles)
	fx.SetColWidth(logSheet, "A", "A", 18)
	fx.SetColWidth(logSheet, "B", "B", 18)
	fx.SetColWidth(logSheet, "C", "C", 80)

	for i, e := range entries {
		row := i + 2
		for col, v := range []interface{}{e.Timestamp.Format(timeLayout), e.Event, e.Message} {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(logSheet, cell, v); err != nil {
				return err
			}
			fx.SetCellStyle(logSheet, cell, cell, styles.TextStyle)
		}
	}
	return nil
}

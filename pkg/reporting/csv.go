package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// WriteDecisionsCSV writes the decision audit trail, one row per proposal
func WriteDecisionsCSV(path string, decisions []*types.DecisionRecord) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"Time",
		"Cycle",
		"Venue",
		"Symbol",
		"Proposed_Action",
		"Confidence",
		"Decision",
		"Direction",
		"Leverage",
		"Size_%",
		"Stop_Loss_%",
		"Take_Profit_%",
		"Accepted",
		"Executed",
		"Reason",
		"Error",
	}); err != nil {
		return err
	}

	for _, d := range decisions {
		row := []string{
			d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			d.CycleID,
			d.Venue,
			d.Symbol,
			string(d.Proposal.Action),
			formatFloat(d.Proposal.Confidence),
			string(d.Decision.Kind),
			"", "", "", "", "",
			strconv.FormatBool(d.Accepted),
			strconv.FormatBool(d.Executed),
			d.Reason,
			d.Error,
		}
		if o := d.Decision.Open; o != nil {
			row[7] = string(o.Direction)
			row[8] = strconv.Itoa(o.Leverage)
			row[9] = formatFloat(o.PositionSizePct)
			row[10] = formatFloat(o.StopLossPct)
			row[11] = formatFloat(o.TakeProfitPct)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write decision %s: %w", d.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

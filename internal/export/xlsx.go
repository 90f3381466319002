package export

import (
	"fmt"
	"io"
	"time"

	"ctf-scoring-service/internal/domain"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Leaderboard"

var header = []interface{}{"Rank", "User ID", "Username", "Score", "Solved", "Last Solved (UTC)"}

// WriteLeaderboardXLSX renders lb as a single-sheet workbook.
func WriteLeaderboardXLSX(w io.Writer, lb domain.Leaderboard) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, e := range lb.Entries {
		lastSolved := ""
		if !e.LastSolvedAt.IsZero() {
			lastSolved = e.LastSolvedAt.UTC().Format(time.RFC3339)
		}
		row := []interface{}{e.Rank, e.UserID, e.Username, e.Score, e.SolvedCount, lastSolved}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Filename suggests a download name for the scope.
func Filename(scope domain.Scope) string {
	if scope.IsGlobal() {
		return "leaderboard-global.xlsx"
	}
	return "leaderboard-" + scope.EventID + ".xlsx"
}

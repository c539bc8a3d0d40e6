package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"offlinesync/internal/models"

	"github.com/xuri/excelize/v2"
)

const deadLetterSheet = "Dead letters"

var deadLetterHeaders = []string{"ID", "Dropped at", "Action ID", "Type", "Key", "Attempts", "Queued at", "Reason", "Payload"}

// DeadLettersToExcel writes letters to a new workbook in dir and returns its path.
func DeadLettersToExcel(dir string, letters []models.DeadLetter, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(deadLetterSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range deadLetterHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(deadLetterSheet, cell, h)
		_ = f.SetCellStyle(deadLetterSheet, cell, cell, headerStyle)
	}

	for i, l := range letters {
		row := []interface{}{
			l.ID,
			l.DroppedAt.Format("2006-01-02 15:04:05"),
			l.Action.ID,
			l.Action.Type,
			l.Action.Key,
			l.Action.Attempts,
			l.Action.CreatedAt().Format("2006-01-02 15:04:05"),
			l.Reason,
			string(l.Action.Payload),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(deadLetterSheet, cell, &row); err != nil {
			return "", fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(deadLetterSheet, "A", "A", 8)
	_ = f.SetColWidth(deadLetterSheet, "B", "G", 20)
	_ = f.SetColWidth(deadLetterSheet, "H", "I", 50)
	_ = f.DeleteSheet("Sheet1")

	filePath := filepath.Join(dir, fmt.Sprintf("dead_letters_%s.xlsx", now.Format("20060102_150405")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

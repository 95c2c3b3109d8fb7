package student

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetHeader is the column set shared by the import and export workbooks.
var SheetHeader = []string{
	"firstName",
	"lastName",
	"age",
	"phone",
	"email",
	"city",
	"gender",
	"career",
	"level",
	"employmentStatus",
	"income",
}

const exportSheet = "Students"

// SheetRow is one data row of an import workbook.
type SheetRow struct {
	// Row is the 1-based spreadsheet row number.
	Row   int
	Input Input
	Err   error
}

// ReadWorkbook parses the first sheet of an .xlsx workbook. The header row
// names the columns; unknown columns are ignored and blank rows skipped.
func ReadWorkbook(r io.Reader) ([]SheetRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Excel file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	columns := make(map[string]int)
	for i, name := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range SheetHeader {
		if _, ok := columns[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}

	var result []SheetRow
	for i, cells := range rows[1:] {
		if blankRow(cells) {
			continue
		}
		cell := func(name string) string {
			idx := columns[strings.ToLower(name)]
			if idx >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[idx])
		}
		row := SheetRow{Row: i + 2}
		row.Input, row.Err = parseRow(cell)
		result = append(result, row)
	}
	return result, nil
}

func parseRow(cell func(string) string) (Input, error) {
	in := Input{
		FirstName:        cell("firstName"),
		LastName:         cell("lastName"),
		Phone:            cell("phone"),
		Email:            strings.ToLower(cell("email")),
		City:             cell("city"),
		Gender:           Gender(strings.ToUpper(cell("gender"))),
		Career:           cell("career"),
		Level:            cell("level"),
		EmploymentStatus: EmploymentStatus(strings.ToUpper(cell("employmentStatus"))),
	}

	if raw := cell("age"); raw != "" {
		age, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return in, fmt.Errorf("age must be a number")
		}
		in.Age = int(age)
	}
	if raw := cell("income"); raw != "" {
		income, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			return in, fmt.Errorf("income must be a number")
		}
		in.Income = income
	}
	return in, nil
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WriteWorkbook renders students as an .xlsx workbook with a frozen header row.
func WriteWorkbook(students []Student) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range SheetHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "K", 18); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, s := range students {
		values := []any{
			s.FirstName, s.LastName, s.Age, s.Phone, s.Email, s.City,
			string(s.Gender), s.Career, s.Level, string(s.EmploymentStatus), s.Income,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

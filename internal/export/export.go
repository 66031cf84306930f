package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/langchou/chargekeeper/internal/models"
)

// 导出格式
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

const (
	sheetName = "Sheet1"

	// M/d/yy H:mm:ss
	excelDateFormat = "m/d/yy h:mm:ss"
	csvDateLayout   = "1/2/06 15:04:05"
)

// Columns 导出表头，顺序即列顺序
var Columns = []string{
	"Start Date/Time", "Ending Date/Time", "Supercharger?", "Phases", "Start Range",
	"End Range", "Start SOC", "End SOC", "Latitude", "Longitude", "Odometer",
	"Peak V", "Avg V", "Peak I", "Avg I", "Energy",
}

// Options 导出选项
type Options struct {
	// Location 日期列使用的时区，默认本地时区
	Location *time.Location
}

// FormatForPath 根据扩展名选择导出格式，未知扩展名按 xlsx 处理
func FormatForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatXLSX
}

// Write 将充电记录写为表格文件
func Write(records []models.ChargeCycle, path string, opts Options) error {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	switch FormatForPath(path) {
	case FormatCSV:
		return writeCSV(records, path, opts)
	default:
		return writeXLSX(records, path, opts)
	}
}

// writeXLSX 写 Excel 文件，表头加粗并冻结
func writeXLSX(records []models.ChargeCycle, path string, opts Options) error {
	f := excelize.NewFile()
	defer f.Close()

	hdrStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Family: "Arial", Size: 12, Bold: true},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	stdStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Family: "Arial", Size: 12},
	})
	if err != nil {
		return fmt.Errorf("create cell style: %w", err)
	}
	dateFmt := excelDateFormat
	dateStyle, err := f.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Family: "Arial", Size: 12},
		CustomNumFmt: &dateFmt,
	})
	if err != nil {
		return fmt.Errorf("create date style: %w", err)
	}

	for col, label := range Columns {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(sheetName, name, name, float64(len(label)+3)); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
		if err := f.SetCellValue(sheetName, name+"1", label); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(Columns))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", hdrStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	// 表头行固定
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	for i, c := range records {
		row := i + 2
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", row), rowValues(c, opts.Location)); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		if err := f.SetCellStyle(sheetName, fmt.Sprintf("C%d", row), fmt.Sprintf("%s%d", lastCol, row), stdStyle); err != nil {
			return fmt.Errorf("style row %d: %w", row, err)
		}
		if err := f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("B%d", row), dateStyle); err != nil {
			return fmt.Errorf("style dates %d: %w", row, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// rowValues 按列顺序生成一行
func rowValues(c models.ChargeCycle, loc *time.Location) []interface{} {
	return []interface{}{
		wallClock(c.StartedAt(), loc),
		wallClock(c.EndedAt(), loc),
		c.SuperCharger,
		c.Phases,
		c.StartRange,
		c.EndRange,
		c.StartSOC,
		c.EndSOC,
		c.Latitude,
		c.Longitude,
		c.Odometer,
		c.PeakVoltage,
		c.AvgVoltage,
		c.PeakCurrent,
		c.AvgCurrent,
		c.EnergyAdded,
	}
}

// wallClock Excel 日期无时区，按目标时区的墙上时间写入
func wallClock(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// writeCSV 写 CSV 文件
func writeCSV(records []models.ChargeCycle, path string, opts Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close csv: %w", cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, c := range records {
		if err := w.Write(csvRow(c, opts.Location)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func csvRow(c models.ChargeCycle, loc *time.Location) []string {
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		c.StartedAt().In(loc).Format(csvDateLayout),
		c.EndedAt().In(loc).Format(csvDateLayout),
		strconv.FormatBool(c.SuperCharger),
		strconv.Itoa(c.Phases),
		num(c.StartRange),
		num(c.EndRange),
		num(c.StartSOC),
		num(c.EndSOC),
		num(c.Latitude),
		num(c.Longitude),
		num(c.Odometer),
		num(c.PeakVoltage),
		num(c.AvgVoltage),
		num(c.PeakCurrent),
		num(c.AvgCurrent),
		num(c.EnergyAdded),
	}
}

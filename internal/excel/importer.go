package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/example/hanzibot/pkg/models"
)

// ImportConfig defines the import configuration.
// For characters the columns hold hanzi, pinyin, meaning and HSK level;
// for sentences they hold the Chinese text, pinyin and the English translation.
type ImportConfig struct {
	FilePath      string          // Path to the Excel or CSV file
	Kind          models.ItemKind // What the rows describe
	TextColumn    string          // Column with the hanzi or the Chinese sentence
	PinyinColumn  string          // Column with the pinyin
	MeaningColumn string          // Column with the meaning or translation
	HSKColumn     string          // Column with the HSK level, characters only
	SheetName     string          // Name of the sheet to import, first sheet when empty
	StartRow      int             // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig(kind models.ItemKind) ImportConfig {
	return ImportConfig{
		Kind:          kind,
		TextColumn:    "A",
		PinyinColumn:  "B",
		MeaningColumn: "C",
		HSKColumn:     "D",
		StartRow:      2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int      `json:"totalProcessed"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors,omitempty"`
}

// CharacterStore saves characters, reporting whether a row was created
type CharacterStore interface {
	Upsert(ctx context.Context, c *models.Character) (bool, error)
}

// SentenceStore saves sentences, reporting whether a row was created
type SentenceStore interface {
	Upsert(ctx context.Context, s *models.Sentence) (bool, error)
}

// Importer loads catalog files into the database
type Importer struct {
	characters CharacterStore
	sentences  SentenceStore
}

// NewImporter creates an importer
func NewImporter(characters CharacterStore, sentences SentenceStore) *Importer {
	return &Importer{characters: characters, sentences: sentences}
}

// columns holds the zero-based indexes resolved from an ImportConfig
type columns struct {
	text, pinyin, meaning, hsk int
}

// Import reads the file named in config and upserts every row.
// Bad rows are reported in the result and do not stop the import.
func (im *Importer) Import(ctx context.Context, config ImportConfig) (*ImportResult, error) {
	if !config.Kind.IsValid() {
		return nil, fmt.Errorf("unknown item kind %q", config.Kind)
	}
	cols, err := resolveColumns(config)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		rows, err = readCSV(config.FilePath)
	} else {
		rows, err = readExcel(config.FilePath, config.SheetName)
	}
	if err != nil {
		return nil, err
	}

	startRow := config.StartRow
	if startRow < 1 {
		startRow = 1
	}
	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		// Skip header rows
		if i < startRow-1 {
			continue
		}
		if isBlank(row) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.TotalProcessed++
		created, err := im.processRow(ctx, config.Kind, row, cols)
		switch {
		case errors.Is(err, errSkipRow):
			result.Skipped++
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
		case created:
			result.Created++
		default:
			result.Updated++
		}
	}
	return result, nil
}

var errSkipRow = errors.New("skipping row")

func (im *Importer) processRow(ctx context.Context, kind models.ItemKind, row []string, cols columns) (bool, error) {
	text := cleanText(cell(row, cols.text))
	pinyin := strings.TrimSpace(cell(row, cols.pinyin))
	meaning := strings.TrimSpace(cell(row, cols.meaning))

	if text == "" {
		return false, errSkipRow
	}

	switch kind {
	case models.KindCharacter:
		if meaning == "" {
			return false, fmt.Errorf("meaning of %s cannot be empty", text)
		}
		c := &models.Character{
			Hanzi:    text,
			Pinyin:   pinyin,
			Meaning:  meaning,
			HSKLevel: parseIntOrDefault(cell(row, cols.hsk), 0, 9, 0),
		}
		return im.characters.Upsert(ctx, c)
	default:
		if meaning == "" {
			return false, fmt.Errorf("translation of %s cannot be empty", text)
		}
		s := &models.Sentence{Chinese: text, Pinyin: pinyin, English: meaning}
		return im.sentences.Upsert(ctx, s)
	}
}

func resolveColumns(config ImportConfig) (columns, error) {
	var cols columns
	targets := []struct {
		name string
		dst  *int
	}{
		{config.TextColumn, &cols.text},
		{config.PinyinColumn, &cols.pinyin},
		{config.MeaningColumn, &cols.meaning},
		{config.HSKColumn, &cols.hsk},
	}
	for _, t := range targets {
		if t.name == "" {
			*t.dst = -1
			continue
		}
		n, err := excelize.ColumnNameToNumber(t.name)
		if err != nil {
			return cols, fmt.Errorf("invalid column %q: %w", t.name, err)
		}
		*t.dst = n - 1
	}
	if cols.text < 0 || cols.meaning < 0 {
		return cols, errors.New("text and meaning columns are required")
	}
	return cols, nil
}

// readExcel returns all rows of a sheet
func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

// readCSV returns all records of a CSV file
func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// cleanText drops notes in parentheses, e.g. "好 (hǎo)" becomes "好"
func cleanText(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	for _, open := range []string{"(", "（"} {
		if i := strings.Index(s, open); i > 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// parseIntOrDefault parses s and clamps it to [min, max]; unparsable input gives defaultVal
func parseIntOrDefault(s string, min, max, defaultVal int) int {
	val, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

package normalizer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// ReaderConfig holds configuration for reading uploaded CSV files
type ReaderConfig struct {
	Delimiter        rune `json:"delimiter" mapstructure:"delimiter"`
	TrimLeadingSpace bool `json:"trim_leading_space" mapstructure:"trim_leading_space"`
	SkipEmptyRows    bool `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`
	MaxFieldSize     int  `json:"max_field_size" mapstructure:"max_field_size"`
	ValidateEncoding bool `json:"validate_encoding" mapstructure:"validate_encoding"`
}

// DefaultReaderConfig returns a configuration with sensible defaults
func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1 << 20,
		ValidateEncoding: true,
	}
}

// CSVReader turns a CSV export into RawRecords keyed by header
type CSVReader struct {
	config *ReaderConfig
	logger logger.Logger
}

// NewCSVReader creates a reader with the given configuration
func NewCSVReader(config *ReaderConfig) *CSVReader {
	if config == nil {
		config = DefaultReaderConfig()
	}
	return &CSVReader{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("csv_reader"),
	}
}

// ReadFile opens and reads a CSV file
func (cr *CSVReader) ReadFile(ctx context.Context, path string) ([]RawRecord, error) {
	cr.logger.WithField("file_path", path).Debug("Opening CSV file")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}

	rows, err := cr.Read(ctx, bytes.NewReader(data), path)
	if err != nil {
		return nil, err
	}

	cr.logger.WithFields(logger.Fields{
		"file_path": path,
		"rows":      len(rows),
	}).Debug("Read CSV file")
	return rows, nil
}

// Read reads every data row from r. The first row is the header. Row numbers
// are the physical line numbers of each record.
func (cr *CSVReader) Read(ctx context.Context, r io.Reader, source string) ([]RawRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, source, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if cr.config.ValidateEncoding && !utf8.Valid(data) {
		return nil, errors.FileError(errors.CodeFileCorrupted, source, fmt.Errorf("invalid UTF-8 encoding detected")).
			WithSuggestion("save the file in UTF-8 encoding and try again")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = cr.config.Delimiter
	reader.TrimLeadingSpace = cr.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New(errors.CategoryNormalization, errors.CodeInvalidFormat, "file is empty").
			WithSuggestion("ensure the file contains a header and data rows").
			WithContext("source", source)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryNormalization, errors.CodeInvalidFormat, "failed to read header row").
			WithContext("source", source)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []RawRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.InternalError(errors.CodeCancelled, "csv_read", err)
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryNormalization, errors.CodeInvalidFormat, "malformed CSV").
				WithContext("source", source).
				WithSuggestion("check quoting and delimiters around the reported line")
		}

		line, _ := reader.FieldPos(0)
		row := RawRecord{Row: line, Values: make(map[string]string, len(header))}
		for i, value := range record {
			if i >= len(header) {
				break
			}
			if cr.config.MaxFieldSize > 0 && len(value) > cr.config.MaxFieldSize {
				return nil, errors.New(errors.CategoryNormalization, errors.CodeInvalidFormat,
					fmt.Sprintf("field %q at line %d exceeds %d bytes", header[i], line, cr.config.MaxFieldSize)).
					WithContext("source", source)
			}
			row.Values[header[i]] = value
		}

		if cr.config.SkipEmptyRows && row.IsEmpty() {
			cr.logger.WithField("line_number", line).Debug("Skipping empty record")
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/internal/reconciler"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// inputFile is one side of a reconcile invocation
type inputFile struct {
	Path       string
	Source     string
	DateFormat string
}

// loadBatch reads a CSV export or a JSON document into a source batch.
// JSON documents are Xero invoice responses, Coupa invoice lists or lists
// of already-normalized records; the source is inferred when not given.
func loadBatch(ctx context.Context, in inputFile) (reconciler.SourceBatch, error) {
	batch := reconciler.SourceBatch{
		Source:     models.SourceSystem(strings.ToLower(strings.TrimSpace(in.Source))),
		DateFormat: normalizer.DateFormat(strings.TrimSpace(in.DateFormat)),
	}
	if in.Path == "" {
		return batch, errors.ConfigurationError(errors.CodeMissingConfig, "input file", "", nil)
	}
	if batch.Source != "" && !batch.Source.IsValid() {
		return batch, errors.InvalidConfigurationError("source", in.Source, nil).
			WithSuggestion("use one of xero, csv or coupa")
	}

	switch strings.ToLower(filepath.Ext(in.Path)) {
	case ".csv":
		rows, err := normalizer.NewCSVReader(nil).ReadFile(ctx, in.Path)
		if err != nil {
			return batch, err
		}
		if batch.Source == "" {
			batch.Source = models.SourceCSV
		}
		batch.Rows = rows
		return batch, nil

	case ".json":
		data, err := readFile(in.Path)
		if err != nil {
			return batch, err
		}
		if batch.Source == "" {
			batch.Source = detectSource(data)
		}
		if err := decodeBatch(data, &batch); err != nil {
			return batch, errors.Wrap(err, errors.CategoryNormalization, errors.CodeInvalidFormat,
				fmt.Sprintf("cannot decode %s", filepath.Base(in.Path))).
				WithContext("file_path", in.Path)
		}
		return batch, nil

	default:
		return batch, errors.New(errors.CategoryFile, errors.CodeInvalidFormat,
			fmt.Sprintf("unsupported input file %s", filepath.Base(in.Path))).
			WithContext("file_path", in.Path).
			WithSuggestion("provide a .csv export or a .json document")
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return data, nil
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
}

// detectSource recognizes Xero and Coupa documents by their keys. Anything
// else is a list of normalized records and gets no source, so the
// configured per-side default applies.
func detectSource(data []byte) models.SourceSystem {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var envelope map[string]json.RawMessage
		if json.Unmarshal(trimmed, &envelope) == nil {
			if _, ok := envelope["Invoices"]; ok {
				return models.SourceXero
			}
		}
		return ""
	}

	var items []map[string]json.RawMessage
	if json.Unmarshal(trimmed, &items) != nil || len(items) == 0 {
		return ""
	}
	first := items[0]
	switch {
	case has(first, "InvoiceNumber", "CreditNoteNumber"):
		return models.SourceXero
	case has(first, "invoice-number"):
		return models.SourceCoupa
	default:
		return ""
	}
}

func has(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func decodeBatch(data []byte, batch *reconciler.SourceBatch) error {
	trimmed := bytes.TrimSpace(data)

	switch batch.Source {
	case models.SourceXero:
		if bytes.HasPrefix(trimmed, []byte("{")) {
			var resp normalizer.XeroInvoicesResponse
			if err := json.Unmarshal(trimmed, &resp); err != nil {
				return err
			}
			batch.Xero = resp.All()
			return nil
		}
		return json.Unmarshal(trimmed, &batch.Xero)

	case models.SourceCoupa:
		return json.Unmarshal(trimmed, &batch.Coupa)

	default:
		return json.Unmarshal(trimmed, &batch.Records)
	}
}

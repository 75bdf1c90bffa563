package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/pipeline"
	"vendorgrid/internal/ingestion/resolve"
	"vendorgrid/internal/ingestion/sources"
	dErrors "vendorgrid/pkg/domain-errors"
	"vendorgrid/pkg/requestcontext"
)

// ExportColumns is the header row written by ExportCSV.
var ExportColumns = []string{"name", "tax_id", "address", "contact_email"}

// ExportCSV writes every identity, ordered by canonical id.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return 0, s.translate(ctx, err, "failed to export vendors")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}
	for _, v := range all {
		if err := cw.Write([]string{v.Name, v.CanonicalID, v.Address, v.ContactEmail}); err != nil {
			return 0, fmt.Errorf("write export row %s: %w", v.CanonicalID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush export: %w", err)
	}
	return len(all), nil
}

// ImportRowError reports one row that was not imported. Row is the 1-based
// line number in the uploaded file, counting the header.
type ImportRowError struct {
	Row   int
	Field string
	Error string
}

type ImportReport struct {
	RunID        uuid.UUID
	TotalRows    int
	SuccessCount int
	ErrorCount   int
	Created      int
	Updated      int
	Unchanged    int
	Errors       []ImportRowError
}

// ImportCSV runs an uploaded CSV through the ingestion pipeline under the
// import source. Row-level problems are reported, not returned; an unreadable
// file is a validation error.
func (s *Service) ImportCSV(ctx context.Context, actor string, r io.Reader) (*ImportReport, error) {
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}
	ctx = requestcontext.WithActor(ctx, actor)

	src := s.importSource
	run := models.NewRun(src.ID, actor, models.TriggerManual, s.now().UTC())
	run.Attempts = 1
	report := &ImportReport{RunID: run.ID}

	c := pipeline.Cycle{
		Source: src,
		Run:    run,
		Ledger: resolve.NewLedger(),
		Actor:  actor,
		Method: models.MethodManualImport,
		OnReject: func(e pipeline.RecordError) {
			field := e.Field
			if field == "" {
				field = "row"
			}
			row := e.Line
			if row == 0 {
				// header is row 1
				row = e.Index + 2
			}
			report.Errors = append(report.Errors, ImportRowError{Row: row, Field: field, Error: e.Reason})
		},
	}

	runErr := s.importer.RunReader(ctx, c, r)
	switch {
	case runErr == nil:
		run.Finish(models.RunSucceeded, s.now().UTC())
	case ctx.Err() != nil:
		run.Finish(models.RunCancelled, s.now().UTC())
	default:
		run.AddError(runErr.Error())
		run.Finish(models.RunFailed, s.now().UTC())
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := s.store.SaveRun(saveCtx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed to save import run", "run_id", run.ID, "error", err)
	}

	if runErr != nil {
		if sources.GetCategory(runErr) == sources.ErrorUnsupportedFormat {
			return nil, dErrors.Wrap(runErr, dErrors.CodeValidation, "file is not a readable CSV")
		}
		return nil, s.translate(ctx, runErr, "import failed")
	}

	report.TotalRows = run.Seen
	report.Created = run.Created
	report.Updated = run.Updated
	report.Unchanged = run.Unchanged
	report.SuccessCount = run.Created + run.Updated + run.Unchanged
	report.ErrorCount = len(report.Errors)

	ev, err := models.NewImportEvent(run, s.now().UTC())
	if err == nil {
		err = s.store.AppendEvent(saveCtx, ev)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record import event", "run_id", run.ID, "error", err)
	}

	s.metrics.AddImportRowsFailed(report.ErrorCount)
	s.logger.InfoContext(ctx, "manual import finished",
		"run_id", run.ID,
		"actor", actor,
		"total_rows", report.TotalRows,
		"success_count", report.SuccessCount,
		"error_count", report.ErrorCount,
	)
	return report, nil
}

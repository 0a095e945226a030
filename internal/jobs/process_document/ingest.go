package process_document

import (
	"context"
	"fmt"

	"github.com/jackzampolin/docsplit/internal/providers"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/types"
)

// ingest registers the source PDF with the split service. A job that
// already carries a handle from an earlier run keeps it.
func (j *Job) ingest(ctx context.Context, job *types.Job) error {
	logger := j.logger.With("stage", "ingest")

	if h := derefString(job.ExternalFileHandle); h != "" {
		logger.Info("source already registered", "file_handle", h)
		return nil
	}

	data, err := j.source(ctx, job)
	if err != nil {
		return err
	}

	handle, err := j.cfg.Files.RegisterFile(ctx, job.SourceFileName, data, providers.PurposeSplit)
	if err != nil {
		return fmt.Errorf("failed to register source file: %w", err)
	}
	if err := j.cfg.Store.SetJobHandle(ctx, job.ID, store.HandleExternalFile, handle); err != nil {
		return fmt.Errorf("failed to save file handle: %w", err)
	}
	job.ExternalFileHandle = &handle

	logger.Info("source registered", "file", job.SourceFileName, "bytes", len(data), "file_handle", handle)
	return nil
}

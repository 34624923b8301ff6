package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/acquire"
	"github.com/knowledgeforge/kbsync/internal/manager/interfaces"
	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

const (
	pipelineCatalog   = "catalog"
	pipelineBlobFiles = "blob-files"
	pipelineGuidance  = "internal-guidance"

	blobURLScheme = "blob://"
)

// Coordinator runs the independent sync pipelines (catalog reconciliation,
// blob-storage file sync, and the internal guidance source) and aggregates
// their outcomes. A failure or panic in one pipeline never prevents the
// others from running.
type Coordinator struct {
	orchestrator *Orchestrator
	blobStore    interfaces.BlobStore
	blobPrefix   string
	guidanceURL  string
	logger       zerolog.Logger
}

// NewCoordinator wires the unified sync. The blob prefix and guidance URL
// come from the environment; an empty guidance URL disables that pipeline.
func NewCoordinator(orchestrator *Orchestrator, blobStore interfaces.BlobStore) *Coordinator {
	return &Coordinator{
		orchestrator: orchestrator,
		blobStore:    blobStore,
		blobPrefix:   os.Getenv("BLOB_SYNC_PREFIX"),
		guidanceURL:  os.Getenv("INTERNAL_GUIDANCE_URL"),
		logger:       util.NewLogger(zerolog.ErrorLevel),
	}
}

// SyncAll runs every pipeline and reports a combined outcome. Overall
// success requires every sub-pipeline to succeed.
func (c *Coordinator) SyncAll(ctx context.Context) *models.UnifiedOutcome {
	started := time.Now()
	outcome := &models.UnifiedOutcome{Success: true}

	pipelines := []struct {
		name string
		run  func(context.Context) models.PipelineReport
	}{
		{pipelineCatalog, c.runCatalog},
		{pipelineBlobFiles, c.runBlobFiles},
		{pipelineGuidance, c.runGuidance},
	}

	for _, pipeline := range pipelines {
		report := c.runIsolated(ctx, pipeline.name, pipeline.run)
		outcome.Pipelines = append(outcome.Pipelines, report)
		if !report.Success {
			outcome.Success = false
		}
	}

	outcome.Elapsed = time.Since(started)
	c.logger.Info().
		Bool("success", outcome.Success).
		Dur("elapsed", outcome.Elapsed).
		Msg("unified sync completed")
	return outcome
}

// runIsolated shields sibling pipelines from a panicking one.
func (c *Coordinator) runIsolated(
	ctx context.Context,
	name string,
	run func(context.Context) models.PipelineReport,
) (report models.PipelineReport) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error().Str("pipeline", name).Any("panic", recovered).Msg("sync pipeline panicked")
			report = models.PipelineReport{
				Name:    name,
				Success: false,
				Errors: []models.SyncFailure{{
					Identifier: name,
					Reason:     fmt.Sprintf("panic: %v", recovered),
				}},
			}
		}
	}()

	return run(ctx)
}

func (c *Coordinator) runCatalog(ctx context.Context) models.PipelineReport {
	report := models.PipelineReport{Name: pipelineCatalog}

	outcome, err := c.orchestrator.ReconcileCatalog(ctx, 0)
	if err != nil {
		report.Errors = append(report.Errors, models.SyncFailure{Identifier: pipelineCatalog, Reason: err.Error()})
		return report
	}

	report.SourcesSynced = outcome.Created + outcome.Updated + outcome.Unchanged
	report.ChunksCreated = outcome.ChunksAdded
	report.Errors = outcome.Failures
	report.Success = outcome.Errored == 0
	return report
}

// runBlobFiles fully resyncs every object under the configured prefix as a
// single-file source.
func (c *Coordinator) runBlobFiles(ctx context.Context) models.PipelineReport {
	report := models.PipelineReport{Name: pipelineBlobFiles}

	objects, err := c.blobStore.ListObjects(ctx, c.blobPrefix)
	if err != nil {
		report.Errors = append(report.Errors, models.SyncFailure{Identifier: pipelineBlobFiles, Reason: err.Error()})
		return report
	}

	report.Success = true
	for _, object := range objects {
		body, err := c.blobStore.GetObject(ctx, object.Key)
		if err != nil {
			report.Success = false
			report.Errors = append(report.Errors, models.SyncFailure{Identifier: object.Key, Reason: err.Error()})
			continue
		}

		content, err := acquire.ExtractFileText(body, "", object.Key)
		if err != nil {
			report.Success = false
			report.Errors = append(report.Errors, models.SyncFailure{Identifier: object.Key, Reason: err.Error()})
			continue
		}

		source := blobSource(object.Key)
		documents := []models.RawDocument{{
			Content:        content,
			OriginURL:      source.URL,
			LoaderStrategy: "blob-file",
		}}

		outcome, err := c.orchestrator.indexDocuments(ctx, source, documents, true, time.Now())
		if err != nil {
			report.Success = false
			report.Errors = append(report.Errors, models.SyncFailure{Identifier: object.Key, Reason: err.Error()})
			continue
		}

		report.SourcesSynced++
		report.ChunksCreated += outcome.DocumentsAdded
	}

	return report
}

// runGuidance upserts the fixed internal guidance source.
func (c *Coordinator) runGuidance(ctx context.Context) models.PipelineReport {
	report := models.PipelineReport{Name: pipelineGuidance}

	if c.guidanceURL == "" {
		// Not configured for this deployment
		report.Success = true
		return report
	}

	source := &models.Source{
		ID:              models.SourceIDForURL(c.guidanceURL),
		URL:             models.NormalizeURL(c.guidanceURL),
		Name:            "Internal Guidance",
		AcquisitionMode: models.ModeSingle,
		MaxPages:        1,
		Category:        "guidance",
		Description:     "Internal answering guidance for the knowledge base",
		ContentOrigin:   "internal",
	}

	outcome, err := c.orchestrator.UpsertSource(ctx, source)
	if err != nil {
		report.Errors = append(report.Errors, models.SyncFailure{Identifier: c.guidanceURL, Reason: err.Error()})
		return report
	}

	report.SourcesSynced = 1
	report.ChunksCreated = outcome.DocumentsAdded
	report.Success = true
	return report
}

func blobSource(key string) *models.Source {
	url := blobURLScheme + key
	return &models.Source{
		ID:              models.SourceIDForURL(url),
		URL:             url,
		Name:            key,
		AcquisitionMode: models.ModeFile,
		MaxPages:        1,
		Category:        "uploaded-file",
		ContentOrigin:   "internal",
	}
}

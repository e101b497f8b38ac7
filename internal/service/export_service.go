package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-counsel-api/internal/dto"
	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/export"
	"github.com/noah-isme/sma-counsel-api/pkg/storage"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var draftExportHeaders = []string{
	"Student ID", "Student Name", "Consultation Count", "Last Consultation",
	"Draft", "Status", "Error", "Model", "Generated At",
}

type draftLister interface {
	ListDrafts(ctx context.Context, teacherID string) ([]models.BehaviorDraft, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type urlSigner interface {
	Generate(ownerID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (*storage.SignedFile, error)
	TTL() time.Duration
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	// ResultTTL is how long rendered files stay on disk. Defaults to the signer TTL.
	ResultTTL time.Duration
}

// ExportService renders a teacher's drafts to CSV or PDF and hands out signed download links.
type ExportService struct {
	drafts  draftLister
	storage fileStorage
	signer  urlSigner
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(drafts draftLister, store fileStorage, signer urlSigner, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("")
	}
	if cfg.ResultTTL <= 0 && signer != nil {
		cfg.ResultTTL = signer.TTL()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ExportService{drafts: drafts, storage: store, signer: signer, csv: csv, pdf: pdf, logger: logger, cfg: cfg}
}

// DraftDataset builds the export table for a teacher's drafts.
func (s *ExportService) DraftDataset(ctx context.Context, teacherID string) (export.Dataset, error) {
	drafts, err := s.drafts.ListDrafts(ctx, teacherID)
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([]map[string]string, 0, len(drafts))
	for _, draft := range drafts {
		generatedAt := ""
		if draft.GeneratedAt != nil {
			generatedAt = draft.GeneratedAt.UTC().Format(time.RFC3339)
		}
		errMsg := draft.ErrorMessage
		if len(draft.Violations) > 0 {
			errMsg = strings.TrimSpace(errMsg + "\n" + strings.Join(draft.Violations, "\n"))
		}
		rows = append(rows, map[string]string{
			"Student ID":         draft.StudentID,
			"Student Name":       draft.StudentName,
			"Consultation Count": strconv.Itoa(draft.ConsultationCount),
			"Last Consultation":  draft.LastConsultation,
			"Draft":              draft.Content,
			"Status":             draft.Status.Label(),
			"Error":              errMsg,
			"Model":              draft.Model,
			"Generated At":       generatedAt,
		})
	}
	return export.Dataset{Title: "행동특성 및 종합의견", Headers: draftExportHeaders, Rows: rows}, nil
}

// ExportDrafts renders the drafts, stores the file and returns a signed download URL.
func (s *ExportService) ExportDrafts(ctx context.Context, teacherID string, req dto.DraftExportRequest) (*dto.DraftExportResponse, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	dataset, err := s.DraftDataset(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if format == ExportFormatCSV {
		payload, err = s.csv.Render(dataset)
	} else {
		payload, err = s.pdf.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	relPath, err := s.storage.Save(exportFilename(teacherID, format, time.Now().UTC()), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(teacherID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}

	s.logger.Info("drafts exported", zap.String("teacher_id", teacherID), zap.String("format", format), zap.Int("rows", len(dataset.Rows)))
	return &dto.DraftExportResponse{
		URL:       fmt.Sprintf("%s/export/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token),
		Format:    format,
		Rows:      len(dataset.Rows),
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates a token and opens the file it points at.
func (s *ExportService) ResolveDownload(token string) (*os.File, *storage.SignedFile, error) {
	signed, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.storage.Open(signed.Path)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file not found")
	}
	return file, signed, nil
}

// Cleanup removes rendered files older than the result TTL.
func (s *ExportService) Cleanup() ([]string, error) {
	return s.storage.CleanupOlderThan(s.cfg.ResultTTL)
}

// StartCleanup runs Cleanup on every tick until ctx is done.
func (s *ExportService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.Cleanup()
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(deleted) > 0 {
					s.logger.Info("export cleanup", zap.Int("deleted", len(deleted)))
				}
			}
		}
	}()
}

func exportFilename(teacherID, format string, now time.Time) string {
	return fmt.Sprintf("drafts/%s/behavior_drafts_%s.%s", sanitizeFilename(teacherID), now.Format("20060102_150405"), format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", "-")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

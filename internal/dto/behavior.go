package dto

import (
	"time"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

// BehaviorBatchRequest captures POST /behavior/batches payloads. An empty StudentKeys list
// targets every student the teacher has records for.
type BehaviorBatchRequest struct {
	StudentKeys       []string            `json:"student_keys"`
	Mode              models.EvidenceMode `json:"mode" validate:"required,evidence_mode"`
	Model             string              `json:"model"`
	SelectedRecordIDs map[string][]string `json:"selected_record_ids"`
}

// RegenerateDraftRequest captures POST /behavior/drafts/:key/regenerate payloads.
type RegenerateDraftRequest struct {
	Mode              models.EvidenceMode `json:"mode" validate:"required,evidence_mode"`
	Model             string              `json:"model"`
	SelectedRecordIDs []string            `json:"selected_record_ids"`
}

// UpdateDraftRequest replaces draft content verbatim.
type UpdateDraftRequest struct {
	Content string `json:"content"`
}

// BatchStartResponse is returned after a batch is queued.
type BatchStartResponse struct {
	BatchID string              `json:"batch_id"`
	Total   int                 `json:"total"`
	Mode    models.EvidenceMode `json:"mode"`
	Model   string              `json:"model"`
}

// DraftExportRequest captures POST /behavior/exports payloads.
type DraftExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// DraftExportResponse points at the signed download.
type DraftExportResponse struct {
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	Rows      int       `json:"rows"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SPDX-License-Identifier: MIT

package suggest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"

	"github.com/cratedig/cratedig/internal/rec"
)

// ExportDocument is the on-disk shape of a persisted result list.
type ExportDocument struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Backend     string               `json:"backend"`
	Model       string               `json:"model"`
	Mode        rec.Mode             `json:"mode"`
	Count       int                  `json:"count"`
	Items       []rec.Recommendation `json:"items"`
}

// Exporter persists the latest result list to a stable path. renameio
// gives atomic durable replacement, so readers never observe a torn file.
type Exporter struct {
	path string
	now  func() time.Time
}

func NewExporter(path string) *Exporter {
	return &Exporter{path: path, now: time.Now}
}

func (e *Exporter) Path() string { return e.path }

func (e *Exporter) Write(req rec.Request, items []rec.Recommendation) error {
	doc := ExportDocument{
		GeneratedAt: e.now().UTC(),
		Backend:     req.BackendID,
		Model:       req.ModelID,
		Mode:        req.Mode,
		Count:       len(items),
		Items:       items,
	}

	pending, err := renameio.NewPendingFile(e.path)
	if err != nil {
		return fmt.Errorf("create pending export: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

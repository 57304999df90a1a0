// SPDX-License-Identifier: Apache-2.0

// Package ingest turns batch files into remediation targets.
package ingest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/schema"
)

// MetadataPayloadFile is set on targets whose payload was read from a file.
// It holds the absolute path so a fixed payload can be written back.
const MetadataPayloadFile = "payload_file"

//go:embed batch.schema.json
var batchSchema []byte

// Batch is the on-disk shape of a targets file
type Batch struct {
	Targets []TargetSpec `json:"targets" yaml:"targets"`
}

// TargetSpec describes one target. Exactly one of Payload and PayloadFile may be set.
type TargetSpec struct {
	ID          string            `json:"id" yaml:"id"`
	Category    string            `json:"category" yaml:"category"`
	Payload     string            `json:"payload,omitempty" yaml:"payload,omitempty"`
	PayloadFile string            `json:"payload_file,omitempty" yaml:"payload_file,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// LoadBatch reads a YAML, JSON or JSONC batch file. payload_file entries are
// resolved relative to the batch file.
func LoadBatch(path string) ([]models.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading targets file: %w", err)
	}
	if format.IsJSONCFile(path) {
		data = format.StripJSONC(data)
	}

	targets, err := ParseBatch(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("error loading targets file %s: %w", path, err)
	}
	return targets, nil
}

// ParseBatch validates data against the batch schema and builds targets.
// Category names are normalized; names that are not known categories are kept
// as given so the orchestrator reports them as unknown.
func ParseBatch(data []byte, baseDir string) ([]models.Target, error) {
	doc, err := format.ToJSON(data)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateDocument(batchSchema, doc); err != nil {
		return nil, err
	}

	var batch Batch
	if err := json.Unmarshal(doc, &batch); err != nil {
		return nil, fmt.Errorf("error decoding batch: %w", err)
	}

	seen := make(map[string]bool, len(batch.Targets))
	targets := make([]models.Target, 0, len(batch.Targets))
	for _, spec := range batch.Targets {
		if seen[spec.ID] {
			return nil, fmt.Errorf("duplicate target id: %s", spec.ID)
		}
		seen[spec.ID] = true

		target, err := spec.toTarget(baseDir)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (s TargetSpec) toTarget(baseDir string) (models.Target, error) {
	category, ok := models.ParseCategory(s.Category)
	if !ok {
		category = models.Category(strings.TrimSpace(s.Category))
	}

	target := models.Target{ID: s.ID, Category: category}
	if len(s.Metadata) > 0 {
		target.Metadata = make(map[string]string, len(s.Metadata)+1)
		for k, v := range s.Metadata {
			target.Metadata[k] = v
		}
	}

	switch {
	case s.PayloadFile != "":
		path := s.PayloadFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return models.Target{}, fmt.Errorf("target %s: error resolving payload file: %w", s.ID, err)
		}
		payload, err := os.ReadFile(abs)
		if err != nil {
			return models.Target{}, fmt.Errorf("target %s: error reading payload file: %w", s.ID, err)
		}
		if target.Metadata == nil {
			target.Metadata = make(map[string]string, 1)
		}
		target.Metadata[MetadataPayloadFile] = abs
		target.Payload = payload
	case s.Payload != "":
		target.Payload = []byte(s.Payload)
	}
	return target, nil
}

// WriteBack writes each fixed session's payload to the file it was read from.
// It returns the paths written.
func WriteBack(sessions []models.Session) ([]string, error) {
	var written []string
	for _, s := range sessions {
		if s.Status != models.StatusFixed || s.Payload == nil {
			continue
		}
		path := s.Target.Metadata[MetadataPayloadFile]
		if path == "" {
			continue
		}

		mode := os.FileMode(0644)
		if info, err := os.Stat(path); err == nil {
			mode = info.Mode().Perm()
		}
		if err := os.WriteFile(path, s.Payload, mode); err != nil {
			return written, fmt.Errorf("error writing fixed payload for %s: %w", s.Target.ID, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// Package dataset imports image directories into stored datasets.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/datastore"
	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/logging"
	"github.com/tmakinen/pixelset/internal/observability"
)

// Dataset type names as stored in the datastore.
const (
	TypeClassification = "classification"
	TypeSegmentation   = "segmentation"
)

// Classification labels assigned by filename matching.
const (
	LabelAbnormal = "abnormal"
	LabelNormal   = "normal"
)

// QualifiesAsSample reports whether a directory entry name is an image the
// importers accept. Only .jpg and .png files qualify.
func QualifiesAsSample(name string) bool {
	return strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".png")
}

// LabelForFilename assigns the classification label for a filename:
// "abnormal" when the name contains that substring, "normal" otherwise.
func LabelForFilename(name string) string {
	if strings.Contains(name, LabelAbnormal) {
		return LabelAbnormal
	}
	return LabelNormal
}

// Importer converts image directories into persisted datasets.
type Importer struct {
	Settings *conf.Settings
	Store    datastore.Interface
	Metrics  *observability.ImportMetrics // optional

	logger *slog.Logger
}

// NewImporter returns an Importer bound to the given store.
func NewImporter(settings *conf.Settings, store datastore.Interface, metrics *observability.ImportMetrics) *Importer {
	return &Importer{
		Settings: settings,
		Store:    store,
		Metrics:  metrics,
		logger:   logging.ForService("importer"),
	}
}

// Import walks the configured directory layout and stores the resulting
// dataset. Returns the created dataset and the number of created samples.
func (im *Importer) Import(ctx context.Context, dir string) (*datastore.Dataset, int, error) {
	start := time.Now()

	name := im.Settings.Import.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}

	var (
		samples []datastore.Sample
		err     error
	)
	switch im.Settings.Import.Type {
	case TypeClassification:
		samples, err = im.collectClassification(ctx, dir)
	case TypeSegmentation:
		samples, err = im.collectSegmentation(ctx, dir)
	default:
		err = errors.Newf("unknown import type: %s", im.Settings.Import.Type).
			Component("importer").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		if im.Metrics != nil {
			im.Metrics.RecordImportError(name)
		}
		return nil, 0, err
	}

	if im.Settings.Import.Shuffle {
		rand.Shuffle(len(samples), func(i, j int) {
			samples[i], samples[j] = samples[j], samples[i]
		})
	}

	dataset := &datastore.Dataset{
		ID:   uuid.NewString(),
		Name: name,
		Type: im.Settings.Import.Type,
	}
	if err := im.Store.CreateDataset(dataset); err != nil {
		if im.Metrics != nil {
			im.Metrics.RecordImportError(name)
		}
		return nil, 0, err
	}
	if err := im.Store.AddSamples(dataset.ID, samples); err != nil {
		if im.Metrics != nil {
			im.Metrics.RecordImportError(name)
		}
		return nil, 0, err
	}

	if im.Metrics != nil {
		im.Metrics.RecordSamplesImported(name, dataset.Type, len(samples))
		im.Metrics.RecordImportDuration(time.Since(start).Seconds())
	}
	im.logger.Info("dataset imported",
		"dataset", name,
		"type", dataset.Type,
		"samples", len(samples),
		"duration_ms", time.Since(start).Milliseconds())

	return dataset, len(samples), nil
}

// collectClassification enumerates images directly under dir, or under the
// configured split subdirectory, and labels them by filename.
func (im *Importer) collectClassification(ctx context.Context, dir string) ([]datastore.Sample, error) {
	split := im.Settings.Import.Split
	datasetPath := dir
	if split != "" {
		datasetPath = filepath.Join(dir, split)
	}

	entries, err := os.ReadDir(datasetPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading dataset directory: %w", err)).
			Component("importer").
			Category(errors.CategoryImport).
			Context("dir", datasetPath).
			Build()
	}

	var samples []datastore.Sample
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !QualifiesAsSample(entry.Name()) {
			continue
		}
		samples = append(samples, datastore.Sample{
			FilePath: filepath.Join(datasetPath, entry.Name()),
			Split:    split,
			Label:    LabelForFilename(entry.Name()),
		})
	}
	return samples, nil
}

// collectSegmentation pairs images under the data subdirectory with greyscale
// masks of the same filename under the labels subdirectory.
func (im *Importer) collectSegmentation(ctx context.Context, dir string) ([]datastore.Sample, error) {
	dataDir := filepath.Join(dir, im.Settings.Import.DataPath)
	labelsDir := filepath.Join(dir, im.Settings.Import.LabelsPath)

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading data directory: %w", err)).
			Component("importer").
			Category(errors.CategoryImport).
			Context("dir", dataDir).
			Build()
	}

	var samples []datastore.Sample
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !QualifiesAsSample(entry.Name()) {
			continue
		}

		maskPath := filepath.Join(labelsDir, entry.Name())
		if _, err := os.Stat(maskPath); err != nil {
			im.logger.Warn("skipping image without mask",
				"image", entry.Name(),
				"labels_dir", labelsDir)
			continue
		}

		samples = append(samples, datastore.Sample{
			FilePath: filepath.Join(dataDir, entry.Name()),
			MaskPath: maskPath,
		})
	}
	return samples, nil
}

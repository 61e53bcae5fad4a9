// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/errors"
)

// ErrDatasetNotFound is returned when a dataset lookup fails.
var ErrDatasetNotFound = errors.NewStd("dataset not found")

// ErrSampleNotFound is returned when a keyed update references an unknown file path.
var ErrSampleNotFound = errors.NewStd("sample not found")

// Interface abstracts the underlying database implementation and defines the
// operations available on stored datasets.
type Interface interface {
	Open() error
	Close() error
	CreateDataset(dataset *Dataset) error
	GetDataset(name string) (*Dataset, error)
	ListDatasets() ([]Dataset, error)
	DeleteDataset(name string) error
	AddSamples(datasetID string, samples []Sample) error
	CountSamples(datasetID string) (int64, error)
	ListSamples(datasetID, split string, limit, offset int) ([]Sample, error)
	TakeRandom(datasetID string, n int) ([]Sample, error)
	GetSample(id uint) (*Sample, error)
	SetValues(datasetID, field string, byFilePath map[string]Prediction) error
	GetPredictions(datasetID, field string) (map[string]Prediction, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Datastore.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Datastore.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// Close closes the underlying database connection.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return errors.New(fmt.Errorf("getting underlying db handle: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sqlDB.Close()
}

// CreateDataset stores a new dataset record.
func (ds *DataStore) CreateDataset(dataset *Dataset) error {
	if err := ds.DB.Create(dataset).Error; err != nil {
		return errors.New(fmt.Errorf("creating dataset: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(dataset.Name, 0).
			Build()
	}
	return nil
}

// GetDataset looks up a dataset by name.
func (ds *DataStore) GetDataset(name string) (*Dataset, error) {
	var dataset Dataset
	err := ds.DB.Where("name = ?", name).First(&dataset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(fmt.Errorf("%w: %s", ErrDatasetNotFound, name)).
				Component("datastore").
				Category(errors.CategoryNotFound).
				DatasetContext(name, 0).
				Build()
		}
		return nil, errors.New(fmt.Errorf("getting dataset: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(name, 0).
			Build()
	}
	return &dataset, nil
}

// ListDatasets returns all datasets ordered by creation time.
func (ds *DataStore) ListDatasets() ([]Dataset, error) {
	var datasets []Dataset
	if err := ds.DB.Order("created_at ASC").Find(&datasets).Error; err != nil {
		return nil, errors.New(fmt.Errorf("listing datasets: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return datasets, nil
}

// DeleteDataset removes a dataset together with its samples and predictions.
// Cascading is done explicitly so behavior does not depend on SQLite's
// foreign-key pragma.
func (ds *DataStore) DeleteDataset(name string) error {
	dataset, err := ds.GetDataset(name)
	if err != nil {
		return err
	}
	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sample_id IN (?)",
			tx.Model(&Sample{}).Select("id").Where("dataset_id = ?", dataset.ID),
		).Delete(&Prediction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("dataset_id = ?", dataset.ID).Delete(&Sample{}).Error; err != nil {
			return err
		}
		return tx.Delete(dataset).Error
	})
	if err != nil {
		return errors.New(fmt.Errorf("deleting dataset: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(name, 0).
			Build()
	}
	return nil
}

// AddSamples bulk-inserts samples into a dataset as a single transaction.
func (ds *DataStore) AddSamples(datasetID string, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	for i := range samples {
		samples[i].DatasetID = datasetID
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(samples, 100).Error
	})
	if err != nil {
		return errors.New(fmt.Errorf("adding samples: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(datasetID, len(samples)).
			Build()
	}
	return nil
}

// CountSamples returns the number of samples in a dataset.
func (ds *DataStore) CountSamples(datasetID string) (int64, error) {
	var count int64
	err := ds.DB.Model(&Sample{}).Where("dataset_id = ?", datasetID).Count(&count).Error
	if err != nil {
		return 0, errors.New(fmt.Errorf("counting samples: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(datasetID, 0).
			Build()
	}
	return count, nil
}

// ListSamples returns samples from a dataset, optionally filtered by split.
// A non-positive limit returns all matching samples.
func (ds *DataStore) ListSamples(datasetID, split string, limit, offset int) ([]Sample, error) {
	query := ds.DB.Where("dataset_id = ?", datasetID)
	if split != "" {
		query = query.Where("split = ?", split)
	}
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}

	var samples []Sample
	if err := query.Order("id ASC").Find(&samples).Error; err != nil {
		return nil, errors.New(fmt.Errorf("listing samples: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(datasetID, 0).
			Build()
	}
	return samples, nil
}

// TakeRandom returns up to n samples from a dataset in random order.
func (ds *DataStore) TakeRandom(datasetID string, n int) ([]Sample, error) {
	if n <= 0 {
		return nil, nil
	}
	// SQLite and MySQL disagree on the random function name
	randFn := "RANDOM()"
	if ds.DB.Dialector.Name() == "mysql" {
		randFn = "RAND()"
	}

	var samples []Sample
	err := ds.DB.Where("dataset_id = ?", datasetID).
		Order(randFn).
		Limit(n).
		Find(&samples).Error
	if err != nil {
		return nil, errors.New(fmt.Errorf("taking random samples: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(datasetID, n).
			Build()
	}
	return samples, nil
}

// GetSample returns a single sample by primary key.
func (ds *DataStore) GetSample(id uint) (*Sample, error) {
	var sample Sample
	err := ds.DB.First(&sample, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(fmt.Errorf("%w: id %d", ErrSampleNotFound, id)).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.New(fmt.Errorf("getting sample: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return &sample, nil
}

// SetValues merges predictions onto samples keyed by file path, as a single
// transaction. Existing predictions under the same field are replaced. A file
// path that matches no sample in the dataset fails the whole merge.
func (ds *DataStore) SetValues(datasetID, field string, byFilePath map[string]Prediction) error {
	if len(byFilePath) == 0 {
		return nil
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		for filePath, prediction := range byFilePath {
			var sample Sample
			err := tx.Where("dataset_id = ? AND file_path = ?", datasetID, filePath).
				First(&sample).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrSampleNotFound, filePath)
				}
				return err
			}

			prediction.SampleID = sample.ID
			prediction.Field = field
			prediction.ID = 0

			// Replace any previous prediction for this sample and field
			if err := tx.Where("sample_id = ? AND field = ?", sample.ID, field).
				Delete(&Prediction{}).Error; err != nil {
				return err
			}
			if err := tx.Create(&prediction).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(fmt.Errorf("merging predictions: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(datasetID, len(byFilePath)).
			Context("field", field).
			Build()
	}
	return nil
}

// GetPredictions returns predictions for a dataset field keyed by sample file path.
func (ds *DataStore) GetPredictions(datasetID, field string) (map[string]Prediction, error) {
	type row struct {
		Prediction
		FilePath string
	}
	var rows []row
	err := ds.DB.Model(&Prediction{}).
		Select("predictions.*, samples.file_path").
		Joins("JOIN samples ON samples.id = predictions.sample_id").
		Where("samples.dataset_id = ? AND predictions.field = ?", datasetID, field).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.New(fmt.Errorf("getting predictions: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			DatasetContext(datasetID, 0).
			Context("field", field).
			Build()
	}

	result := make(map[string]Prediction, len(rows))
	for i := range rows {
		result[rows[i].FilePath] = rows[i].Prediction
	}
	return result, nil
}

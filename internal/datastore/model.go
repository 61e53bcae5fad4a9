// model.go this code defines the data model for the application
package datastore

import "time"

// Dataset groups imported samples under a name.
type Dataset struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Name      string `gorm:"uniqueIndex;not null"`
	Type      string `gorm:"type:varchar(20)"` // "classification" or "segmentation"
	CreatedAt time.Time
	Samples   []Sample `gorm:"foreignKey:DatasetID;constraint:OnDelete:CASCADE"`
}

// Sample pairs a file path with its ground truth inside a dataset.
type Sample struct {
	ID        uint   `gorm:"primaryKey"`
	DatasetID string `gorm:"index:idx_samples_dataset;index:idx_samples_dataset_filepath,unique;not null;type:varchar(36)"`
	FilePath  string `gorm:"index:idx_samples_dataset_filepath,unique;not null"`
	Split     string `gorm:"index:idx_samples_split;type:varchar(32)"` // optional split name, e.g. "train"
	Label     string // classification ground truth
	MaskPath  string // segmentation ground truth image, if any
	CreatedAt time.Time

	Predictions []Prediction `gorm:"foreignKey:SampleID;constraint:OnDelete:CASCADE"`
}

// Prediction is a model output merged back onto a sample under a named field.
type Prediction struct {
	ID         uint   `gorm:"primaryKey"`
	SampleID   uint   `gorm:"index:idx_predictions_sample_field,unique;not null"`
	Field      string `gorm:"index:idx_predictions_sample_field,unique;not null;type:varchar(64)"`
	Label      string // predicted classification label, if any
	Confidence float64
	MaskPath   string // predicted segmentation mask image, if any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

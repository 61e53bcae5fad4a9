// validate.go validation of user provided settings
package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks settings for values the pipeline cannot work with.
func ValidateSettings(settings *Settings) error {
	var validationErrors []string

	if err := validateDatastoreSettings(&settings.Datastore); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if err := validateImportSettings(&settings.Import); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if err := validateTrainSettings(&settings.Train); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("settings validation failed: %v", validationErrors)
	}

	return nil
}

func validateDatastoreSettings(s *DatastoreSettings) error {
	if s.SQLite.Enabled && s.MySQL.Enabled {
		return errors.New("only one of sqlite and mysql datastores may be enabled")
	}
	if s.SQLite.Enabled && s.SQLite.Path == "" {
		return errors.New("sqlite datastore requires a path")
	}
	if s.MySQL.Enabled {
		if s.MySQL.Database == "" || s.MySQL.Host == "" {
			return errors.New("mysql datastore requires database and host")
		}
	}
	return nil
}

func validateImportSettings(s *ImportSettings) error {
	switch s.Type {
	case "classification", "segmentation":
		return nil
	default:
		return fmt.Errorf("unknown import type: %s", s.Type)
	}
}

func validateTrainSettings(s *TrainSettings) error {
	if s.NumClasses < 2 {
		return fmt.Errorf("train.numclasses must be at least 2, got %d", s.NumClasses)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("train.batchsize must be positive, got %d", s.BatchSize)
	}
	if s.ImageSize < 8 {
		return fmt.Errorf("train.imagesize must be at least 8, got %d", s.ImageSize)
	}
	if s.MaxEpochs < 0 {
		return fmt.Errorf("train.maxepochs must not be negative, got %d", s.MaxEpochs)
	}
	if s.LearningRate <= 0 {
		return fmt.Errorf("train.learningrate must be positive, got %g", s.LearningRate)
	}
	switch s.Strategy {
	case "freeze", "full":
	default:
		return fmt.Errorf("unknown finetune strategy: %s", s.Strategy)
	}
	switch s.Head {
	case "fpn", "linear":
	default:
		return fmt.Errorf("unknown segmentation head: %s", s.Head)
	}
	return nil
}

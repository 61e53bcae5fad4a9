// interfaces_test.go: Unit tests for dataset database operations
package datastore

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DataStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Failed to create test database")

	err = db.AutoMigrate(&Dataset{}, &Sample{}, &Prediction{})
	require.NoError(t, err, "Failed to migrate schema")

	return &DataStore{DB: db}
}

// newTestDataset creates and stores a dataset with n samples, returning it.
func newTestDataset(t *testing.T, ds *DataStore, name string, n int) *Dataset {
	t.Helper()
	dataset := &Dataset{ID: uuid.NewString(), Name: name, Type: "classification"}
	require.NoError(t, ds.CreateDataset(dataset))

	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, Sample{
			FilePath: fmt.Sprintf("/data/%s/img_%03d.jpg", name, i),
			Label:    "normal",
		})
	}
	require.NoError(t, ds.AddSamples(dataset.ID, samples))
	return dataset
}

func TestDatasetLifecycle(t *testing.T) {
	ds := setupTestDB(t)

	t.Run("CreateAndGet", func(t *testing.T) {
		dataset := &Dataset{ID: uuid.NewString(), Name: "cubes", Type: "classification"}
		require.NoError(t, ds.CreateDataset(dataset))

		got, err := ds.GetDataset("cubes")
		require.NoError(t, err)
		assert.Equal(t, dataset.ID, got.ID)
		assert.Equal(t, "classification", got.Type)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := ds.GetDataset("no-such-dataset")
		assert.ErrorIs(t, err, ErrDatasetNotFound)
	})

	t.Run("DuplicateNameRejected", func(t *testing.T) {
		first := &Dataset{ID: uuid.NewString(), Name: "dup", Type: "classification"}
		require.NoError(t, ds.CreateDataset(first))

		second := &Dataset{ID: uuid.NewString(), Name: "dup", Type: "classification"}
		assert.Error(t, ds.CreateDataset(second))
	})

	t.Run("Delete", func(t *testing.T) {
		dataset := newTestDataset(t, ds, "victim", 3)
		require.NoError(t, ds.DeleteDataset("victim"))

		_, err := ds.GetDataset("victim")
		assert.ErrorIs(t, err, ErrDatasetNotFound)

		count, err := ds.CountSamples(dataset.ID)
		require.NoError(t, err)
		assert.Zero(t, count, "cascade should remove samples")
	})
}

func TestSampleOperations(t *testing.T) {
	t.Run("AddAndCount", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "carla", 12)

		count, err := ds.CountSamples(dataset.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(12), count)
	})

	t.Run("AddEmptySliceIsNoop", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "carla", 0)
		require.NoError(t, ds.AddSamples(dataset.ID, nil))
	})

	t.Run("ListWithSplitFilter", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := &Dataset{ID: uuid.NewString(), Name: "split-ds", Type: "classification"}
		require.NoError(t, ds.CreateDataset(dataset))
		require.NoError(t, ds.AddSamples(dataset.ID, []Sample{
			{FilePath: "/d/train/a.jpg", Split: "train"},
			{FilePath: "/d/train/b.jpg", Split: "train"},
			{FilePath: "/d/val/c.jpg", Split: "val"},
		}))

		train, err := ds.ListSamples(dataset.ID, "train", 0, 0)
		require.NoError(t, err)
		assert.Len(t, train, 2)

		all, err := ds.ListSamples(dataset.ID, "", 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("ListPagination", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "paged", 10)

		page, err := ds.ListSamples(dataset.ID, "", 4, 8)
		require.NoError(t, err)
		assert.Len(t, page, 2)
	})

	t.Run("TakeRandom", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "rand", 20)

		taken, err := ds.TakeRandom(dataset.ID, 5)
		require.NoError(t, err)
		assert.Len(t, taken, 5)

		seen := make(map[uint]bool)
		for i := range taken {
			assert.False(t, seen[taken[i].ID], "TakeRandom should not repeat samples")
			seen[taken[i].ID] = true
		}
	})

	t.Run("TakeRandomMoreThanAvailable", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "small", 2)

		taken, err := ds.TakeRandom(dataset.ID, 5)
		require.NoError(t, err)
		assert.Len(t, taken, 2)
	})

	t.Run("DuplicateFilePathRejected", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "uniq", 0)
		require.NoError(t, ds.AddSamples(dataset.ID, []Sample{{FilePath: "/d/a.jpg"}}))
		assert.Error(t, ds.AddSamples(dataset.ID, []Sample{{FilePath: "/d/a.jpg"}}))
	})
}

func TestSetValues(t *testing.T) {
	t.Run("MergeByFilePath", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "preds", 3)

		samples, err := ds.ListSamples(dataset.ID, "", 0, 0)
		require.NoError(t, err)

		byPath := map[string]Prediction{
			samples[0].FilePath: {Label: "abnormal", Confidence: 0.93},
			samples[1].FilePath: {Label: "normal", Confidence: 0.71},
		}
		require.NoError(t, ds.SetValues(dataset.ID, "predictions", byPath))

		merged, err := ds.GetPredictions(dataset.ID, "predictions")
		require.NoError(t, err)
		require.Len(t, merged, 2)
		assert.Equal(t, "abnormal", merged[samples[0].FilePath].Label)
		assert.InDelta(t, 0.93, merged[samples[0].FilePath].Confidence, 1e-9)
	})

	t.Run("ReplacesExistingField", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "replace", 1)

		samples, err := ds.ListSamples(dataset.ID, "", 0, 0)
		require.NoError(t, err)
		path := samples[0].FilePath

		require.NoError(t, ds.SetValues(dataset.ID, "predictions",
			map[string]Prediction{path: {Label: "normal", Confidence: 0.5}}))
		require.NoError(t, ds.SetValues(dataset.ID, "predictions",
			map[string]Prediction{path: {Label: "abnormal", Confidence: 0.9}}))

		merged, err := ds.GetPredictions(dataset.ID, "predictions")
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.Equal(t, "abnormal", merged[path].Label)
	})

	t.Run("UnknownFilePathFailsWholeMerge", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "strict", 1)

		samples, err := ds.ListSamples(dataset.ID, "", 0, 0)
		require.NoError(t, err)

		err = ds.SetValues(dataset.ID, "predictions", map[string]Prediction{
			samples[0].FilePath: {Label: "normal"},
			"/missing/file.jpg": {Label: "abnormal"},
		})
		assert.ErrorIs(t, err, ErrSampleNotFound)

		merged, err := ds.GetPredictions(dataset.ID, "predictions")
		require.NoError(t, err)
		assert.Empty(t, merged, "failed merge must not leave partial state")
	})

	t.Run("DistinctFieldsCoexist", func(t *testing.T) {
		ds := setupTestDB(t)
		dataset := newTestDataset(t, ds, "fields", 1)

		samples, err := ds.ListSamples(dataset.ID, "", 0, 0)
		require.NoError(t, err)
		path := samples[0].FilePath

		require.NoError(t, ds.SetValues(dataset.ID, "predictions",
			map[string]Prediction{path: {Label: "a"}}))
		require.NoError(t, ds.SetValues(dataset.ID, "baseline",
			map[string]Prediction{path: {Label: "b"}}))

		preds, err := ds.GetPredictions(dataset.ID, "predictions")
		require.NoError(t, err)
		baseline, err := ds.GetPredictions(dataset.ID, "baseline")
		require.NoError(t, err)
		assert.Equal(t, "a", preds[path].Label)
		assert.Equal(t, "b", baseline[path].Label)
	})
}

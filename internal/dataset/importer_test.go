package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/datastore"
)

func setupStore(t *testing.T) *datastore.SQLiteStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&datastore.Dataset{}, &datastore.Sample{}, &datastore.Prediction{}))
	return &datastore.SQLiteStore{DataStore: datastore.DataStore{DB: db}}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func classificationSettings(name string) *conf.Settings {
	s := &conf.Settings{}
	s.Import.Name = name
	s.Import.Type = TypeClassification
	return s
}

func TestLabelForFilename(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"abnormal_001.jpg", "abnormal"},
		{"cube_abnormal.png", "abnormal"},
		{"normal_001.jpg", "normal"},
		{"cube_17.png", "normal"},
		{"ABNORMAL_upper.jpg", "normal"}, // substring match is case sensitive
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LabelForFilename(tt.name))
		})
	}
}

func TestQualifiesAsSample(t *testing.T) {
	assert.True(t, QualifiesAsSample("a.jpg"))
	assert.True(t, QualifiesAsSample("a.png"))
	assert.False(t, QualifiesAsSample("a.jpeg"))
	assert.False(t, QualifiesAsSample("a.gif"))
	assert.False(t, QualifiesAsSample("a.txt"))
	assert.False(t, QualifiesAsSample("jpg"))
}

func TestClassificationImport(t *testing.T) {
	t.Run("LabelsAndCount", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "abnormal_001.jpg"))
		touch(t, filepath.Join(dir, "abnormal_002.png"))
		touch(t, filepath.Join(dir, "normal_001.jpg"))
		touch(t, filepath.Join(dir, "cube_05.png"))
		touch(t, filepath.Join(dir, "notes.txt"))
		touch(t, filepath.Join(dir, "thumb.gif"))

		store := setupStore(t)
		im := NewImporter(classificationSettings("cubes"), store, nil)

		ds, count, err := im.Import(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, 4, count, "only .jpg and .png files qualify")

		stored, err := store.CountSamples(ds.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), stored, "created samples must equal qualifying files")

		samples, err := store.ListSamples(ds.ID, "", 0, 0)
		require.NoError(t, err)
		for i := range samples {
			name := filepath.Base(samples[i].FilePath)
			if assert.True(t, QualifiesAsSample(name)) {
				assert.Equal(t, LabelForFilename(name), samples[i].Label)
			}
		}
	})

	t.Run("SplitSubdirectory", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "train", "abnormal_1.jpg"))
		touch(t, filepath.Join(dir, "train", "normal_1.jpg"))
		touch(t, filepath.Join(dir, "val", "normal_2.jpg"))

		settings := classificationSettings("split-ds")
		settings.Import.Split = "train"

		store := setupStore(t)
		im := NewImporter(settings, store, nil)

		ds, count, err := im.Import(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, 2, count, "only the split subdirectory is enumerated")

		samples, err := store.ListSamples(ds.ID, "train", 0, 0)
		require.NoError(t, err)
		assert.Len(t, samples, 2)
	})

	t.Run("EmptyDirectory", func(t *testing.T) {
		store := setupStore(t)
		im := NewImporter(classificationSettings("empty"), store, nil)

		_, count, err := im.Import(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		store := setupStore(t)
		im := NewImporter(classificationSettings("missing"), store, nil)

		_, _, err := im.Import(context.Background(), "/no/such/directory")
		assert.Error(t, err)
	})

	t.Run("NameDefaultsToDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "cubes")
		touch(t, filepath.Join(dir, "normal_1.jpg"))

		settings := classificationSettings("")
		store := setupStore(t)
		im := NewImporter(settings, store, nil)

		ds, _, err := im.Import(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, "cubes", ds.Name)
	})
}

func TestSegmentationImport(t *testing.T) {
	segSettings := func(name string) *conf.Settings {
		s := &conf.Settings{}
		s.Import.Name = name
		s.Import.Type = TypeSegmentation
		s.Import.DataPath = "CameraRGB"
		s.Import.LabelsPath = "CameraSeg"
		return s
	}

	t.Run("PairsImagesWithMasks", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "CameraRGB", "frame_000.png"))
		touch(t, filepath.Join(dir, "CameraRGB", "frame_001.png"))
		touch(t, filepath.Join(dir, "CameraSeg", "frame_000.png"))
		touch(t, filepath.Join(dir, "CameraSeg", "frame_001.png"))

		store := setupStore(t)
		im := NewImporter(segSettings("carla"), store, nil)

		ds, count, err := im.Import(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		samples, err := store.ListSamples(ds.ID, "", 0, 0)
		require.NoError(t, err)
		for i := range samples {
			assert.NotEmpty(t, samples[i].MaskPath)
			assert.FileExists(t, samples[i].MaskPath)
		}
	})

	t.Run("SkipsImagesWithoutMask", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "CameraRGB", "frame_000.png"))
		touch(t, filepath.Join(dir, "CameraRGB", "orphan.png"))
		touch(t, filepath.Join(dir, "CameraSeg", "frame_000.png"))

		store := setupStore(t)
		im := NewImporter(segSettings("carla"), store, nil)

		_, count, err := im.Import(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("ShuffleKeepsAllSamples", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
			touch(t, filepath.Join(dir, "CameraRGB", name))
			touch(t, filepath.Join(dir, "CameraSeg", name))
		}

		settings := segSettings("shuffled")
		settings.Import.Shuffle = true

		store := setupStore(t)
		im := NewImporter(settings, store, nil)

		_, count, err := im.Import(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})
}

func TestImportCancellation(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "normal_1.jpg"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := setupStore(t)
	im := NewImporter(classificationSettings("cancelled"), store, nil)

	_, _, err := im.Import(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

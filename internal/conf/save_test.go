package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSaveSettings(t *testing.T) {
	t.Run("Roundtrip", func(t *testing.T) {
		settings := &Settings{}
		settings.Datastore.SQLite.Enabled = true
		settings.Datastore.SQLite.Path = "pixelset.db"
		settings.Train.Dataset = "carla-demo"
		settings.Train.NumClasses = 21

		path := filepath.Join(t.TempDir(), "nested", "config.yaml")
		require.NoError(t, SaveSettings(settings, path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var restored Settings
		require.NoError(t, yaml.Unmarshal(data, &restored))
		assert.Equal(t, "carla-demo", restored.Train.Dataset)
		assert.Equal(t, 21, restored.Train.NumClasses)
		assert.True(t, restored.Datastore.SQLite.Enabled)
	})

	t.Run("UnwritablePath", func(t *testing.T) {
		err := SaveSettings(&Settings{}, "/proc/not-writable/config.yaml")
		assert.Error(t, err)
	})
}

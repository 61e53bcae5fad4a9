package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tmakinen/pixelset/internal/conf"
)

func TestConfigSaveSubcommand(t *testing.T) {
	settings := &conf.Settings{}
	settings.Main.Name = "pixelset-test"
	root := RootCommand(settings)

	cmd, _, err := root.Find([]string{"config", "save"})
	require.NoError(t, err)
	assert.Equal(t, "save", cmd.Name())
	assert.Equal(t, "config", cmd.Parent().Name())

	out := filepath.Join(t.TempDir(), "config.yaml")
	root.SetArgs([]string{"config", "save", "-o", out})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	saved := &conf.Settings{}
	require.NoError(t, yaml.Unmarshal(data, saved))
	assert.Equal(t, "pixelset-test", saved.Main.Name)
}

func TestConfigSaveRejectsArgs(t *testing.T) {
	root := RootCommand(&conf.Settings{})
	root.SetArgs([]string{"config", "save", "extra"})
	assert.Error(t, root.Execute())
}

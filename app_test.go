package cvautomation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cvautomation/pkg/config"
)

func sourceConfigWithUnknownPlugin() config.SourceConfig {
	return config.SourceConfig{Name: "cam1", Plugin: "11111111-1111-1111-1111-111111111111"}
}

func writeEnv(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"0\"\n"), 0o644))
	return path
}

func TestNewAppPreparesDirectoriesAndRegistry(t *testing.T) {
	dir := t.TempDir()
	envPath := writeEnv(t, dir)

	app, err := NewApp(envPath)
	require.NoError(t, err)
	require.DirExists(t, app.env.SourceConfigDir)
	require.DirExists(t, app.env.ThreadConfigDir)
	require.DirExists(t, app.env.PluginDir)

	require.NotEmpty(t, app.registry.Modules())

	app.watchSrc.Close()
	app.watchThr.Close()
}

func TestAddSourceRejectsUnknownPlugin(t *testing.T) {
	dir := t.TempDir()
	envPath := writeEnv(t, dir)

	app, err := NewApp(envPath)
	require.NoError(t, err)
	defer app.watchSrc.Close()
	defer app.watchThr.Close()

	err = app.addSource("cam1", sourceConfigWithUnknownPlugin())
	require.Error(t, err)
}

package cli_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ignatij/dealflow/internal/cli"
	internal_http "github.com/ignatij/dealflow/internal/http"
	"github.com/ignatij/dealflow/pkg/service"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T) string {
	srv := httptest.NewServer(internal_http.NewServer(storage.NewMockStore(), nil).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

// execute runs one dealflow invocation against the server at url.
func execute(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	rootCmd := &cobra.Command{Use: "dealflow"}
	cli.SetupCLI(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--server", url, "--log-level", "ERROR"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPipelineCommands(t *testing.T) {
	url := newAPI(t)

	out, err := execute(t, url, "pipeline", "list")
	require.NoError(t, err)
	assert.Equal(t, "No pipelines found.\n", out)

	out, err = execute(t, url, "pipeline", "create", "Sales", "--default")
	require.NoError(t, err)
	assert.Equal(t, "Created pipeline 'Sales' with ID 1\n", out)

	out, err = execute(t, url, "pipeline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "- ID: 1, Name: Sales (default)")

	out, err = execute(t, url, "pipeline", "edit", "1", "--name", "Enterprise", "--description", "big deals")
	require.NoError(t, err)
	assert.Equal(t, "Updated description, name of pipeline 1 ('Enterprise')\n", out)

	_, err = execute(t, url, "pipeline", "edit", "1")
	assert.ErrorContains(t, err, "nothing to update")

	_, err = execute(t, url, "stage", "add", "1", "Lead")
	require.NoError(t, err)
	_, err = execute(t, url, "pipeline", "delete", "1")
	assert.ErrorIs(t, err, service.ErrPipelineHasStages)

	out, err = execute(t, url, "pipeline", "delete", "1", "--force")
	require.NoError(t, err)
	assert.Equal(t, "Deleted pipeline with ID 1\n", out)

	_, err = execute(t, url, "pipeline", "delete", "abc")
	assert.ErrorContains(t, err, `invalid id "abc"`)
}

func TestStageCommands(t *testing.T) {
	url := newAPI(t)
	_, err := execute(t, url, "pipeline", "create", "Sales")
	require.NoError(t, err)

	out, err := execute(t, url, "stage", "list", "1")
	require.NoError(t, err)
	assert.Equal(t, "No stages found for pipeline 1.\n", out)

	out, err = execute(t, url, "stage", "add", "1", "Lead", "--color", "#3B82F6", "--probability", "10")
	require.NoError(t, err)
	assert.Equal(t, "Added stage 'Lead' with ID 1 at position 0\n", out)
	_, err = execute(t, url, "stage", "add", "1", "Demo", "--probability", "40")
	require.NoError(t, err)
	_, err = execute(t, url, "stage", "add", "1", "Won", "--color", "rgb(0,128,0)", "--probability", "100")
	require.NoError(t, err)

	_, err = execute(t, url, "stage", "add", "1", "Lost", "--probability", "101")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	out, err = execute(t, url, "stage", "move", "1", "2", "0")
	require.NoError(t, err)
	assert.Equal(t, "Stages of pipeline 1:\n"+
		"0. ID: 3, Name: Won, Color: #008000, Probability: 100%\n"+
		"1. ID: 1, Name: Lead, Color: #3b82f6, Probability: 10%\n"+
		"2. ID: 2, Name: Demo, Color: #6b7280, Probability: 40%\n", out)

	out, err = execute(t, url, "stage", "reorder", "1", "1,2,3")
	require.NoError(t, err)
	assert.Contains(t, out, "0. ID: 1, Name: Lead")
	assert.Contains(t, out, "2. ID: 3, Name: Won")

	_, err = execute(t, url, "stage", "reorder", "1", "1,2")
	assert.ErrorIs(t, err, service.ErrInvalidOrder)

	_, err = execute(t, url, "stage", "move", "1", "0", "5")
	assert.Error(t, err)

	out, err = execute(t, url, "stage", "edit", "2", "--probability", "55")
	require.NoError(t, err)
	assert.Equal(t, "Updated probability of stage 2 ('Demo', #6b7280, 55%)\n", out)

	_, err = execute(t, url, "stage", "edit", "2")
	assert.ErrorContains(t, err, "nothing to update")

	out, err = execute(t, url, "stage", "delete", "2")
	require.NoError(t, err)
	assert.Equal(t, "Deleted stage with ID 2\n", out)

	out, err = execute(t, url, "stage", "list", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "Demo")
}

func TestSeedCommand(t *testing.T) {
	url := newAPI(t)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipelines:
  - name: Sales
    default: true
    stages:
      - {name: New, probability: 10, default: true}
      - {name: Won, probability: 100}
`), 0o600))

	out, err := execute(t, url, "seed", path)
	require.NoError(t, err)
	assert.Equal(t, "Seeded 1 pipelines with 2 stages\n", out)

	_, err = execute(t, url, "stage", "delete", "1")
	assert.ErrorIs(t, err, service.ErrDefaultStage)

	_, err = execute(t, url, "seed", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

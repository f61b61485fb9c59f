package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ChargeAssign/internal/domain/equivalence"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/storage/archive"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

func repoInfo(t *testing.T, e *env, args ...string) charge.RepositoryInfo {
	t.Helper()
	out, err := e.run(t, "", append([]string{"-o", "json", "repo", "info"}, args...)...)
	require.NoError(t, err)
	var info charge.RepositoryInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	return info
}

func TestRepoBuildAndInfo(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "repo", "build", e.refs)
	require.NoError(t, err)
	assert.Contains(t, out, "built repository of 4 molecules")
	assert.FileExists(t, e.archive)

	info := repoInfo(t, e)
	assert.Equal(t, 4, info.Molecules)
	assert.Equal(t, 1, info.MinShell)
	assert.Equal(t, 2, info.MaxShell)
	assert.NotEmpty(t, info.Signatures)
	assert.Equal(t, equivalence.OracleRefine, info.Oracle)

	out, err = e.run(t, "", "repo", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Molecules:  4")
	assert.Contains(t, out, "Shells:     1..2")
	assert.Contains(t, out, "Oracle:     refine/1")
}

func TestRepo_RefusesArchiveOfOtherOracle(t *testing.T) {
	e := newEnv(t)
	e.build(t)
	d, err := archive.ReadFile(e.archive)
	require.NoError(t, err)
	d.Oracle = equivalence.OracleDreadnaut
	require.NoError(t, archive.WriteFile(e.archive, d))

	_, err = e.run(t, "", "repo", "add", filepath.Join(e.refs, "1.lgf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dreadnaut/1")

	_, err = e.run(t, "", "repo", "info")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different oracle")
}

func TestRepoMigrate_RequiresPostgres(t *testing.T) {
	e := newEnv(t)
	for _, sub := range [][]string{{"up"}, {"status"}, {"down", "--steps", "2"}} {
		_, err := e.run(t, "", append([]string{"repo", "migrate"}, sub...)...)
		require.Error(t, err, sub)
		assert.Contains(t, err.Error(), "repository.source postgres", sub)
	}
}

func TestRepoBuild_ShellOverrideAndOut(t *testing.T) {
	e := newEnv(t)
	target := filepath.Join(t.TempDir(), "shell1.zip")

	_, err := e.run(t, "", "repo", "build", "--max-shell", "1", "--out", target, e.refs)
	require.NoError(t, err)

	info := repoInfo(t, e, "--archive", target)
	assert.Equal(t, 1, info.MaxShell)
	assert.NoFileExists(t, e.archive)
}

func TestRepoBuild_MissingDir(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "repo", "build", filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestRepoRemoveAndAdd(t *testing.T) {
	e := newEnv(t)
	e.build(t)

	out, err := e.run(t, "", "repo", "remove", "1", "99")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 of 2 molecules")
	assert.Equal(t, 3, repoInfo(t, e).Molecules)

	_, err = e.run(t, "", "repo", "add", filepath.Join(e.refs, "1.lgf"))
	require.NoError(t, err)
	assert.Equal(t, 4, repoInfo(t, e).Molecules)

	// adding an id already present replaces it
	_, err = e.run(t, "", "repo", "add", filepath.Join(e.refs, "2.lgf"))
	require.NoError(t, err)
	assert.Equal(t, 4, repoInfo(t, e).Molecules)
}

func TestRepoRemove_InvalidID(t *testing.T) {
	e := newEnv(t)
	e.build(t)
	_, err := e.run(t, "", "repo", "remove", "water")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integer")
}

func TestRepoExport(t *testing.T) {
	e := newEnv(t)
	e.build(t)
	target := filepath.Join(t.TempDir(), "export.zip")

	out, err := e.run(t, "", "repo", "export", target)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 4 molecules")
	assert.Equal(t, 4, repoInfo(t, e, "--archive", target).Molecules)
}

func TestMolidOf(t *testing.T) {
	tests := []struct {
		path    string
		want    int
		wantErr bool
	}{
		{path: "42.lgf", want: 42},
		{path: "/data/refs/7.lgf", want: 7},
		{path: "0.lgf", want: 0},
		{path: "ethanol.lgf", wantErr: true},
		{path: "42.mol", wantErr: true},
		{path: "-3.lgf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := molidOf(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"elem/1", "iacm/1", "iacm/2"},
		sortedKeys(map[string]int{"iacm/2": 1, "elem/1": 3, "iacm/1": 2}))
}

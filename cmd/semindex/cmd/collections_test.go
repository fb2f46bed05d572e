package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionsCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	collectionsCmd, _, err := cmd.Find([]string{"collections"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, sc := range collectionsCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["create"], "should have create subcommand")
	assert.True(t, names["delete"], "should have delete subcommand")
}

func TestCollectionsCreateCmd_HasDimFlag(t *testing.T) {
	cmd := NewRootCmd()

	createCmd, _, err := cmd.Find([]string{"collections", "create"})
	require.NoError(t, err)

	flag := createCmd.Flags().Lookup("dim")
	assert.NotNil(t, flag, "should have --dim flag")
	assert.Equal(t, "768", flag.DefValue)
}

func TestRunCollectionsList_NoCollections(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	require.NoError(t, os.Chdir(tmpDir))

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"collections"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No collections found")
}

func TestRunCollectionsCreateThenList_ShowsCollection(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	require.NoError(t, os.Chdir(tmpDir))

	createCmd := NewRootCmd()
	createBuf := new(bytes.Buffer)
	createCmd.SetOut(createBuf)
	createCmd.SetErr(createBuf)
	createCmd.SetArgs([]string{"collections", "create", "api", "--dim", "8"})
	require.NoError(t, createCmd.Execute())
	assert.Contains(t, createBuf.String(), "api")

	require.DirExists(t, filepath.Join(tmpDir, ".semantica", "collections", "api"))

	listCmd := NewRootCmd()
	listBuf := new(bytes.Buffer)
	listCmd.SetOut(listBuf)
	listCmd.SetErr(listBuf)
	listCmd.SetArgs([]string{"collections"})
	require.NoError(t, listCmd.Execute())
	assert.Contains(t, listBuf.String(), "api")
}

func TestRunCollectionsCreate_DuplicateNameFails(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	require.NoError(t, os.Chdir(tmpDir))

	first := NewRootCmd()
	first.SetOut(new(bytes.Buffer))
	first.SetErr(new(bytes.Buffer))
	first.SetArgs([]string{"collections", "create", "dup", "--dim", "8"})
	require.NoError(t, first.Execute())

	second := NewRootCmd()
	buf := new(bytes.Buffer)
	second.SetOut(buf)
	second.SetErr(buf)
	second.SetArgs([]string{"collections", "create", "dup", "--dim", "8"})
	err := second.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRunCollectionsDelete_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	require.NoError(t, os.Chdir(tmpDir))

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"collections", "delete", "nonexistent"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunCollectionsCreateThenDelete_RemovesCollection(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	require.NoError(t, os.Chdir(tmpDir))

	createCmd := NewRootCmd()
	createCmd.SetOut(new(bytes.Buffer))
	createCmd.SetErr(new(bytes.Buffer))
	createCmd.SetArgs([]string{"collections", "create", "temp", "--dim", "8"})
	require.NoError(t, createCmd.Execute())

	deleteCmd := NewRootCmd()
	buf := new(bytes.Buffer)
	deleteCmd.SetOut(buf)
	deleteCmd.SetErr(buf)
	deleteCmd.SetArgs([]string{"collections", "delete", "temp"})
	require.NoError(t, deleteCmd.Execute())
	assert.Contains(t, buf.String(), "deleted")

	assert.NoDirExists(t, filepath.Join(tmpDir, ".semantica", "collections", "temp"))
}

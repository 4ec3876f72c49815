package journal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/releasectl/internal/config"
)

func TestJournal_Lines(t *testing.T) {
	var tee bytes.Buffer
	j := New(&tee)

	j.Line("*** update_code")
	j.HostLine("qa1a", "Cloning into cached-copy")
	j.Printf("release %s", "20240101000000")
	j.Line("a\nb\n")
	j.Blank()

	want := []string{
		"*** update_code",
		"  [qa1a] Cloning into cached-copy",
		"release 20240101000000",
		"a",
		"b",
		"",
	}
	assert.Equal(t, want, j.Snapshot())
	assert.Equal(t, 6, j.Len())
	assert.Equal(t, j.Text(), tee.String())
	assert.Len(t, j.ID(), 36)
	assert.Equal(t, j.ID()[:8], j.ShortID())
}

func TestJournal_Empty(t *testing.T) {
	j := New(nil)
	assert.Equal(t, "", j.Text())
	assert.NotEqual(t, j.ID(), New(nil).ID())
}

func TestJournal_ConcurrentAppend(t *testing.T) {
	j := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				j.HostLine(fmt.Sprintf("h%d", n), "line")
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 400, j.Len())
}

func TestFileName(t *testing.T) {
	meta := Meta{Application: "oregontrail", Environment: "qa1_na", Operation: "deploy", Release: "20240101000000"}
	assert.Equal(t, "oregontrail-qa1_na-deploy-20240101000000-0123abcd.log.zst",
		FileName(meta, "0123abcd-ffff-4fff-8fff-000000000000"))

	meta = Meta{Application: "apb_www", Environment: "qa1_eu", Operation: "verify-rollback"}
	assert.Equal(t, "apb_www-qa1_eu-verify_rollback-none-abc.log.zst", FileName(meta, "abc"))
}

func TestArchive_SaveAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	a := NewArchive(config.LogsConfig{Dir: dir, KeepRuns: 5})

	j := New(nil)
	j.Line("**** Deployment Successful ****")

	path, err := a.Save(j, Meta{Application: "keymaster", Environment: "qa1_na", Operation: "deploy", Release: "20240101000000"})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, dir, filepath.Dir(path))

	text, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "**** Deployment Successful ****\n", text)
}

func TestArchive_Disabled(t *testing.T) {
	a := NewArchive(config.LogsConfig{})
	assert.False(t, a.Enabled())

	path, err := a.Save(New(nil), Meta{Application: "keymaster"})
	require.NoError(t, err)
	assert.Empty(t, path)

	list, err := a.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRead_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+ArchiveExt)
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0644))

	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestArchive_PruneKeepsNewestPerGroup(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(config.LogsConfig{Dir: dir, KeepRuns: 2})

	base := time.Now().Add(-time.Hour)
	write := func(name string, age int) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0644))
		mt := base.Add(time.Duration(age) * time.Minute)
		require.NoError(t, os.Chtimes(path, mt, mt))
		return path
	}

	oldest := write("oregontrail-qa1_na-deploy-20240101000000-aaaaaaaa.log.zst", 1)
	mid := write("oregontrail-qa1_na-deploy-20240102000000-bbbbbbbb.log.zst", 2)
	newest := write("oregontrail-qa1_na-deploy-20240103000000-cccccccc.log.zst", 3)
	other := write("oregontrail-qa1_na-undo_rollback-none-dddddddd.log.zst", 0)
	unrelated := write("notes.txt", 0)

	require.NoError(t, a.Prune())

	assert.NoFileExists(t, oldest)
	assert.FileExists(t, mid)
	assert.FileExists(t, newest)
	assert.FileExists(t, other, "separate operation keeps its own runs")
	assert.FileExists(t, unrelated)

	list, err := a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{newest, mid, other}, list)
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "oregontrail-qa1_na-deploy", groupKey("oregontrail-qa1_na-deploy-20240101000000-aaaaaaaa.log.zst"))
	assert.Equal(t, "x", groupKey("x.log.zst"))
}

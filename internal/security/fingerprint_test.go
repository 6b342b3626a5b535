package security

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensegate/internal/shared/testutil"
)

func newTestManager(t *testing.T, dataDir string, machineID func(string) (string, error)) *FingerprintManager {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	fm := NewFingerprintManager("licensegate-test", dataDir, logger)
	fm.machineID = machineID
	fm.hostname = func() (string, error) { return "  Front-Desk-01 ", nil }
	return fm
}

func TestGenerateFingerprint(t *testing.T) {
	t.Run("stable across calls", func(t *testing.T) {
		fm := newTestManager(t, "", func(string) (string, error) { return "abc123", nil })

		first, err := fm.GenerateFingerprint()
		require.NoError(t, err)
		second, err := fm.GenerateFingerprint()
		require.NoError(t, err)

		assert.Equal(t, first.Fingerprint, second.Fingerprint)
		assert.Len(t, first.Fingerprint, 64)
		assert.Equal(t, "machine-id", first.Source)
		assert.Equal(t, "front-desk-01", first.Hostname)
	})

	t.Run("different app ids differ", func(t *testing.T) {
		a := newTestManager(t, "", func(string) (string, error) { return "abc123", nil })
		b := newTestManager(t, "", func(string) (string, error) { return "abc123", nil })
		b.appID = "other-app"

		fa, err := a.Fingerprint()
		require.NoError(t, err)
		fb, err := b.Fingerprint()
		require.NoError(t, err)
		assert.NotEqual(t, fa, fb)
	})

	t.Run("falls back when machine id unavailable", func(t *testing.T) {
		fm := newTestManager(t, "", func(string) (string, error) { return "", errors.New("no machine-id") })

		fp, err := fm.GenerateFingerprint()
		require.NoError(t, err)
		assert.Equal(t, "fallback", fp.Source)
		assert.Len(t, fp.Fingerprint, 64)
	})

	t.Run("persisted fingerprint wins", func(t *testing.T) {
		dir := t.TempDir()
		fm := newTestManager(t, dir, func(string) (string, error) { return "first", nil })
		original, err := fm.Fingerprint()
		require.NoError(t, err)
		assert.FileExists(t, fm.path())

		again := newTestManager(t, dir, func(string) (string, error) { return "changed", nil })
		fp, err := again.GenerateFingerprint()
		require.NoError(t, err)
		assert.Equal(t, original, fp.Fingerprint)
		assert.Equal(t, "persisted", fp.Source)
	})

	t.Run("clear cache keeps persisted value", func(t *testing.T) {
		dir := t.TempDir()
		fm := newTestManager(t, dir, func(string) (string, error) { return "first", nil })
		original, err := fm.Fingerprint()
		require.NoError(t, err)

		fm.ClearCache()
		fm.machineID = func(string) (string, error) { return "second", nil }
		fp, err := fm.Fingerprint()
		require.NoError(t, err)
		assert.Equal(t, original, fp)

		require.NoError(t, os.Remove(fm.path()))
		fm.ClearCache()
		fp, err = fm.Fingerprint()
		require.NoError(t, err)
		assert.NotEqual(t, original, fp)
	})

	t.Run("concurrent callers see one value", func(t *testing.T) {
		calls := 0
		var mu sync.Mutex
		fm := newTestManager(t, "", func(string) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return "abc123", nil
		})

		var wg sync.WaitGroup
		results := make([]string, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = fm.Fingerprint()
			}(i)
		}
		wg.Wait()

		for _, r := range results {
			assert.Equal(t, results[0], r)
		}
		assert.Equal(t, 1, calls)
	})
}

func TestValidateFingerprint(t *testing.T) {
	fm := newTestManager(t, "", func(string) (string, error) { return "abc123", nil })
	current, err := fm.Fingerprint()
	require.NoError(t, err)

	ok, err := fm.ValidateFingerprint(current)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fm.ValidateFingerprint("something-else")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetHostnameFallback(t *testing.T) {
	fm := newTestManager(t, "", nil)
	fm.hostname = func() (string, error) { return "", errors.New("no hostname") }
	assert.Equal(t, "unknown-host", fm.GetHostname())
}

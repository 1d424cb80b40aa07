package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
)

type fakeEnsurer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEnsurer) EnsureIndexes(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func (f *fakeEnsurer) EnsureBucket(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	records, bucket := &fakeEnsurer{}, &fakeEnsurer{}
	require.NoError(t, runMigrations(context.Background(), records, bucket))
	require.EqualValues(t, 1, records.calls.Load())
	require.EqualValues(t, 1, bucket.calls.Load())

	bucket.err = errors.New("access denied")
	err := runMigrations(context.Background(), records, bucket)
	require.ErrorContains(t, err, "ensure bucket")
	require.ErrorContains(t, err, "access denied")
}

func TestVerifyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "plugin.jar")
	require.NoError(t, os.WriteFile(good, append([]byte{0x50, 0x4b, 0x03, 0x04}, make([]byte, 60)...), 0o600))

	var out bytes.Buffer
	report, err := verifyFile(good, nil, &out)
	require.NoError(t, err)
	require.True(t, report.IsValid)
	require.Equal(t, "plugin.jar", report.FileName)

	var printed map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.Equal(t, true, printed["isValid"])

	expected := int64(100)
	report, err = verifyFile(good, &expected, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, report.IsValid)
	require.False(t, report.SizeMatch)

	_, err = verifyFile(filepath.Join(dir, "missing.jar"), nil, &bytes.Buffer{})
	require.Error(t, err)
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func Test_makeHostName(t *testing.T) {
	opts.Web.HostName = "test"
	assert.Equal(t, "test", makeHostName())

	opts.Web.HostName = ""
	exp, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, exp, makeHostName())
}

func Test_makeNotifier(t *testing.T) {
	opts.Notify.OnActivation, opts.Notify.OnFailure = false, false
	opts.Notify.Destinations = []string{"https://example.com/hook"}
	assert.Nil(t, makeNotifier())

	opts.Notify.OnActivation = true
	notif := makeNotifier()
	require.NotNil(t, notif)
	assert.True(t, notif.IsOnActivation())
	assert.False(t, notif.IsOnFailure())

	opts.Notify.Destinations = nil
	assert.Nil(t, makeNotifier(), "no destinations disables notifications")
}

func Test_makeWorkerDisabledWithoutOrigin(t *testing.T) {
	opts.Origin = ""
	worker, err := makeWorker()
	require.NoError(t, err)
	assert.Nil(t, worker)
}

func Test_makeWorkerInvalidOrigin(t *testing.T) {
	opts.Origin = "ftp://example.com"
	_, err := makeWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be http or https")
}

func Test_makeWorker(t *testing.T) {
	opts.Origin = "https://example.com"
	opts.CacheDB = filepath.Join(t.TempDir(), "cache.db")
	opts.Concurrency = 4

	worker, err := makeWorker()
	require.NoError(t, err)
	require.NotNil(t, worker)
	assert.Equal(t, "example.com", worker.Origin.Host)
	assert.Equal(t, 4, worker.Concurrency)
	assert.NotNil(t, worker.Buckets)
}

func Test_setupLogsWithLogsDisabled(t *testing.T) {
	opts.Log.Enabled = false
	assert.Equal(t, os.Stdout, setupLogs())
}

func Test_setupLogsToFile(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	opts.Log.Enabled = true
	opts.Log.Filename = tmpfile.Name()
	opts.Log.MaxSize = 100
	opts.Log.MaxBackups = 7
	opts.Log.MaxAge = 0
	opts.Log.EnabledCompress = false

	out := setupLogs()
	assert.IsType(t, &lumberjack.Logger{}, out)

	logger := out.(*lumberjack.Logger)
	assert.Equal(t, tmpfile.Name(), logger.Filename)
	assert.Equal(t, 100, logger.MaxSize)
	assert.Equal(t, 7, logger.MaxBackups)
	assert.Equal(t, 0, logger.MaxAge)
	assert.False(t, logger.Compress)
}

func Test_validateBaseURL(t *testing.T) {
	tests := []struct{ name, input, want string }{
		{"empty string", "", ""},
		{"root path", "/", ""},
		{"path without trailing slash", "/offsite", "/offsite"},
		{"path with trailing slash", "/offsite/", "/offsite"},
		{"multi-segment path", "/app/offsite", "/app/offsite"},
		{"multi-segment with trailing slash", "/app/offsite/", "/app/offsite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validateBaseURL(tt.input))
		})
	}
}

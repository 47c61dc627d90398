package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkin.log")
	require.NoError(t, Init("debug", "json", path))
	t.Cleanup(func() { Init("info", "text", "stderr") })

	WithFields(logrus.Fields{"business_id": "biz_42"}).Debug("policy resolved")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"business_id":"biz_42"`)
	assert.Contains(t, string(data), `"msg":"policy resolved"`)
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("chatty", "text", "stdout"))
}

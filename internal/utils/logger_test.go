package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", true)

	logger.WithField("itemId", "item-1").Info("Market purchase success")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "item-1", line["itemId"])
	assert.Equal(t, "Market purchase success", line["msg"])
	assert.Equal(t, "info", line["level"])
}

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, newLogger(&bytes.Buffer{}, "warn", false).GetLevel())
	assert.Equal(t, logrus.InfoLevel, newLogger(&bytes.Buffer{}, "loud", false).GetLevel())
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
	assert.False(t, logger.IsLevelEnabled(logrus.ErrorLevel))
}

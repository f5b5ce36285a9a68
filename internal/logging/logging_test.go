package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("collection", "docs").Info("indexed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "docs", entry["collection"])
	assert.Equal(t, "indexed", entry["msg"])
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(Config{Level: "info", Format: "xml"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

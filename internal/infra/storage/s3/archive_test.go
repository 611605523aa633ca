package s3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyPartitionsByDay(t *testing.T) {
	at := time.Date(2024, 3, 7, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	key, err := objectKey("evt_123", at)
	require.NoError(t, err)
	assert.Equal(t, "webhooks/2024/03/07/evt_123.json", key)

	_, err = objectKey("", at)
	assert.Error(t, err)
	_, err = objectKey("../evt", at)
	assert.Error(t, err)
}

func TestParseEndpoint(t *testing.T) {
	assert.Equal(t, "minio:9000", parseEndpoint("http://minio:9000"))
	assert.Equal(t, "minio:9000", parseEndpoint("minio:9000"))
}

func TestNewArchiveValidates(t *testing.T) {
	_, err := NewArchive(" ", false, "k", "s", "b", nil)
	assert.Error(t, err)
	_, err = NewArchive("localhost:9000", false, "k", "s", "", nil)
	assert.Error(t, err)
	a, err := NewArchive("http://localhost:9000", false, "k", "s", "webhooks", nil)
	require.NoError(t, err)
	assert.Equal(t, "webhooks", a.bucket)
}

package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey("/submissions/p1/", "video")
	assert.True(t, strings.HasPrefix(key, "submissions/p1/video/"), key)

	key = ObjectKey("submissions", "")
	assert.True(t, strings.HasPrefix(key, "submissions/file/"), key)
}

func TestMemoryUploader(t *testing.T) {
	u := NewMemoryUploader("https://files.local/")

	res, err := u.Upload(context.Background(), []byte("cut v2"), "submissions/p1", "video")
	require.NoError(t, err)
	assert.Equal(t, "https://files.local/"+res.Key, res.URL)

	data, ok := u.Object(res.Key)
	require.True(t, ok)
	assert.Equal(t, "cut v2", string(data))
}

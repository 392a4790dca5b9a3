package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordingKey(t *testing.T) {
	assert.Equal(t, "recordings/sess-1/abc.mp4", RecordingKey("sess-1", "abc", "video"))
	assert.Equal(t, "recordings/sess-1/abc.m4a", RecordingKey("sess-1", "abc", "audio"))
	assert.Equal(t, "recordings/sess-1/abc.vtt", RecordingKey("sess-1", "abc", "transcript"))
	assert.Equal(t, "recordings/sess-1/abc.mp4", RecordingKey("sess-1", "abc", ""))
}

func TestContentTypeForKind(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentTypeForKind("video"))
	assert.Equal(t, "audio/mp4", ContentTypeForKind("audio"))
	assert.Equal(t, "text/vtt", ContentTypeForKind("transcript"))
}

package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotebot/quotegallery/internal/quotes"
)

func TestEncodeDecodeInsert(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	artifact := quotes.Artifact{ID: "q1", OwnerID: "owner-1", Template: "neon", Animated: true, CreatedAt: at, StorageKey: "secret/key.png"}
	change := quotes.InsertedChange("evt-1", artifact)
	change.At = at

	data, err := Encode(change)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret/key.png")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, quotes.ChangeInserted, got.Kind)
	assert.Equal(t, "q1", got.ArtifactID)
	assert.Equal(t, "owner-1", got.OwnerID)
	require.NotNil(t, got.Artifact)
	assert.True(t, got.Artifact.Animated)
	assert.True(t, at.Equal(got.At))
}

func TestDecodeDeleteUsesOldRecord(t *testing.T) {
	got, err := Decode([]byte(`{"eventId":"evt-2","type":"DELETE","table":"quotes","ownerId":"owner-1",` +
		`"oldRecord":{"id":"q9"},"commitTimestamp":"2026-03-04T05:06:07Z"}`))
	require.NoError(t, err)
	assert.Equal(t, quotes.ChangeDeleted, got.Kind)
	assert.Equal(t, "q9", got.ArtifactID)
	assert.Nil(t, got.Artifact)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	frames := map[string]string{
		"not json":          `{"eventId":`,
		"unknown type":      `{"eventId":"e","type":"TRUNCATE","table":"quotes","ownerId":"o","commitTimestamp":"2026-03-04T05:06:07Z"}`,
		"other table":       `{"eventId":"e","type":"DELETE","table":"users","ownerId":"o","oldRecord":{"id":"q"},"commitTimestamp":"2026-03-04T05:06:07Z"}`,
		"insert w/o record": `{"eventId":"e","type":"INSERT","table":"quotes","ownerId":"o","commitTimestamp":"2026-03-04T05:06:07Z"}`,
		"delete w/o old":    `{"eventId":"e","type":"DELETE","table":"quotes","ownerId":"o","commitTimestamp":"2026-03-04T05:06:07Z"}`,
		"missing owner":     `{"eventId":"e","type":"DELETE","table":"quotes","oldRecord":{"id":"q"},"commitTimestamp":"2026-03-04T05:06:07Z"}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFrame), "got %v", err)
		})
	}
}

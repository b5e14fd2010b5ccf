package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPath() domain.PropagationPath {
	return domain.PropagationPath{
		MatchID:          42,
		ActivationSpotID: 7,
		ReceptionSpotID:  9,
		Activator:        "K1ABC",
		SummitRef:        "W4G/NG-001",
		Reporter:         "W3LPL",
		FrequencyHz:      14_062_000,
		Band:             "20m",
		Mode:             "CW",
		SNR:              15,
		Activation:       domain.Coordinates{Lat: 34.7, Lon: -84.1},
		Reception:        domain.Coordinates{Lat: 39.2, Lon: -77.3},
		DistanceKm:       793.4,
		EnrichedAt:       "2024-06-01T15:12:00Z",
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(testPath())
	require.NoError(t, err)

	assert.Equal(t, []byte("K1ABC"), msg.Key)

	var got domain.PropagationPath
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, testPath(), got)

	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "match_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("42"), msg.Headers[0].Value)
	assert.Equal(t, "summit_ref", msg.Headers[1].Key)
	assert.Equal(t, []byte("W4G/NG-001"), msg.Headers[1].Value)
	assert.Equal(t, "enriched_at", msg.Headers[2].Key)
	assert.Equal(t, []byte("2024-06-01T15:12:00Z"), msg.Headers[2].Value)
}

func TestPublish_EmptyBatchIsNoop(t *testing.T) {
	// No broker is listening; an empty batch must not touch the network.
	w := NewWriter([]string{"127.0.0.1:1"}, "propagation-paths", slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = w.Close() })

	assert.NoError(t, w.Publish(context.Background(), nil))
}

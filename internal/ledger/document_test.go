package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	l, _ := newTestLedger(t, backend, nil)

	_, err := l.MakeRequest(ctx, alice, bunny)
	require.NoError(t, err)
	_, err = l.MakeRequest(ctx, bob, bunny)
	require.NoError(t, err)
	_, err = l.MakeRequest(ctx, carol, sintel)
	require.NoError(t, err)

	doc, err := DecodeDocument(backend.document)
	require.NoError(t, err)

	restored, err := newState(doc)
	require.NoError(t, err)

	assert.Equal(t, l.state.users, restored.users)
	require.Len(t, restored.requests, 2)
	assert.Equal(t, 2, restored.requests[bunny.InfoHash].RefCount)
	assert.Equal(t, 1, restored.requests[sintel.InfoHash].RefCount)
}

func TestDocument_Deterministic(t *testing.T) {
	s := emptyState()
	s.requests[sintel.InfoHash] = &Request{Torrent: sintel, RefCount: 1}
	s.requests[bunny.InfoHash] = &Request{Torrent: bunny, RefCount: 1}
	s.users[bob] = []Torrent{sintel}
	s.users[alice] = []Torrent{bunny}

	doc := s.document()

	assert.Equal(t, sintel, doc.AllRequests[0].Torrent, "requests sorted by hash")
	assert.Equal(t, alice, doc.UserToTorrents[0].User, "users sorted by id")

	first, err := doc.Encode()
	require.NoError(t, err)

	second, err := s.document().Encode()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeDocument_WireFormat(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{
		"version": 0,
		"all_requests": [{"torrent": {"infohash": "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"}, "created_at": "2025-03-01 12:00:00", "ref_count": 1}],
		"user_to_torrents": [{"user": {"id": "1", "username": "alice"}, "torrents": [{"infohash": "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"}]}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, 0, doc.Version)
	require.Len(t, doc.AllRequests, 1)
	assert.Equal(t, bunny, doc.AllRequests[0].Torrent)
	assert.Equal(t, "2025-03-01 12:00:00", doc.AllRequests[0].CreatedAt)
	require.Len(t, doc.UserToTorrents, 1)
	assert.Equal(t, alice, doc.UserToTorrents[0].User)
	assert.Equal(t, []Torrent{bunny}, doc.UserToTorrents[0].Torrents)
}

func TestDecodeDocument_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "not json", data: `not json`},
		{name: "missing version", data: `{"all_requests": []}`},
		{name: "newer version", data: `{"version": 3}`, wantErr: ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDocument([]byte(tt.data))
			require.Error(t, err)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNewTorrent_Normalises(t *testing.T) {
	assert.Equal(t, Torrent{InfoHash: "abcdef"}, NewTorrent("  ABCdef "))
}

package metainfo_test

import (
	"context"
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/italolelis/movie_request_server/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bunnyHash = "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"

var pieces = strings.Repeat("x", 20)

func singleFileTorrent() (data []byte, infoHash string) {
	info := "d6:lengthi1024e4:name9:bunny.mp412:piece lengthi16384e6:pieces20:" + pieces + "e"
	sum := sha1.Sum([]byte(info))

	return []byte("d8:announce17:udp://tracker:13374:info" + info + "e"), hex.EncodeToString(sum[:])
}

func TestParse_SingleFile(t *testing.T) {
	data, want := singleFileTorrent()

	info, err := metainfo.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, want, info.InfoHash)
	assert.Equal(t, "bunny.mp4", info.Name)
	assert.Equal(t, int64(1024), info.Size)
}

func TestParse_MultiFile(t *testing.T) {
	info := "d5:filesld6:lengthi10e4:pathl5:a.mkveed6:lengthi20e4:pathl3:sub5:b.srteee" +
		"4:name6:sintel12:piece lengthi16384e6:pieces20:" + pieces + "e"
	sum := sha1.Sum([]byte(info))

	got, err := metainfo.Parse([]byte("d4:info" + info + "e"))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), got.InfoHash)
	assert.Equal(t, "sintel", got.Name)
	assert.Equal(t, int64(30), got.Size)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"junk", "junkcontent"},
		{"html", "<html><body>hello</body></html>"},
		{"not a dictionary", "li1ei2ee"},
		{"missing info", "d8:announce3:fooe"},
		{"info is not a dictionary", "d4:infoi42ee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metainfo.Parse([]byte(tt.data))
			require.Error(t, err)

			var invalid *metainfo.InvalidContentError
			assert.True(t, errors.As(err, &invalid))
		})
	}
}

func TestParseMagnet(t *testing.T) {
	raw, err := hex.DecodeString(bunnyHash)
	require.NoError(t, err)

	b32 := base32.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name     string
		link     string
		wantHash string
		wantName string
		wantErr  bool
	}{
		{
			name:     "hex",
			link:     "magnet:?xt=urn:btih:" + bunnyHash + "&dn=Big+Buck+Bunny&tr=udp%3A%2F%2Fexplodie.org%3A6969",
			wantHash: bunnyHash,
			wantName: "Big Buck Bunny",
		},
		{name: "uppercase hex", link: "magnet:?xt=urn:btih:" + strings.ToUpper(bunnyHash), wantHash: bunnyHash},
		{name: "base32", link: "magnet:?xt=urn:btih:" + b32, wantHash: bunnyHash},
		{name: "lowercase base32", link: "magnet:?xt=urn:btih:" + strings.ToLower(b32), wantHash: bunnyHash},
		{
			name:     "btih after other topics",
			link:     "magnet:?xt=urn:btmh:1220abcd&xt=urn:btih:" + bunnyHash,
			wantHash: bunnyHash,
		},
		{name: "no topic", link: "magnet:?dn=nothing", wantErr: true},
		{name: "short hash", link: "magnet:?xt=urn:btih:abcdef", wantErr: true},
		{name: "not hex", link: "magnet:?xt=urn:btih:" + strings.Repeat("z", 40), wantErr: true},
		{name: "wrong scheme", link: "http://example.com/?xt=urn:btih:" + bunnyHash, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := metainfo.ParseMagnet(tt.link)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantHash, info.InfoHash)
			assert.Equal(t, tt.wantName, info.Name)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	torrent, torrentHash := singleFileTorrent()

	mux := http.NewServeMux()
	mux.HandleFunc("/bunny.torrent", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-bittorrent")
		_, _ = w.Write(torrent)
	})
	mux.HandleFunc("/to-magnet", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "magnet:?xt=urn:btih:"+bunnyHash, http.StatusFound)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/bunny.torrent", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not a torrent</html>"))
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("d", 2048)))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	resolver := metainfo.NewResolver(metainfo.WithMaxSize(1024))

	tests := []struct {
		name    string
		link    string
		want    string
		wantErr bool
	}{
		{name: "bare hash", link: strings.ToUpper(bunnyHash), want: bunnyHash},
		{name: "magnet", link: "magnet:?xt=urn:btih:" + bunnyHash, want: bunnyHash},
		{name: "torrent url", link: ts.URL + "/bunny.torrent", want: torrentHash},
		{name: "redirect to torrent", link: ts.URL + "/moved", want: torrentHash},
		{name: "redirect to magnet", link: ts.URL + "/to-magnet", want: bunnyHash},
		{name: "not a torrent", link: ts.URL + "/page", wantErr: true},
		{name: "not found", link: ts.URL + "/missing", wantErr: true},
		{name: "too large", link: ts.URL + "/huge", wantErr: true},
		{name: "unsupported scheme", link: "ftp://example.com/a.torrent", wantErr: true},
		{name: "empty", link: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ResolveContentHash(context.Background(), tt.link)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, got)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_FetchErrorCarriesStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := metainfo.NewResolver().Resolve(context.Background(), ts.URL)

	var fetchErr *metainfo.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestResolver_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := metainfo.NewResolver().Resolve(ctx, ts.URL+"/slow.torrent")
	assert.ErrorIs(t, err, context.Canceled)
}

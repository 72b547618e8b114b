// Package dc is the boundary to the torrent download client that physically stores content.
package dc

import (
	"context"
	"time"
)

// Torrent is the download client's view of a torrent.
type Torrent struct {
	Hash     string
	Name     string
	State    string
	SavePath string
	// Category is the qBittorrent category or Deluge label.
	Category string
	Progress float64 // 0 to 1
	Size     int64
	AddedOn  time.Time
}

// AddRequest describes a torrent to hand to the client. InfoHash is used to detect that the
// client already has it.
type AddRequest struct {
	InfoHash string
	Link     string
	SavePath string
}

// Client is implemented by every supported download client.
type Client interface {
	Authenticate(ctx context.Context) error
	// AddTorrent succeeds without side effects when the torrent is already present.
	AddTorrent(ctx context.Context, req AddRequest) error
	RemoveTorrent(ctx context.Context, infoHash string, deleteData bool) error
	// GetTorrents returns the torrents among hashes that the client knows about.
	GetTorrents(ctx context.Context, hashes []string) ([]*Torrent, error)
	// ListTorrents returns the torrents in the configured category or label.
	ListTorrents(ctx context.Context) ([]*Torrent, error)
}

// DataRemover removes torrents together with their downloaded data.
type DataRemover struct {
	Client Client
}

func (r DataRemover) RemoveContent(ctx context.Context, infoHash string) error {
	return r.Client.RemoveTorrent(ctx, infoHash, true)
}

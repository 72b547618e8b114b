package dc

import (
	"context"

	"github.com/italolelis/movie_request_server/internal/telemetry"
)

// InstrumentedClient records a span and metrics for every call to the wrapped client.
type InstrumentedClient struct {
	client    Client
	name      string
	telemetry *telemetry.Telemetry
}

func NewInstrumentedClient(client Client, name string, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{client: client, name: name, telemetry: tel}
}

func (c *InstrumentedClient) Authenticate(ctx context.Context) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.name, "authenticate", c.client.Authenticate)
}

func (c *InstrumentedClient) AddTorrent(ctx context.Context, req AddRequest) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.name, "add_torrent", func(ctx context.Context) error {
		return c.client.AddTorrent(ctx, req)
	})
}

func (c *InstrumentedClient) RemoveTorrent(ctx context.Context, infoHash string, deleteData bool) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.name, "remove_torrent", func(ctx context.Context) error {
		return c.client.RemoveTorrent(ctx, infoHash, deleteData)
	})
}

func (c *InstrumentedClient) GetTorrents(ctx context.Context, hashes []string) ([]*Torrent, error) {
	var torrents []*Torrent

	err := c.telemetry.InstrumentClientOperation(ctx, c.name, "get_torrents", func(ctx context.Context) error {
		var err error

		torrents, err = c.client.GetTorrents(ctx, hashes)

		return err
	})

	return torrents, err
}

func (c *InstrumentedClient) ListTorrents(ctx context.Context) ([]*Torrent, error) {
	var torrents []*Torrent

	err := c.telemetry.InstrumentClientOperation(ctx, c.name, "list_torrents", func(ctx context.Context) error {
		var err error

		torrents, err = c.client.ListTorrents(ctx)

		return err
	})

	return torrents, err
}

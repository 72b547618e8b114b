package notifier

import (
	"context"

	"github.com/italolelis/movie_request_server/internal/logctx"
)

// ContentRemover matches ledger.ContentRemover.
type ContentRemover interface {
	RemoveContent(ctx context.Context, infoHash string) error
}

// AlertingRemover notifies operators when removing a torrent's content fails. The removal
// error is returned unchanged; a failed notification is only logged.
type AlertingRemover struct {
	Next     ContentRemover
	Notifier Notifier
}

func (r AlertingRemover) RemoveContent(ctx context.Context, infoHash string) error {
	err := r.Next.RemoveContent(ctx, infoHash)
	if err == nil || r.Notifier == nil {
		return err
	}

	if notifyErr := r.Notifier.Notify(ctx, "❌ Failed to remove torrent "+infoHash+": "+err.Error()); notifyErr != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification", "infohash", infoHash, "err", notifyErr)
	}

	return err
}

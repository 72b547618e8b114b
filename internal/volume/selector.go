package volume

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/movie_request_server/internal/logctx"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentQueries = 8

// MountUsage is the usage of one mount point at query time. Err is set when the mount
// could not be queried.
type MountUsage struct {
	MountPoint
	Usage
	Err error
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithUsageFunc replaces DiskUsage.
func WithUsageFunc(fn UsageFunc) SelectorOption {
	return func(s *Selector) { s.usage = fn }
}

// Selector chooses a mount point for new downloads. It holds no mutable state and is safe
// for concurrent use.
type Selector struct {
	mounts MountPoints
	usage  UsageFunc
}

func NewSelector(mounts MountPoints, opts ...SelectorOption) *Selector {
	s := &Selector{
		mounts: append(MountPoints(nil), mounts...),
		usage:  DiskUsage,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// MountPoints returns the configured mounts.
func (s *Selector) MountPoints() MountPoints {
	return append(MountPoints(nil), s.mounts...)
}

// Usage queries every mount point. Results are in configuration order.
func (s *Selector) Usage(ctx context.Context) []MountUsage {
	results := make([]MountUsage, len(s.mounts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)

	for i, m := range s.mounts {
		g.Go(func() error {
			results[i].MountPoint = m

			if err := ctx.Err(); err != nil {
				results[i].Err = err

				return nil
			}

			results[i].Usage, results[i].Err = s.usage(m.LocalPath)

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// SelectTarget returns the external id of the mount with the most free space among those
// that can hold requiredBytes. Mounts that cannot be queried are skipped. Ties go to the
// mount configured first. It returns false when no mount qualifies.
func (s *Selector) SelectTarget(ctx context.Context, requiredBytes uint64) (string, bool) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		best  *MountUsage
		usage = s.Usage(ctx)
	)

	for i := range usage {
		candidate := &usage[i]

		if candidate.Err != nil {
			logger.DebugContext(ctx, "skipping unreachable mount point",
				"external_id", candidate.ExternalID,
				"err", candidate.Err,
			)

			continue
		}

		if candidate.Free < requiredBytes {
			continue
		}

		if best == nil || candidate.Free > best.Free {
			best = candidate
		}
	}

	if best == nil {
		logger.DebugContext(ctx, "no mount point can hold the download",
			"required", humanize.IBytes(requiredBytes),
			"mount_count", len(s.mounts),
		)

		return "", false
	}

	logger.DebugContext(ctx, "selected mount point",
		"external_id", best.ExternalID,
		"free", humanize.IBytes(best.Free),
		"required", humanize.IBytes(requiredBytes),
	)

	return best.ExternalID, true
}

// Package volume picks which mounted volume a new download should land on.
package volume

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/italolelis/movie_request_server/internal/logctx"
)

// MountPoint is a storage location as seen by two parties: ExternalID is the path the
// download client uses, LocalPath is where this process can inspect the same volume.
type MountPoint struct {
	ExternalID string
	LocalPath  string
}

// MountPoints is a list of mount points that can be decoded from configuration in the form
// "external|local;external2|local2". An entry without "|" uses the same path for both.
type MountPoints []MountPoint

// Decode implements envconfig.Decoder.
func (m *MountPoints) Decode(value string) error {
	mounts, err := ParseMountPoints(value)
	if err != nil {
		return err
	}

	*m = mounts

	return nil
}

// ParseMountPoints parses the "external|local;..." mount list.
func ParseMountPoints(value string) (MountPoints, error) {
	var mounts MountPoints

	for _, entry := range strings.Split(value, ";") {
		if strings.TrimSpace(entry) == "" {
			continue
		}

		external, local, found := strings.Cut(entry, "|")
		if !found {
			local = external
		}

		external, local = strings.TrimSpace(external), strings.TrimSpace(local)
		if external == "" || local == "" || strings.Contains(local, "|") {
			return nil, fmt.Errorf("invalid mount point %q: expected external|local", entry)
		}

		mounts = append(mounts, MountPoint{ExternalID: external, LocalPath: local})
	}

	return mounts, nil
}

// Resolve drops mount points whose local path does not exist. Dropped mounts are logged and
// never considered again.
func Resolve(ctx context.Context, mounts MountPoints) MountPoints {
	logger := logctx.LoggerFromContext(ctx)
	resolved := make(MountPoints, 0, len(mounts))

	for _, m := range mounts {
		if _, err := os.Stat(m.LocalPath); err != nil {
			logger.WarnContext(ctx, "mount point does not exist, ignoring it",
				"external_id", m.ExternalID,
				"local_path", m.LocalPath,
				"err", err,
			)

			continue
		}

		resolved = append(resolved, m)
	}

	return resolved
}

package metainfo

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/zeebo/bencode"
)

type fileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

type infoDict struct {
	Name   string      `bencode:"name"`
	Length int64       `bencode:"length"`
	Files  []fileEntry `bencode:"files"`
}

// Parse reads a bencoded .torrent file. The info hash is the SHA-1 of the info dictionary
// exactly as encoded in data.
func Parse(data []byte) (Info, error) {
	var root struct {
		Info bencode.RawMessage `bencode:"info"`
	}

	if err := bencode.DecodeBytes(data, &root); err != nil {
		return Info{}, &InvalidContentError{Source: "metainfo", Reason: "invalid bencode structure", Err: err}
	}

	if len(root.Info) == 0 {
		return Info{}, &InvalidContentError{Source: "metainfo", Reason: "bencode missing required 'info' dictionary"}
	}

	var info infoDict
	if err := bencode.DecodeBytes(root.Info, &info); err != nil {
		return Info{}, &InvalidContentError{Source: "metainfo", Reason: "info must be a dictionary", Err: err}
	}

	size := info.Length
	for _, f := range info.Files {
		size += f.Length
	}

	sum := sha1.Sum(root.Info)

	return Info{
		InfoHash: hex.EncodeToString(sum[:]),
		Name:     info.Name,
		Size:     size,
	}, nil
}

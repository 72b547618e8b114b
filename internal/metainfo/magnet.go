// Package metainfo derives the identity of a torrent (its info hash) from the links users
// submit: magnet URIs, URLs of .torrent files or the raw .torrent payload.
package metainfo

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"
)

const btihPrefix = "urn:btih:"

// Info is what a link tells about a torrent. Size is zero when unknown, as for magnets.
type Info struct {
	InfoHash string
	Name     string
	Size     int64
}

// IsInfoHash reports whether s is a 40 character hex info hash.
func IsInfoHash(s string) bool {
	if len(s) != 40 {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}

// ParseMagnet extracts the v1 info hash and display name of a magnet URI. Base32 hashes are
// converted to lowercase hex.
func ParseMagnet(link string) (Info, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Info{}, &InvalidContentError{Source: link, Reason: "malformed magnet URI", Err: err}
	}

	if u.Scheme != "magnet" {
		return Info{}, &InvalidContentError{Source: link, Reason: "not a magnet URI"}
	}

	query := u.Query()

	for _, xt := range query["xt"] {
		if !strings.HasPrefix(strings.ToLower(xt), btihPrefix) {
			continue
		}

		hash, ok := normalizeBTIH(xt[len(btihPrefix):])
		if !ok {
			return Info{}, &InvalidContentError{Source: link, Reason: "malformed btih info hash"}
		}

		return Info{InfoHash: hash, Name: query.Get("dn")}, nil
	}

	return Info{}, &InvalidContentError{Source: link, Reason: "magnet URI has no btih info hash"}
}

func normalizeBTIH(v string) (string, bool) {
	switch len(v) {
	case 40:
		if !IsInfoHash(v) {
			return "", false
		}

		return strings.ToLower(v), true
	case 32:
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(v))
		if err != nil {
			return "", false
		}

		return hex.EncodeToString(raw), true
	default:
		return "", false
	}
}

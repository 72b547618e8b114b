package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SupportedVersion is the newest document schema this build understands.
const SupportedVersion = 0

// createdAtLayout is the timestamp layout of Request.CreatedAt.
const createdAtLayout = "2006-01-02 15:04:05"

// User identifies a requester. Two users are the same key only if both fields match.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Torrent is a content item, identified by its info hash.
type Torrent struct {
	InfoHash string `json:"infohash"`
}

// NewTorrent normalises the hash so lookups are case-insensitive.
func NewTorrent(infoHash string) Torrent {
	return Torrent{InfoHash: strings.ToLower(strings.TrimSpace(infoHash))}
}

// Request tracks how many users currently hold a torrent.
type Request struct {
	Torrent   Torrent `json:"torrent"`
	CreatedAt string  `json:"created_at"`
	RefCount  int     `json:"ref_count"`
}

// UserTorrents is one user's entry in the persisted document.
type UserTorrents struct {
	User     User      `json:"user"`
	Torrents []Torrent `json:"torrents"`
}

// Document is the persisted aggregate. It is always written whole.
type Document struct {
	Version        int            `json:"version"`
	AllRequests    []Request      `json:"all_requests"`
	UserToTorrents []UserTorrents `json:"user_to_torrents"`
}

// state is the in-memory form of a Document.
type state struct {
	version  int
	requests map[string]*Request
	users    map[User][]Torrent
}

func emptyState() *state {
	return &state{
		version:  SupportedVersion,
		requests: make(map[string]*Request),
		users:    make(map[User][]Torrent),
	}
}

func (s *state) holds(user User, torrent Torrent) bool {
	for _, t := range s.users[user] {
		if t == torrent {
			return true
		}
	}

	return false
}

// document snapshots the state with requests ordered by hash and users by (id, username).
func (s *state) document() Document {
	doc := Document{
		Version:        s.version,
		AllRequests:    make([]Request, 0, len(s.requests)),
		UserToTorrents: make([]UserTorrents, 0, len(s.users)),
	}

	for _, req := range s.requests {
		doc.AllRequests = append(doc.AllRequests, *req)
	}

	sort.Slice(doc.AllRequests, func(i, j int) bool {
		return doc.AllRequests[i].Torrent.InfoHash < doc.AllRequests[j].Torrent.InfoHash
	})

	for user, torrents := range s.users {
		doc.UserToTorrents = append(doc.UserToTorrents, UserTorrents{
			User:     user,
			Torrents: append([]Torrent(nil), torrents...),
		})
	}

	sort.Slice(doc.UserToTorrents, func(i, j int) bool {
		a, b := doc.UserToTorrents[i].User, doc.UserToTorrents[j].User
		if a.ID != b.ID {
			return a.ID < b.ID
		}

		return a.Username < b.Username
	})

	return doc
}

// Encode serializes the document as JSON.
func (d Document) Encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger document: %w", err)
	}

	return data, nil
}

// DecodeDocument parses a persisted document. The version is checked before the body so a
// document written by a newer schema is rejected rather than partially read.
func DecodeDocument(data []byte) (Document, error) {
	var header struct {
		Version *int `json:"version"`
	}

	if err := json.Unmarshal(data, &header); err != nil {
		return Document{}, fmt.Errorf("failed to decode ledger document: %w", err)
	}

	if header.Version == nil {
		return Document{}, fmt.Errorf("failed to decode ledger document: missing version")
	}

	if *header.Version > SupportedVersion {
		return Document{}, fmt.Errorf("%w: found %d, expected at most %d", ErrUnsupportedVersion, *header.Version, SupportedVersion)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode ledger document: %w", err)
	}

	return doc, nil
}

// newState rebuilds the in-memory state from a document and verifies its invariants.
func newState(doc Document) (*state, error) {
	s := emptyState()
	s.version = doc.Version

	for i := range doc.AllRequests {
		req := doc.AllRequests[i]
		hash := req.Torrent.InfoHash

		if _, dup := s.requests[hash]; dup {
			return nil, fmt.Errorf("%w: duplicate request for %s", ErrInvariantViolation, hash)
		}

		if req.RefCount < 1 {
			return nil, fmt.Errorf("%w: request %s has ref count %d", ErrInvariantViolation, hash, req.RefCount)
		}

		s.requests[hash] = &req
	}

	holders := make(map[string]int, len(s.requests))

	for _, entry := range doc.UserToTorrents {
		if _, dup := s.users[entry.User]; dup {
			return nil, fmt.Errorf("%w: duplicate entry for user %s", ErrInvariantViolation, entry.User.ID)
		}

		torrents := make([]Torrent, 0, len(entry.Torrents))

		for _, t := range entry.Torrents {
			for _, seen := range torrents {
				if seen == t {
					return nil, fmt.Errorf("%w: user %s holds %s twice", ErrInvariantViolation, entry.User.ID, t.InfoHash)
				}
			}

			if _, ok := s.requests[t.InfoHash]; !ok {
				return nil, fmt.Errorf("%w: user %s holds %s without a request", ErrInvariantViolation, entry.User.ID, t.InfoHash)
			}

			holders[t.InfoHash]++

			torrents = append(torrents, t)
		}

		if len(torrents) > 0 {
			s.users[entry.User] = torrents
		}
	}

	for hash, req := range s.requests {
		if req.RefCount != holders[hash] {
			return nil, fmt.Errorf("%w: request %s has ref count %d but %d holders", ErrInvariantViolation, hash, req.RefCount, holders[hash])
		}
	}

	return s, nil
}

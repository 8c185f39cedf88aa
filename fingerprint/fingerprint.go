// CLAUDE:SUMMARY Pure message identity: normalization + hashing into a stable Fingerprint independent of the DOM node.
// Package fingerprint derives a stable identity for a logical message.
//
// The host gives messages no stable external ID, and it may destroy and
// remount the node rendering a message at any time. Fingerprints are computed
// from message content and metadata only — never from the current DOM node —
// so the same logical message fingerprints identically across re-renders,
// channel switches, and node replacement.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/critlab/critwatch/hostdom"
)

// BucketSize is the timestamp truncation applied to fingerprints. Host-side
// re-serialization jitters timestamps by milliseconds; truncating to a bucket
// keeps identity stable while still separating repeated identical messages
// sent minutes apart.
const BucketSize = time.Minute

// Fingerprint is the derived identity of a message. Two host elements with
// the same fingerprint are the same logical message.
type Fingerprint struct {
	AuthorKey   string
	ChannelKey  string
	ContentHash string // 128-bit hex over normalized content + author + channel
	TimeBucket  int64  // unix seconds truncated to BucketSize
}

// Compute derives the fingerprint for a message. Pure and deterministic.
func Compute(msg hostdom.MessageData) Fingerprint {
	text := Normalize(msg.Content)
	return Fingerprint{
		AuthorKey:   msg.Author,
		ChannelKey:  msg.ChannelID,
		ContentHash: hashContent(msg.Author, msg.ChannelID, text),
		TimeBucket:  msg.Timestamp.Truncate(BucketSize).Unix(),
	}
}

// Key returns the map key form of the fingerprint.
func (fp Fingerprint) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", fp.ChannelKey, fp.AuthorKey, fp.ContentHash, fp.TimeBucket)
}

// hashContent hashes the normalized text with its author and channel.
// 128 bits of SHA-256 is enough: collisions require two distinct messages in
// the same channel, same author, same minute, hashing identically.
func hashContent(author, channel, text string) string {
	h := sha256.New()
	h.Write([]byte(channel))
	h.Write([]byte{0})
	h.Write([]byte(author))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Package identity derives deterministic point IDs and content hashes for
// candidate records.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

// keyPrefixRunes is how much of the text takes part in the unique key.
const keyPrefixRunes = 100

// maxProbe bounds the fallback search when both the hash and the timestamp
// are claimed by other keys.
const maxProbe = 16

// UniqueKey builds path|size|timestamp|chunkIndex|first100 for r. A missing
// timestamp is 0 and a missing chunk index is empty.
func UniqueKey(r domain.Record) string {
	chunk := ""
	if r.ChunkIndex != nil {
		chunk = strconv.Itoa(*r.ChunkIndex)
	}
	var b strings.Builder
	b.WriteString(r.Path)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(r.Size, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(r.LastModified, 10))
	b.WriteByte('|')
	b.WriteString(chunk)
	b.WriteByte('|')
	b.WriteString(firstRunes(r.Text(), keyPrefixRunes))
	return b.String()
}

// RollingHash folds s with hash = hash*31 + unit over its UTF-16 code units,
// wrapping at 32 bits, and returns the absolute value.
func RollingHash(s string) uint64 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return uint64(v)
}

// ContentHash is a DJB2 hash rendered as hex, prefixed with the alphanumeric
// runes among the first four characters of text. Empty text hashes to "0".
func ContentHash(text string) string {
	if text == "" {
		return "0"
	}
	var h uint32 = 5381
	for _, u := range utf16.Encode([]rune(text)) {
		h = h*33 + uint32(u)
	}
	prefix := make([]rune, 0, 4)
	for _, r := range firstRunes(text, 4) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			prefix = append(prefix, unicode.ToLower(r))
		}
	}
	hex := strconv.FormatUint(uint64(h), 16)
	if len(prefix) == 0 {
		return hex
	}
	return string(prefix) + "_" + hex
}

// Resolver hands out IDs and remembers which key owns which ID.
type Resolver struct {
	registry Registry
	log      *slog.Logger
}

// NewResolver creates a Resolver. A nil registry means an in-memory one.
func NewResolver(reg Registry, log *slog.Logger) *Resolver {
	if reg == nil {
		reg = NewMemoryRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{registry: reg, log: log}
}

// Identity is the derived identity of one record.
type Identity struct {
	ID          uint64 `json:"id"`
	Key         string `json:"key"`
	ContentHash string `json:"contentHash"`
	Collision   bool   `json:"collision"`
}

// Resolve derives the ID and content hash of r. Re-resolving the same key
// always yields the same ID. When the hash is already owned by a different
// key the raw timestamp is used instead; that fallback is best effort.
func (r *Resolver) Resolve(ctx context.Context, rec domain.Record) Identity {
	key := UniqueKey(rec)
	id := RollingHash(key)
	out := Identity{ID: id, Key: key, ContentHash: ContentHash(rec.Text())}

	if r.claim(ctx, id, key) {
		return out
	}
	out.Collision = true

	candidate := uint64(0)
	if rec.LastModified > 0 {
		candidate = uint64(rec.LastModified)
	} else {
		candidate = id + 1
	}
	for i := 0; i < maxProbe; i++ {
		if r.claim(ctx, candidate, key) {
			out.ID = candidate
			r.log.Warn("identity: hash collision, using fallback id",
				"hash_id", id, "id", candidate, "path", rec.Path)
			return out
		}
		candidate++
	}
	r.log.Error("identity: no free fallback id", "hash_id", id, "path", rec.Path)
	return out
}

// Reset forgets every claimed ID.
func (r *Resolver) Reset(ctx context.Context) error {
	if err := r.registry.Reset(ctx); err != nil {
		return fmt.Errorf("identity: reset: %w", err)
	}
	return nil
}

// claim reports whether key owns id after the call. Registry failures count
// as ownership so ingestion is never blocked on the registry.
func (r *Resolver) claim(ctx context.Context, id uint64, key string) bool {
	owned, err := r.registry.Claim(ctx, id, key)
	if err != nil {
		r.log.Warn("identity: registry claim failed", "id", id, "error", err)
		return true
	}
	return owned
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

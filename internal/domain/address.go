package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTokenNameLength bounds token and collection names before hashing and storage
	MaxTokenNameLength = 128
	// MaxEntryFunctionLength bounds the stored entry function identifier
	MaxEntryFunctionLength = 1000
)

// StandardizeAddress normalizes an on-chain address to its canonical
// 0x-prefixed, zero-padded 64 hex character form. Addresses shorter than
// 64 hex characters are left-padded; the input may or may not carry a 0x
// prefix.
func StandardizeAddress(addr string) string {
	hexPart := strings.TrimPrefix(strings.ToLower(addr), "0x")
	if len(hexPart) > 64 {
		hexPart = hexPart[len(hexPart)-64:]
	}
	return "0x" + strings.Repeat("0", 64-len(hexPart)) + hexPart
}

// TruncateName clamps a UTF-8 name to max bytes without splitting a rune
func TruncateName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	truncated := name[:max]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}

// hashStr derives a canonical 0x-prefixed identifier from an arbitrary string
func hashStr(s string) string {
	h := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(h[:])
}

// TokenDataIDV1 derives the deterministic identifier of a v1 token from its
// (creator, collection, name) triple. The same triple always yields the same
// identifier, converging v1 events onto a single token identity.
func TokenDataIDV1(creator, collection, name string) string {
	return hashStr(StandardizeAddress(creator) + "::" + collection + "::" + TruncateName(name, MaxTokenNameLength))
}

// CollectionIDV1 derives the deterministic identifier of a v1 collection from
// its (creator, collection) pair.
func CollectionIDV1(creator, collection string) string {
	return hashStr(StandardizeAddress(creator) + "::" + collection)
}

// CollectionOfferID synthesizes a stable collection-offer identifier when the
// marketplace exposes none, from the collection identity and the buyer.
func CollectionOfferID(collectionID, buyer string) string {
	return hashStr(collectionID + "::" + StandardizeAddress(buyer))
}

// ContractAddressOf extracts the standardized leading account address from a
// fully qualified event or resource type ("0xabc::module::Name").
func ContractAddressOf(qualifiedType string) string {
	idx := strings.Index(qualifiedType, "::")
	if idx < 0 {
		return ""
	}
	return StandardizeAddress(qualifiedType[:idx])
}

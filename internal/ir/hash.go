package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// DomainState prefixes state checksums. The version suffix leaves room for
// a future algorithm change.
const DomainState = "kitchensync/state/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data). The null byte keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateChecksum hashes the entity collection and selection. Entity order
// does not matter.
func StateChecksum(entities []Entity, selection string) (string, error) {
	sorted := slices.Clone(entities)
	slices.SortFunc(sorted, func(a, b Entity) int { return strings.Compare(a.ID, b.ID) })

	arr := make(Array, len(sorted))
	for i, e := range sorted {
		arr[i] = e.Object()
	}

	canonical, err := MarshalCanonical(Object{
		"entities":  arr,
		"selection": String(selection),
	})
	if err != nil {
		return "", fmt.Errorf("StateChecksum: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

package store

import (
	"crypto/sha256"
	"fmt"
)

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// HashString returns the lowercase hex SHA-256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// CommittedHash is the semantic identity of a component: its kind, its
// qualified name and the structural hash of its subtree. Comment and
// whitespace edits leave it unchanged.
func CommittedHash(kind, qualifiedName, structuralHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "name:%s\n", qualifiedName)
	fmt.Fprintf(h, "ast:%s\n", structuralHash)
	return fmt.Sprintf("%x", h.Sum(nil))
}

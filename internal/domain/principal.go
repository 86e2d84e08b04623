package domain

import "strings"

// maxPrincipalLen bounds a principal identifier. Standard and contract
// principals on the host ledger fit well inside it.
const maxPrincipalLen = 150

// Principal identifies an authenticated caller. The node treats it as an
// opaque string; it is either a ledger address (e.g. "ST1PQHQ...") or a
// checksummed hex address recovered from a signature.
type Principal string

// Validate reports ErrInvalidPrincipal for empty, oversized or non-printable
// identifiers.
func (p Principal) Validate() error {
	s := string(p)
	if s == "" || len(s) > maxPrincipalLen {
		return ErrInvalidPrincipal
	}
	if strings.IndexFunc(s, func(r rune) bool { return r <= ' ' || r > '~' }) >= 0 {
		return ErrInvalidPrincipal
	}
	return nil
}

func (p Principal) String() string { return string(p) }

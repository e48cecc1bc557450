// Package token issues and verifies the two classes of bearer tokens used by
// Bandroom: short-lived access tokens and long-lived refresh tokens.
//
// The two classes are signed with distinct secrets. A token signed in one
// namespace must never verify in the other; verification reports that case as
// malformed, not expired, so forged or misrouted tokens can never reach the
// refresh path.
package token

// Package auth issues and validates API tokens and records security audit
// events.
//
// # Tokens
//
// Tokens look like chub_<base64url(32 random bytes)>. Only the SHA-256 hash
// is stored; the plaintext is returned once, when the token is created.
// A short display prefix (chub_ plus 8 characters) identifies a token in
// listings.
//
//	store := auth.NewTokenStore(db)
//	token, plaintext, err := store.Create(ctx, userID, "CI upload", "", &expiresAt)
//
//	tok, err := store.Validate(ctx, plaintext)
//	switch {
//	case errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrTokenRevoked):
//		// reject
//	}
//
// Validation checks format, existence, revocation and expiry, then stamps
// last_used_at. What the token's user may do is decided by the rbac package
// from the user's roles; tokens carry no permissions of their own.
//
// # Audit
//
// AuditLogger writes one row per security relevant action (token created or
// revoked, failed authentication) to audit_logs:
//
//	audit.LogFromRequest(r, auth.ActionTokenRevoke, "api_token", "42", auth.StatusSuccess, nil)
//
// Audit writes never fail the request that triggered them.
package auth

package model

// Principal is the authenticated caller supplied by the session layer.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Authorize checks that p may act on artifacts owned by ownerID.
// Admins may act on any user's artifacts.
func Authorize(p *Principal, ownerID string) error {
	if p == nil || p.UserID == "" {
		return NewError(ErrCodeUnauthorized, "login required").
			WithHint("sign in to the dashboard and retry")
	}
	if p.UserID != ownerID && !p.IsAdmin {
		return NewError(ErrCodeForbidden, "artifact belongs to another user")
	}

	return nil
}

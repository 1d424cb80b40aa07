package token

import (
	"net"
	"strings"
	"time"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
)

// Outcome is the result of validating a token against a request.
type Outcome string

const (
	Valid              Outcome = "VALID"
	Expired            Outcome = Outcome(model.ErrCodeExpired)
	WrongOwner         Outcome = Outcome(model.ErrCodeWrongOwner)
	DownloadsExhausted Outcome = Outcome(model.ErrCodeDownloadsExhausted)
	IPNotAllowed       Outcome = Outcome(model.ErrCodeIPNotAllowed)
)

// RequestContext describes the redemption attempt.
type RequestContext struct {
	UserID     string
	PluginName string
	ClientIP   string
	Now        time.Time
}

// Validate checks expiry, then ownership, then usage, then client address.
// The first failing check decides the outcome.
func Validate(p *Payload, req RequestContext) Outcome {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	switch {
	case now.After(p.ExpiresAt):
		return Expired
	case p.UserID != req.UserID || p.PluginName != req.PluginName:
		return WrongOwner
	case p.DownloadCount >= p.MaxDownloads:
		return DownloadsExhausted
	case len(p.IPRestrictions) != 0 && !ipAllowed(req.ClientIP, p.IPRestrictions):
		return IPNotAllowed
	}

	return Valid
}

// Err converts a failed outcome to a typed error, Valid yields nil.
func (o Outcome) Err() error {
	switch o {
	case Valid:
		return nil
	case Expired:
		return model.NewError(model.ErrCodeExpired, "download token has expired").
			WithHint("request a new download link")
	case WrongOwner:
		return model.NewError(model.ErrCodeWrongOwner, "download token was issued for another artifact")
	case DownloadsExhausted:
		return model.NewError(model.ErrCodeDownloadsExhausted, "download token has no downloads left").
			WithHint("request a new download link")
	case IPNotAllowed:
		return model.NewError(model.ErrCodeIPNotAllowed, "download token is not valid from this address")
	default:
		return model.NewError(model.ErrCodeMalformed, "unknown token outcome "+string(o))
	}
}

func ipAllowed(clientIP string, restrictions []string) bool {
	ip := net.ParseIP(strings.TrimSpace(clientIP))
	if ip == nil {
		return false
	}

	for _, r := range restrictions {
		if strings.Contains(r, "/") {
			if _, cidr, err := net.ParseCIDR(r); err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(r); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}

	return false
}

func validRestriction(r string) bool {
	if strings.Contains(r, "/") {
		_, _, err := net.ParseCIDR(r)
		return err == nil
	}

	return net.ParseIP(r) != nil
}

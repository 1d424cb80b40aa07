package service

import (
	"net/url"
	"strings"
)

// URLBuilder renders the public artifact URLs handed to clients.
type URLBuilder struct {
	base string
}

// NewURLBuilder creates a builder rooted at publicBaseURL,
// an empty base yields host relative paths.
func NewURLBuilder(publicBaseURL string) URLBuilder {
	return URLBuilder{base: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")}
}

func (b URLBuilder) artifact(userID, pluginName string) string {
	return b.base + "/artifact/" + url.PathEscape(userID) + "/" + url.PathEscape(pluginName)
}

// Direct is the session authenticated download URL.
func (b URLBuilder) Direct(userID, pluginName string) string {
	return b.artifact(userID, pluginName)
}

// Secure is the token gated download URL, token may be empty.
func (b URLBuilder) Secure(userID, pluginName, token string) string {
	u := b.artifact(userID, pluginName) + "/secure"
	if token == "" {
		return u
	}

	return u + "?" + url.Values{"token": {token}}.Encode()
}

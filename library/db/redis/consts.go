package redis

const (
	keyPrefix = "artifact-gateway/"

	// KeyPrefixTokenRedemption prefixes download token redemption counters,
	// suffixed by the sha256 of the token.
	KeyPrefixTokenRedemption = keyPrefix + "token/redemptions/"
	// KeyPrefixBackendInfo prefixes cached backend artifact descriptions.
	KeyPrefixBackendInfo = keyPrefix + "backend/info/"
)

package token

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
)

var issuedAt = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestCodec() *Codec {
	return NewCodec(time.Hour, 24*time.Hour).WithClock(func() time.Time { return issuedAt })
}

func TestIssueDecodeRoundTrip(t *testing.T) {
	codec := newTestCodec()

	encoded, payload, err := codec.Issue("u1", "p1", IssueOption{
		ExpiresIn:      10 * time.Minute,
		MaxDownloads:   3,
		IPRestrictions: []string{" 10.0.0.1 ", "", "192.168.0.0/24"},
	}, &model.Principal{UserID: "u1"})
	require.NoError(t, err)
	require.NotContains(t, encoded, "=")
	require.Len(t, payload.Token, 64)
	require.Equal(t, "u1", payload.IssuedBy)
	require.Equal(t, []string{"10.0.0.1", "192.168.0.0/24"}, payload.IPRestrictions)
	require.True(t, payload.ExpiresAt.Equal(issuedAt.Add(10*time.Minute)))

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, payload.Token, decoded.Token)
	require.Equal(t, payload.UserID, decoded.UserID)
	require.Equal(t, payload.PluginName, decoded.PluginName)
	require.Equal(t, payload.MaxDownloads, decoded.MaxDownloads)
	require.Equal(t, payload.IPRestrictions, decoded.IPRestrictions)
	require.True(t, payload.ExpiresAt.Equal(decoded.ExpiresAt))
	require.True(t, payload.IssuedAt.Equal(decoded.IssuedAt))
}

func TestIssueDefaultsAndClamps(t *testing.T) {
	codec := newTestCodec()

	_, payload, err := codec.Issue("u1", "p1", IssueOption{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, payload.MaxDownloads)
	require.True(t, payload.ExpiresAt.Equal(issuedAt.Add(time.Hour)))

	_, payload, err = codec.Issue("u1", "p1", IssueOption{ExpiresIn: 72 * time.Hour, MaxDownloads: -4}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, payload.MaxDownloads)
	require.True(t, payload.ExpiresAt.Equal(issuedAt.Add(24*time.Hour)))
}

func TestIssueRejectsBadInput(t *testing.T) {
	codec := newTestCodec()

	_, _, err := codec.Issue("", "p1", IssueOption{}, nil)
	require.True(t, model.IsCode(err, model.ErrCodeInvalidArgument))

	_, _, err = codec.Issue("u1", "p1", IssueOption{IPRestrictions: []string{"not-an-ip"}}, nil)
	require.True(t, model.IsCode(err, model.ErrCodeInvalidArgument))
}

func TestIssueTokensAreUnique(t *testing.T) {
	codec := newTestCodec()
	seen := map[string]struct{}{}
	for i := 0; i < 32; i++ {
		_, payload, err := codec.Issue("u1", "p1", IssueOption{}, nil)
		require.NoError(t, err)
		_, dup := seen[payload.Token]
		require.False(t, dup)
		seen[payload.Token] = struct{}{}
	}
}

func TestDecodeMalformed(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	cases := map[string]string{
		"empty":         "",
		"not base64":    "!!!",
		"not json":      enc("hello"),
		"unknown field": enc(`{"token":"a","userId":"u","pluginName":"p","expiresAt":"2026-01-01T00:00:00Z","admin":true}`),
		"no token":      enc(`{"userId":"u","pluginName":"p","expiresAt":"2026-01-01T00:00:00Z"}`),
		"no owner":      enc(`{"token":"a","pluginName":"p","expiresAt":"2026-01-01T00:00:00Z"}`),
		"no expiry":     enc(`{"token":"a","userId":"u","pluginName":"p"}`),
		"second object": enc(`{"token":"a","userId":"u","pluginName":"p","expiresAt":"2026-01-01T00:00:00Z"}{"junk":1}`),
		"trailing junk": enc(`{"token":"a","userId":"u","pluginName":"p","expiresAt":"2026-01-01T00:00:00Z"}garbage`),
	}

	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(encoded)
			require.Error(t, err)
			require.True(t, model.IsCode(err, model.ErrCodeMalformed))
		})
	}
}

func TestDecodeAcceptsPadding(t *testing.T) {
	body := `{"token":"a","userId":"u","pluginName":"p","expiresAt":"2026-01-01T00:00:00Z","maxDownloads":1}`
	p, err := Decode(base64.URLEncoding.EncodeToString([]byte(body)))
	require.NoError(t, err)
	require.Equal(t, "u", p.UserID)

	_, err = Decode(base64.RawURLEncoding.EncodeToString([]byte(body + "\n")))
	require.NoError(t, err)
}

func TestValidateExpiryScenario(t *testing.T) {
	codec := newTestCodec()
	encoded, _, err := codec.Issue("u1", "p1", IssueOption{ExpiresIn: 5 * time.Minute, MaxDownloads: 1}, nil)
	require.NoError(t, err)

	p, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, Valid, Validate(p, RequestContext{UserID: "u1", PluginName: "p1", Now: issuedAt}))

	p, err = Decode(encoded)
	require.NoError(t, err)
	later := issuedAt.Add(5*time.Minute + time.Second)
	require.Equal(t, Expired, Validate(p, RequestContext{UserID: "u1", PluginName: "p1", Now: later}))
}

func TestValidateOrder(t *testing.T) {
	base := func() *Payload {
		return &Payload{
			Token:          "t",
			UserID:         "userA",
			PluginName:     "pluginX",
			ExpiresAt:      issuedAt.Add(time.Hour),
			MaxDownloads:   1,
			IPRestrictions: []string{"10.0.0.1", "172.16.0.0/12"},
		}
	}
	req := RequestContext{UserID: "userA", PluginName: "pluginX", ClientIP: "10.0.0.1", Now: issuedAt}

	cases := []struct {
		name   string
		mutate func(p *Payload, r *RequestContext)
		want   Outcome
	}{
		{"valid", func(*Payload, *RequestContext) {}, Valid},
		{"valid cidr", func(_ *Payload, r *RequestContext) { r.ClientIP = "172.20.1.1" }, Valid},
		{"expired wins over everything", func(p *Payload, r *RequestContext) {
			p.ExpiresAt = issuedAt.Add(-time.Second)
			p.DownloadCount = 5
			r.UserID = "userB"
			r.ClientIP = "8.8.8.8"
		}, Expired},
		{"wrong user", func(_ *Payload, r *RequestContext) { r.UserID = "userB" }, WrongOwner},
		{"wrong plugin", func(_ *Payload, r *RequestContext) { r.PluginName = "pluginY" }, WrongOwner},
		{"exhausted", func(p *Payload, r *RequestContext) {
			p.DownloadCount = 1
			r.ClientIP = "8.8.8.8"
		}, DownloadsExhausted},
		{"ip", func(_ *Payload, r *RequestContext) { r.ClientIP = "8.8.8.8" }, IPNotAllowed},
		{"garbage ip", func(_ *Payload, r *RequestContext) { r.ClientIP = "nope" }, IPNotAllowed},
		{"no restrictions", func(p *Payload, r *RequestContext) {
			p.IPRestrictions = nil
			r.ClientIP = ""
		}, Valid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, r := base(), req
			tc.mutate(p, &r)
			require.Equal(t, tc.want, Validate(p, r))
		})
	}
}

func TestOutcomeErr(t *testing.T) {
	require.NoError(t, Valid.Err())
	require.True(t, model.IsCode(Expired.Err(), model.ErrCodeExpired))
	require.True(t, model.IsCode(WrongOwner.Err(), model.ErrCodeWrongOwner))
	require.True(t, model.IsCode(DownloadsExhausted.Err(), model.ErrCodeDownloadsExhausted))
	require.True(t, model.IsCode(IPNotAllowed.Err(), model.ErrCodeIPNotAllowed))
}

type fakeCounter struct {
	counts   map[string]int64
	expireAt time.Time
	err      error
}

func (f *fakeCounter) IncrUntil(_ context.Context, key string, expireAt time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	f.expireAt = expireAt
	return f.counts[key], nil
}

func TestRedeemWithLedger(t *testing.T) {
	counter := &fakeCounter{}
	ledger := NewRedisLedger(counter)
	p := &Payload{Token: "secret", UserID: "u1", PluginName: "p1", ExpiresAt: issuedAt.Add(time.Hour), MaxDownloads: 2}

	for _, want := range []Outcome{Valid, Valid, DownloadsExhausted} {
		got, err := Redeem(context.Background(), ledger, p)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.True(t, counter.expireAt.Equal(p.ExpiresAt))

	key := RedemptionKey("secret")
	require.Equal(t, int64(3), counter.counts[key])
	require.False(t, strings.Contains(key, "secret"))
}

func TestRedeemWithoutLedgerIsStateless(t *testing.T) {
	p := &Payload{Token: "t", UserID: "u1", PluginName: "p1", ExpiresAt: issuedAt.Add(time.Hour), MaxDownloads: 1}
	for i := 0; i < 3; i++ {
		got, err := Redeem(context.Background(), nil, p)
		require.NoError(t, err)
		require.Equal(t, Valid, got)
	}
}

func TestRedeemLedgerFailure(t *testing.T) {
	ledger := NewRedisLedger(&fakeCounter{err: errors.New("redis down")})
	p := &Payload{Token: "t", UserID: "u1", PluginName: "p1", ExpiresAt: issuedAt.Add(time.Hour), MaxDownloads: 1}
	_, err := Redeem(context.Background(), ledger, p)
	require.ErrorContains(t, err, "redis down")
}

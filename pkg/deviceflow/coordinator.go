package deviceflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/sessioncrypto"
	"github.com/dashborion/dashborion/pkg/store"
)

// ErrAuthorizationPending tells the poller the user has not approved yet.
var ErrAuthorizationPending = errors.New("authorization pending")

// Device-code lifecycle states.
const (
	statusPending  = "pending"
	statusVerified = "verified"
	statusIssued   = "issued"
	statusDenied   = "denied"
)

// Record attributes.
const (
	attrInterval   = "interval"
	attrNextPoll   = "next_poll"
	attrGrant      = "grant"
	attrApprovedBy = "approved_by"
)

// Defaults per RFC 8628.
const (
	DefaultCodeTTL      = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
	slowDownStep        = 5 * time.Second
)

// Authorization is the response to a device-code request.
type Authorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// Coordinator drives the device-code grant.
type Coordinator struct {
	store           store.Store
	sealer          *sessioncrypto.Sealer
	issuer          *auth.TokenIssuer
	verificationURI string
	codeTTL         time.Duration
	pollInterval    time.Duration
	now             func() time.Time
}

// Option tunes coordinator behavior.
type Option func(*Coordinator)

// WithCodeTTL overrides the device-code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.codeTTL = ttl
		}
	}
}

// WithPollInterval overrides the minimum polling interval told to clients.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewCoordinator wires the flow. verificationURI is the browser page where
// users enter their code, e.g. "https://dash.example.com/activate".
func NewCoordinator(st store.Store, sealer *sessioncrypto.Sealer, issuer *auth.TokenIssuer, verificationURI string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           st,
		sealer:          sealer,
		issuer:          issuer,
		verificationURI: verificationURI,
		codeTTL:         DefaultCodeTTL,
		pollInterval:    DefaultPollInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func grantContext(deviceCode string) sessioncrypto.Context {
	return sessioncrypto.Context{
		"service": "dashborion",
		"table":   "devices",
		"purpose": "device-grant",
		"device":  deviceCode,
	}
}

// RequestCode starts a flow: mints the device and user codes and persists
// the pending state.
func (c *Coordinator) RequestCode(ctx context.Context) (*Authorization, error) {
	deviceCode, err := generateDeviceCode()
	if err != nil {
		return nil, err
	}
	userCode, err := generateUserCode()
	if err != nil {
		return nil, err
	}

	expiresAt := c.now().Add(c.codeTTL).Unix()
	interval := int64(c.pollInterval.Seconds())

	if err := c.store.Put(ctx, store.Record{
		PartitionKey: store.DeviceKey(deviceCode),
		SortKey:      store.SortDevice,
		Status:       statusPending,
		Attributes: map[string]string{
			attrInterval: strconv.FormatInt(interval, 10),
		},
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist device state: %w", err)
	}

	// Reverse index so the browser can find the flow from the short code.
	if err := c.store.Put(ctx, store.Record{
		PartitionKey: store.UserCodeKey(userCode),
		SortKey:      store.SortLookup,
		Payload:      []byte(deviceCode),
		ExpiresAt:    expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist user code: %w", err)
	}

	return &Authorization{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         c.verificationURI,
		VerificationURIComplete: c.verificationURI + "?code=" + userCode,
		ExpiresIn:               int64(c.codeTTL.Seconds()),
		Interval:                interval,
	}, nil
}

// Verify approves a pending flow on behalf of the authenticated browser
// user. The approving identity is sealed into the record so the eventual
// token pair carries exactly the approver's permissions. Each user code
// works once.
func (c *Coordinator) Verify(ctx context.Context, userCode string, approver *auth.AuthContext) error {
	code, err := NormalizeUserCode(userCode)
	if err != nil {
		return autherr.ErrDeviceCodeInvalid
	}

	deviceCode, err := c.lookupDeviceCode(ctx, code)
	if err != nil {
		return err
	}

	grant := auth.Session{
		UserID:      approver.UserID,
		Email:       approver.Email,
		DisplayName: approver.DisplayName,
		Groups:      approver.Groups,
		Permissions: approver.Permissions,
		MFAVerified: approver.MFAVerified,
	}
	plaintext, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}
	sealed, err := c.sealer.Encrypt(plaintext, grantContext(deviceCode))
	if err != nil {
		return fmt.Errorf("failed to seal grant: %w", err)
	}

	err = c.store.UpdateStatus(ctx, store.DeviceKey(deviceCode), store.SortDevice, statusPending, statusVerified, map[string]string{
		attrGrant:      base64.StdEncoding.EncodeToString(sealed),
		attrApprovedBy: approver.Email,
	})
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
		return autherr.ErrDeviceCodeInvalid
	case err != nil:
		return fmt.Errorf("failed to approve device code: %w", err)
	}

	// The short code is spent regardless of what happens next.
	_ = c.store.Delete(ctx, store.UserCodeKey(code), store.SortLookup)
	return nil
}

// Deny rejects a pending flow; the poller sees an access_denied result.
func (c *Coordinator) Deny(ctx context.Context, userCode string) error {
	code, err := NormalizeUserCode(userCode)
	if err != nil {
		return autherr.ErrDeviceCodeInvalid
	}
	deviceCode, err := c.lookupDeviceCode(ctx, code)
	if err != nil {
		return err
	}

	err = c.store.UpdateStatus(ctx, store.DeviceKey(deviceCode), store.SortDevice, statusPending, statusDenied, nil)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
		return autherr.ErrDeviceCodeInvalid
	case err != nil:
		return fmt.Errorf("failed to deny device code: %w", err)
	}
	_ = c.store.Delete(ctx, store.UserCodeKey(code), store.SortLookup)
	return nil
}

func (c *Coordinator) lookupDeviceCode(ctx context.Context, userCode string) (string, error) {
	rec, err := c.store.Get(ctx, store.UserCodeKey(userCode), store.SortLookup)
	if errors.Is(err, store.ErrNotFound) {
		return "", autherr.ErrDeviceCodeInvalid
	} else if err != nil {
		return "", fmt.Errorf("failed to look up user code: %w", err)
	}
	return string(rec.Payload), nil
}

// Poll is called by the device until it gets tokens or a terminal error:
// ErrAuthorizationPending while the user has not decided,
// autherr.ErrRateLimited when polling too fast (the stored interval is
// bumped), autherr.ErrAuthorizationDenied when the user rejected the code,
// autherr.ErrDeviceCodeInvalid for unknown, expired or already-redeemed
// codes. On approval exactly one poller receives the pair.
func (c *Coordinator) Poll(ctx context.Context, deviceCode string) (*auth.TokenPair, error) {
	pk := store.DeviceKey(deviceCode)

	rec, err := c.store.Get(ctx, pk, store.SortDevice)
	if errors.Is(err, store.ErrNotFound) {
		return nil, autherr.ErrDeviceCodeInvalid
	} else if err != nil {
		return nil, fmt.Errorf("failed to load device state: %w", err)
	}

	now := c.now()
	if tooFast, newInterval := c.paceCheck(rec, now); tooFast {
		// Persist the ratcheted interval and the new earliest poll time.
		// Losing this CAS just means the state moved on; the slow_down
		// still stands.
		_ = c.store.UpdateStatus(ctx, pk, store.SortDevice, rec.Status, rec.Status, map[string]string{
			attrInterval: strconv.FormatInt(int64(newInterval.Seconds()), 10),
			attrNextPoll: strconv.FormatInt(now.Add(newInterval).Unix(), 10),
		})
		return nil, autherr.ErrRateLimited
	}

	switch rec.Status {
	case statusPending:
		interval := c.intervalOf(rec)
		_ = c.store.UpdateStatus(ctx, pk, store.SortDevice, statusPending, statusPending, map[string]string{
			attrNextPoll: strconv.FormatInt(now.Add(interval).Unix(), 10),
		})
		return nil, ErrAuthorizationPending

	case statusDenied:
		return nil, autherr.ErrAuthorizationDenied

	case statusIssued:
		return nil, autherr.ErrDeviceCodeInvalid

	case statusVerified:
		err := c.store.UpdateStatus(ctx, pk, store.SortDevice, statusVerified, statusIssued, nil)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			// Another poller with the same device code won.
			return nil, autherr.ErrDeviceCodeInvalid
		} else if err != nil {
			return nil, fmt.Errorf("failed to claim device code: %w", err)
		}
		return c.redeem(ctx, deviceCode, rec)

	default:
		return nil, autherr.ErrDeviceCodeInvalid
	}
}

// redeem decrypts the sealed grant and mints the token pair. Called only by
// the poller that won the verified -> issued transition.
func (c *Coordinator) redeem(ctx context.Context, deviceCode string, rec *store.Record) (*auth.TokenPair, error) {
	encoded := rec.Attributes[attrGrant]
	if encoded == "" {
		return nil, autherr.ErrDeviceCodeInvalid
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, autherr.ErrDeviceCodeInvalid
	}
	plaintext, err := c.sealer.Decrypt(sealed, grantContext(deviceCode))
	if err != nil {
		return nil, err
	}

	var grant auth.Session
	if err := json.Unmarshal(plaintext, &grant); err != nil {
		return nil, fmt.Errorf("failed to decode grant: %w", err)
	}

	pair, err := c.issuer.IssuePair(ctx, grant)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	return pair, nil
}

func (c *Coordinator) intervalOf(rec *store.Record) time.Duration {
	if v, err := strconv.ParseInt(rec.Attributes[attrInterval], 10, 64); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return c.pollInterval
}

// paceCheck reports whether this poll arrived before the earliest allowed
// time, and if so the escalated interval to advertise.
func (c *Coordinator) paceCheck(rec *store.Record, now time.Time) (bool, time.Duration) {
	next, err := strconv.ParseInt(rec.Attributes[attrNextPoll], 10, 64)
	if err != nil || next == 0 {
		return false, 0
	}
	if now.Unix() >= next {
		return false, 0
	}
	return true, c.intervalOf(rec) + slowDownStep
}

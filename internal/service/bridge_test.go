package service_test

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/zodforge"
	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/service"
	"github.com/MerlijnW70/zodforge-dashboard/internal/session"
)

func TestLoginWithKey(t *testing.T) {
	h := newHarness(t)
	h.api.keys["zf_live_abc"] = zodforge.KeyInfo{KID: "kid-1", CustomerID: "cust-1", Name: "Prod Key", Tier: domain.TierPro}

	login, err := h.bridge.LoginWithKey(context.Background(), "zf_live_abc")
	require.NoError(t, err)
	require.NotEmpty(t, login.Token)
	require.Equal(t, "Bearer", login.TokenType)
	require.Equal(t, int64(3600), login.ExpiresIn)

	sess, err := h.codec.Decode(context.Background(), login.Token)
	require.NoError(t, err)
	require.Equal(t, "kid-1", sess.KID)
	require.Equal(t, domain.TierPro, sess.Tier)
	require.Equal(t, domain.LoginMethodAPIKey, sess.Method)
	require.Equal(t, "zf_live_abc", sess.RawKey)
	require.Zero(t, sess.IdentityID)
}

func TestLoginWithKeyRejected(t *testing.T) {
	h := newHarness(t)

	login, err := h.bridge.LoginWithKey(context.Background(), "zf_bad")
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
	require.Nil(t, login)
}

func TestLoginWithOAuthFirstLoginProvisions(t *testing.T) {
	h := newHarness(t)
	profile := domain.OAuthProfile{ID: "42", Email: "ann@example.com", Name: "Ann"}

	login, err := h.bridge.LoginWithOAuth(context.Background(), profile)
	require.NoError(t, err)
	require.Equal(t, 1, h.api.createCalls)
	require.Equal(t, domain.LoginMethodGitHub, login.Session.Method)
	require.Equal(t, domain.TierFree, login.Session.Tier)
	require.NotEmpty(t, login.Session.RawKey, "freshly minted key rides in the first session")
	require.NotZero(t, login.Session.IdentityID)

	links, err := h.links.ListActive(context.Background(), login.Session.IdentityID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, login.Session.KID, links[0].KID)
}

func TestLoginWithOAuthReturningUserReusesLink(t *testing.T) {
	h := newHarness(t)
	profile := domain.OAuthProfile{ID: "42", Email: "ann@example.com", Name: "Ann"}

	first, err := h.bridge.LoginWithOAuth(context.Background(), profile)
	require.NoError(t, err)

	second, err := h.bridge.LoginWithOAuth(context.Background(), profile)
	require.NoError(t, err)
	require.Equal(t, 1, h.api.createCalls, "returning login must not mint a second key")
	require.Equal(t, first.Session.IdentityID, second.Session.IdentityID)
	require.Equal(t, first.Session.KID, second.Session.KID)
	require.Empty(t, second.Session.RawKey, "raw key material is never re-derivable")

	links, err := h.links.ListActive(context.Background(), second.Session.IdentityID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestLoginWithOAuthProvisioningRace(t *testing.T) {
	h := newHarness(t)
	profile := domain.OAuthProfile{ID: "42", Email: "ann@example.com", Name: "Ann"}

	identity, err := h.identities.FindOrCreate(context.Background(), profile)
	require.NoError(t, err)

	// The concurrent winner's link lands between our ListActive and Create.
	h.links.beforeCreate = func() {
		h.links.beforeCreate = nil
		_, err := h.links.Create(context.Background(), domain.KeyLink{
			IdentityID: identity.ID,
			KID:        "kid-winner",
			Tier:       domain.TierFree,
			Active:     true,
		})
		require.NoError(t, err)
		h.links.duplicateFor = identity.ID
	}

	login, err := h.bridge.LoginWithOAuth(context.Background(), profile)
	require.NoError(t, err)
	require.Equal(t, "kid-winner", login.Session.KID, "loser adopts the surviving link")
	require.Empty(t, login.Session.RawKey)
	require.Len(t, h.api.deleted, 1, "loser's minted key must be revoked")

	links, err := h.links.ListActive(context.Background(), identity.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestStartOAuthAndComplete(t *testing.T) {
	h := newHarness(t)
	h.provider.profile = domain.OAuthProfile{ID: "7", Email: "bob@example.com", Name: "Bob"}

	start, err := h.bridge.StartOAuth(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, start.State)

	parsed, err := url.Parse(start.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, start.State, parsed.Query().Get("state"))
	require.Equal(t, "S256", parsed.Query().Get("code_challenge_method"))
	require.NotEmpty(t, parsed.Query().Get("code_challenge"))

	login, err := h.bridge.CompleteOAuth(context.Background(), service.OAuthCallback{Code: "auth-code", State: start.State})
	require.NoError(t, err)
	require.Equal(t, "auth-code", h.provider.gotCode)
	require.NotEmpty(t, h.provider.gotVerifier)
	require.Equal(t, domain.LoginMethodGitHub, login.Session.Method)

	// The state is single use.
	_, err = h.bridge.CompleteOAuth(context.Background(), service.OAuthCallback{Code: "auth-code", State: start.State})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCompleteOAuthUnknownState(t *testing.T) {
	h := newHarness(t)

	_, err := h.bridge.CompleteOAuth(context.Background(), service.OAuthCallback{Code: "auth-code", State: "forged"})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = h.bridge.CompleteOAuth(context.Background(), service.OAuthCallback{})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRotate(t *testing.T) {
	h := newHarness(t)
	profile := domain.OAuthProfile{ID: "42", Email: "ann@example.com", Name: "Ann"}

	login, err := h.bridge.LoginWithOAuth(context.Background(), profile)
	require.NoError(t, err)
	oldKID := login.Session.KID
	oldRaw := login.Session.RawKey

	rotation, err := h.bridge.Rotate(context.Background(), login.Session)
	require.NoError(t, err)
	require.NotEqual(t, oldKID, rotation.KID)
	require.NotEqual(t, oldRaw, rotation.RawKey)

	// The replaced key no longer verifies.
	_, err = h.api.VerifyKey(context.Background(), oldRaw)
	require.ErrorIs(t, err, domain.ErrInvalidCredential)

	// The reissued session is bound to the replacement.
	sess, err := h.codec.Decode(context.Background(), rotation.Token)
	require.NoError(t, err)
	require.Equal(t, rotation.KID, sess.KID)
	require.Equal(t, rotation.RawKey, sess.RawKey)

	// The link set follows the rotation: old deactivated, new canonical.
	links, err := h.links.ListActive(context.Background(), login.Session.IdentityID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, rotation.KID, links[0].KID)
}

func TestRotateWithoutRawKey(t *testing.T) {
	h := newHarness(t)

	sess := domain.Session{IdentityID: 1, KID: "kid-1", Tier: domain.TierFree, Method: domain.LoginMethodGitHub}
	rotation, err := h.bridge.Rotate(context.Background(), sess)
	require.ErrorIs(t, err, domain.ErrRawKeyUnavailable)
	require.Nil(t, rotation)
}

func TestDescribeWithRawKey(t *testing.T) {
	h := newHarness(t)
	h.api.keys["zf_live_abc"] = zodforge.KeyInfo{KID: "kid-1", Name: "Prod Key", Tier: domain.TierPro}

	overview, err := h.bridge.Describe(context.Background(), domain.Session{
		KID: "kid-1", Tier: domain.TierPro, Method: domain.LoginMethodAPIKey, RawKey: "zf_live_abc",
	})
	require.NoError(t, err)
	require.True(t, overview.RawKeyAvailable)
	require.NotNil(t, overview.Key)
	require.NotNil(t, overview.Usage)
	require.Equal(t, "kid-1", overview.KID)
}

func TestDescribeWithoutRawKey(t *testing.T) {
	h := newHarness(t)
	profile := domain.OAuthProfile{ID: "42", Email: "ann@example.com", Name: "Ann"}
	login, err := h.bridge.LoginWithOAuth(context.Background(), profile)
	require.NoError(t, err)

	sess := login.Session
	sess.RawKey = ""
	overview, err := h.bridge.Describe(context.Background(), sess)
	require.NoError(t, err)
	require.False(t, overview.RawKeyAvailable)
	require.Nil(t, overview.Key)
	require.Nil(t, overview.Usage)
	require.NotNil(t, overview.Link)
	require.Equal(t, sess.KID, overview.Link.KID)
}

type harness struct {
	api        *mockAPI
	provider   *mockProvider
	identities *mockIdentityRepo
	links      *mockKeyLinkRepo
	codec      *session.Codec
	bridge     service.Bridge
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	api := newMockAPI()
	provider := &mockProvider{profile: domain.OAuthProfile{ID: "42", Email: "ann@example.com", Name: "Ann"}}
	identities := &mockIdentityRepo{byGitHubID: map[string]domain.Identity{}}
	links := &mockKeyLinkRepo{}
	states := &mockStateStore{entries: map[string]domain.LoginState{}}
	codec := session.NewCodec(session.NewKeyManager(&mockSigningKeyRepo{}), "zodforge-dashboard", time.Hour)
	logger := zap.NewNop()

	provisioner := service.NewProvisioner(api, links, logger)
	bridge := service.NewBridge(api, provider, identities, links, states, provisioner, codec, logger)

	return &harness{
		api:        api,
		provider:   provider,
		identities: identities,
		links:      links,
		codec:      codec,
		bridge:     bridge,
	}
}

type mockAPI struct {
	mu          sync.Mutex
	keys        map[string]zodforge.KeyInfo
	createCalls int
	mintSeq     int
	deleted     []string
}

func newMockAPI() *mockAPI {
	return &mockAPI{keys: map[string]zodforge.KeyInfo{}}
}

func (m *mockAPI) VerifyKey(ctx context.Context, rawKey string) (*zodforge.VerifiedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.keys[rawKey]
	if !ok {
		return nil, domain.ErrInvalidCredential
	}
	return &zodforge.VerifiedKey{Key: info, Usage: zodforge.Usage{Monthly: &zodforge.PeriodUsage{Requests: 10}}}, nil
}

func (m *mockAPI) CreateKey(ctx context.Context, customerID, name string, tier domain.Tier) (*zodforge.MintedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.mintSeq++
	raw := "zf_live_minted_" + string(rune('a'+m.mintSeq-1))
	kid := "kid-minted-" + string(rune('a'+m.mintSeq-1))
	m.keys[raw] = zodforge.KeyInfo{KID: kid, CustomerID: customerID, Name: name, Tier: tier}
	return &zodforge.MintedKey{KID: kid, RawKey: raw, Name: name, Tier: tier}, nil
}

func (m *mockAPI) RotateKey(ctx context.Context, kid, authKey string) (*zodforge.RotatedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.keys[authKey]
	if !ok || info.KID != kid {
		return nil, errors.New("status=401")
	}
	delete(m.keys, authKey)
	m.mintSeq++
	raw := "zf_live_rotated_" + string(rune('a'+m.mintSeq-1))
	info.KID = "kid-rotated-" + string(rune('a'+m.mintSeq-1))
	m.keys[raw] = info
	return &zodforge.RotatedKey{KID: info.KID, RawKey: raw}, nil
}

func (m *mockAPI) DeleteKey(ctx context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, kid)
	for raw, info := range m.keys {
		if info.KID == kid {
			delete(m.keys, raw)
		}
	}
	return nil
}

func (m *mockAPI) Health(ctx context.Context) (*zodforge.HealthStatus, error) {
	return &zodforge.HealthStatus{Status: "healthy"}, nil
}

type mockProvider struct {
	profile     domain.OAuthProfile
	gotCode     string
	gotVerifier string
}

func (m *mockProvider) AuthCodeURL(state, codeChallenge string) string {
	return "https://github.test/login/oauth/authorize?state=" + url.QueryEscape(state) +
		"&code_challenge=" + url.QueryEscape(codeChallenge) +
		"&code_challenge_method=S256"
}

func (m *mockProvider) Authenticate(ctx context.Context, code, codeVerifier string) (domain.OAuthProfile, error) {
	m.gotCode = code
	m.gotVerifier = codeVerifier
	return m.profile, nil
}

type mockIdentityRepo struct {
	mu         sync.Mutex
	byGitHubID map[string]domain.Identity
	nextID     int64
}

func (m *mockIdentityRepo) FindOrCreate(ctx context.Context, profile domain.OAuthProfile) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byGitHubID[profile.ID]; ok {
		existing.Email = profile.Email
		existing.Name = profile.Name
		m.byGitHubID[profile.ID] = existing
		return existing, nil
	}
	m.nextID++
	identity := domain.Identity{
		ID:       m.nextID,
		GitHubID: profile.ID,
		Email:    profile.Email,
		Name:     profile.Name,
	}
	m.byGitHubID[profile.ID] = identity
	return identity, nil
}

func (m *mockIdentityRepo) GetByID(ctx context.Context, id int64) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.byGitHubID {
		if identity.ID == id {
			return identity, nil
		}
	}
	return domain.Identity{}, pgx.ErrNoRows
}

type mockKeyLinkRepo struct {
	mu     sync.Mutex
	links  []domain.KeyLink
	nextID int64
	clock  int64

	// beforeCreate, when set, runs ahead of the insert. Tests use it to
	// slip a concurrent winner's link in under a pending provision.
	beforeCreate func()
	// duplicateFor forces the next Create for the identity to report the
	// store's uniqueness conflict.
	duplicateFor int64
}

func (m *mockKeyLinkRepo) ListActive(ctx context.Context, identityID int64) ([]domain.KeyLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.KeyLink
	for _, l := range m.links {
		if l.IdentityID == identityID && l.Active {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KID < out[j].KID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockKeyLinkRepo) Create(ctx context.Context, link domain.KeyLink) (domain.KeyLink, error) {
	if hook := m.beforeCreate; hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.duplicateFor != 0 && m.duplicateFor == link.IdentityID {
		m.duplicateFor = 0
		return domain.KeyLink{}, domain.ErrDuplicateKeyLink
	}
	for _, l := range m.links {
		if l.KID == link.KID {
			return domain.KeyLink{}, domain.ErrDuplicateKeyLink
		}
	}
	m.nextID++
	m.clock++
	link.ID = m.nextID
	link.CreatedAt = time.Unix(m.clock, 0).UTC()
	m.links = append(m.links, link)
	return link, nil
}

func (m *mockKeyLinkRepo) Deactivate(ctx context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.links {
		if m.links[i].KID == kid {
			m.links[i].Active = false
		}
	}
	return nil
}

func (m *mockKeyLinkRepo) TouchLastUsed(ctx context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := range m.links {
		if m.links[i].KID == kid {
			m.links[i].LastUsedAt = &now
		}
	}
	return nil
}

func (m *mockKeyLinkRepo) GetByKID(ctx context.Context, kid string) (domain.KeyLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.KID == kid {
			return l, nil
		}
	}
	return domain.KeyLink{}, pgx.ErrNoRows
}

type mockStateStore struct {
	mu      sync.Mutex
	entries map[string]domain.LoginState
}

func (m *mockStateStore) Save(ctx context.Context, key string, state domain.LoginState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = state
	return nil
}

func (m *mockStateStore) Get(ctx context.Context, key string) (*domain.LoginState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *mockStateStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type mockSigningKeyRepo struct {
	mu  sync.Mutex
	key *domain.SigningKey
}

func (m *mockSigningKeyRepo) GetActive(ctx context.Context) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return *m.key, nil
}

func (m *mockSigningKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key.ID = 1
	key.CreatedAt = time.Now().UTC()
	m.key = &key
	return key, nil
}

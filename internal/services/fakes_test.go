package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/events"
	"github.com/streampay/backend/internal/lock"
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/pending"
	"github.com/streampay/backend/internal/repositories"
	"github.com/streampay/backend/internal/vault"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- sessions ---

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (f *fakeSessionStore) put(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
}

func (f *fakeSessionStore) get(id uuid.UUID) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (f *fakeSessionStore) GetActiveByWallet(_ context.Context, wallet string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserWallet == wallet && s.Status == models.SessionStatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	return f.get(id), nil
}

func (f *fakeSessionStore) Insert(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.sessions {
		if e.UserWallet == s.UserWallet && e.Status == models.SessionStatusActive {
			return apperr.New(apperr.KindConflict, "wallet already has an active session")
		}
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) ApplyTopUp(_ context.Context, id uuid.UUID, deposit decimal.Decimal, sig string, expiresAt time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.SessionStatusActive {
		return nil, apperr.New(apperr.KindNoActiveSession, "session is no longer active")
	}
	s.ApprovedAmount = s.ApprovedAmount.Add(deposit)
	s.RemainingAmount = s.RemainingAmount.Add(deposit)
	s.ApprovalSignature = &sig
	s.ExpiresAt = expiresAt
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) UpdateBalances(_ context.Context, id uuid.UUID, approved, remaining, expectedSpent decimal.Decimal) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.SessionStatusActive || !s.SpentAmount.Equal(expectedSpent) {
		return nil, apperr.New(apperr.KindConflict, "session changed during update, retry")
	}
	s.ApprovedAmount = approved
	s.RemainingAmount = remaining
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) UpdateSpending(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.RemainingAmount.LessThan(amount) {
		return nil, apperr.New(apperr.KindInsufficientSessionBalance, "session balance does not cover spend")
	}
	s.SpentAmount = s.SpentAmount.Add(amount)
	s.RemainingAmount = s.RemainingAmount.Sub(amount)
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) MarkRevoked(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.SessionStatusActive {
		return false, nil
	}
	s.Status = models.SessionStatusRevoked
	return true, nil
}

func (f *fakeSessionStore) MarkExpired(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if s, ok := f.sessions[id]; ok && s.Status == models.SessionStatusActive {
			s.Status = models.SessionStatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionStore) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if s.Status == models.SessionStatusActive && s.ExpiresAt.Before(now) && len(out) < limit {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ListActive(_ context.Context) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if s.Status == models.SessionStatusActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

// --- chain ---

type fakeChain struct {
	mu          sync.Mutex
	balance     decimal.Decimal
	sendErr     error
	confirmErr  error
	transferErr error
	transferSig string // returned alongside transferErr

	approvals []decimal.Decimal
	delegates []string
	revokes   int
	sent      []string
	confirmed []string
	transfers []chain.SplitTransfer
	delay     time.Duration
}

func (c *fakeChain) GenerateDelegate() (chain.Keypair, error) {
	key := make([]byte, 64)
	_, _ = rand.Read(key)
	return chain.Keypair{PublicKey: "delegate-" + uuid.NewString()[:8], PrivateKey: key}, nil
}

func (c *fakeChain) FacilitatorAddress() string { return "facilitator" }

func (c *fakeChain) TokenBalance(context.Context, string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *fakeChain) BuildApprovalTx(_ context.Context, _, delegate string, amount decimal.Decimal) (*chain.UnsignedTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals = append(c.approvals, amount)
	c.delegates = append(c.delegates, delegate)
	return &chain.UnsignedTx{Transaction: "approve:" + amount.String(), Blockhash: "bh", LastValidBlockHeight: 100}, nil
}

func (c *fakeChain) BuildRevokeTx(context.Context, string) (*chain.UnsignedTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revokes++
	return &chain.UnsignedTx{Transaction: "revoke"}, nil
}

func (c *fakeChain) SendSigned(_ context.Context, tx string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, tx)
	return "sig-" + tx, nil
}

func (c *fakeChain) Confirm(_ context.Context, sig string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmErr != nil {
		return c.confirmErr
	}
	c.confirmed = append(c.confirmed, sig)
	return nil
}

func (c *fakeChain) TransferSplit(_ context.Context, t chain.SplitTransfer) (string, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferErr != nil {
		return c.transferSig, c.transferErr
	}
	c.transfers = append(c.transfers, t)
	return fmt.Sprintf("transfer-%d", len(c.transfers)), nil
}

func (c *fakeChain) DecodeTransaction(string) (*chain.TxSummary, error) {
	return nil, errors.New("not used")
}

func (c *fakeChain) CoSignAndSend(context.Context, string) (string, error) {
	return "", errors.New("not used")
}

func (c *fakeChain) transferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

// --- payments, videos, users, analytics ---

type fakePaymentStore struct {
	mu         sync.Mutex
	payments   []*models.Payment
	access     map[string]time.Time
	failRecord error
	beforeGet  func()
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{access: make(map[string]time.Time)}
}

func accessKey(userID, videoID uuid.UUID) string { return userID.String() + "/" + videoID.String() }

func (f *fakePaymentStore) GetVerified(_ context.Context, userID, videoID uuid.UUID) (*models.Payment, error) {
	if f.beforeGet != nil {
		f.beforeGet()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.UserID == userID && p.VideoID == videoID && p.Status == models.PaymentStatusVerified {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePaymentStore) RecordVerified(_ context.Context, p *models.Payment, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRecord != nil {
		return f.failRecord
	}
	for _, e := range f.payments {
		if e.UserID == p.UserID && e.VideoID == p.VideoID && e.Status == models.PaymentStatusVerified {
			return repositories.ErrDuplicatePayment
		}
	}
	p.ID = uuid.New()
	cp := *p
	f.payments = append(f.payments, &cp)
	f.access[accessKey(p.UserID, p.VideoID)] = expiry
	return nil
}

func (f *fakePaymentStore) ListByWallet(_ context.Context, wallet string, limit, offset int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.UserWallet == wallet {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePaymentStore) HasAccess(_ context.Context, userID, videoID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.access[accessKey(userID, videoID)]
	return ok && exp.After(time.Now()), nil
}

func (f *fakePaymentStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payments)
}

type fakeVideoRepo struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*models.Video
}

func newFakeVideoRepo(videos ...*models.Video) *fakeVideoRepo {
	r := &fakeVideoRepo{videos: make(map[uuid.UUID]*models.Video)}
	for _, v := range videos {
		r.videos[v.ID] = v
	}
	return r
}

func (r *fakeVideoRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *fakeVideoRepo) IncrementViews(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[id].Views++
	return nil
}

func (r *fakeVideoRepo) AddEarnings(_ context.Context, id uuid.UUID, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[id].TotalEarnings = r.videos[id].TotalEarnings.Add(delta)
	return nil
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (f *fakeUserStore) GetOrCreateByWallet(_ context.Context, wallet string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[wallet]
	if !ok {
		u = &models.User{ID: uuid.New(), WalletAddress: wallet}
		f.users[wallet] = u
	}
	return u, nil
}

func (f *fakeUserStore) GetByWallet(_ context.Context, wallet string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[wallet], nil
}

type fakeAnalytics struct {
	mu      sync.Mutex
	fail    error
	videos  map[uuid.UUID]models.Delta
	creator map[string]models.Delta
}

func newFakeAnalytics() *fakeAnalytics {
	return &fakeAnalytics{videos: make(map[uuid.UUID]models.Delta), creator: make(map[string]models.Delta)}
}

func (a *fakeAnalytics) RecordVideoDelta(_ context.Context, id uuid.UUID, d models.Delta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	cur := a.videos[id]
	a.videos[id] = models.Delta{Views: cur.Views + d.Views, Revenue: cur.Revenue.Add(d.Revenue)}
	return nil
}

func (a *fakeAnalytics) RecordCreatorDelta(_ context.Context, wallet string, d models.Delta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	cur := a.creator[wallet]
	a.creator[wallet] = models.Delta{Views: cur.Views + d.Views, Revenue: cur.Revenue.Add(d.Revenue)}
	return nil
}

type fakeProfiles struct {
	mu          sync.Mutex
	invalidated []string
}

func (p *fakeProfiles) Invalidate(_ context.Context, wallet string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = append(p.invalidated, wallet)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *fakeAudit) Log(_ context.Context, e models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// --- harness ---

type harness struct {
	now       time.Time
	cfg       *config.Config
	vault     *vault.Vault
	sessions  *fakeSessionStore
	pending   *pending.MemoryStore
	chain     *fakeChain
	audit     *fakeAudit
	publisher *recordingPublisher
	svc       *SessionService

	payments  *fakePaymentStore
	videos    *fakeVideoRepo
	users     *fakeUserStore
	analytics *fakeAnalytics
	profiles  *fakeProfiles
	paySvc    *PaymentService
}

func newHarness(videos ...*models.Video) *harness {
	v, err := vault.New(testVaultKey)
	if err != nil {
		panic(err)
	}
	h := &harness{
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		cfg: &config.Config{
			PendingSessionTTL:  5 * time.Minute,
			SessionTTL:         24 * time.Hour,
			LedgerDriftEpsilon: dec("0.000001"),
			SpendLockTTL:       time.Minute,
			PlatformFeeBPS:     285,
			PlatformWallet:     "platform-wallet",
		},
		vault:     v,
		sessions:  newFakeSessionStore(),
		pending:   pending.NewMemoryStore(zap.NewNop()),
		chain:     &fakeChain{balance: dec("100")},
		audit:     &fakeAudit{},
		publisher: &recordingPublisher{},
		payments:  newFakePaymentStore(),
		videos:    newFakeVideoRepo(videos...),
		users:     newFakeUserStore(),
		analytics: newFakeAnalytics(),
		profiles:  &fakeProfiles{},
	}
	h.svc = NewSessionService(h.sessions, h.pending, h.chain, h.vault, lock.NewMemoryLocker(), h.audit, h.publisher, h.cfg, zap.NewNop())
	h.svc.now = func() time.Time { return h.now }
	h.paySvc = NewPaymentService(h.svc, h.payments, h.videos, h.users, h.analytics, h.profiles, h.chain, h.audit, h.publisher, h.cfg, zap.NewNop())
	h.paySvc.now = func() time.Time { return h.now }
	return h
}

// seedSession stores an active session with an encrypted random delegate key.
func (h *harness) seedSession(wallet, approved, spent string, expiresIn time.Duration) *models.Session {
	key := make([]byte, 64)
	_, _ = rand.Read(key)
	enc, err := h.vault.Encrypt(key)
	if err != nil {
		panic(err)
	}
	a, sp := dec(approved), dec(spent)
	s := &models.Session{
		ID:                   uuid.New(),
		UserWallet:           wallet,
		DelegatePublicKey:    "delegate-" + wallet,
		DelegateKeyEncrypted: enc,
		ApprovedAmount:       a,
		SpentAmount:          sp,
		RemainingAmount:      a.Sub(sp),
		Status:               models.SessionStatusActive,
		ExpiresAt:            h.now.Add(expiresIn),
	}
	h.sessions.put(s)
	return s
}

func newVideo(price, creator string) *models.Video {
	return &models.Video{
		ID:            uuid.New(),
		Title:         "video",
		CreatorWallet: creator,
		PriceUSDC:     dec(price),
		TotalEarnings: decimal.Zero,
	}
}

package rewards

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/ledger"
	"github.com/mochiface/backend/internal/models"
)

type testEnv struct {
	svc    *service
	store  *MemoryStore
	ledger ledger.Service
	now    time.Time
	mu     sync.Mutex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	signer, err := NewHMACSigner("test-signing-secret")
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		store:  NewMemoryStore(),
		ledger: ledger.NewService(ledger.NewMemoryStore()),
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = newService(env.store, signer, env.ledger, 10*time.Minute, nil)
	env.svc.now = env.clock
	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Issue / verify
// ---------------------------------------------------------------------------

func TestIssueProof_TokenShape(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.svc.IssueProof(context.Background(), uuid.New(), "video_watch")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		t.Fatalf("expected 3 token segments, got %d", len(segments))
	}
	raw, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		t.Fatalf("header is not base64url: %v", err)
	}
	var header map[string]string
	if err := json.Unmarshal(raw, &header); err != nil {
		t.Fatal(err)
	}
	if header["alg"] != "HS256" || header["typ"] != "JWT" {
		t.Fatalf("unexpected header %v", header)
	}
}

func TestIssueProof_UnknownTask(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.IssueProof(context.Background(), uuid.New(), "mine_bitcoin"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestVerifyProof_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	token, err := env.svc.IssueProof(ctx, user, "video_watch")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := env.svc.VerifyProof(ctx, token, user)
	if err != nil || !ok {
		t.Fatalf("first verify: ok=%v err=%v", ok, err)
	}
	ok, err = env.svc.VerifyProof(ctx, token, user)
	if err != nil || ok {
		t.Fatalf("second verify should be false, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyProof_ConcurrentExactlyOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()
	token, err := env.svc.IssueProof(ctx, user, "video_watch")
	if err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := env.svc.VerifyProof(ctx, token, user)
			if err != nil {
				t.Errorf("verify: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful verification, got %d", wins.Load())
	}
}

func TestVerifyProof_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()
	token, err := env.svc.IssueProof(ctx, user, "video_watch")
	if err != nil {
		t.Fatal(err)
	}

	env.advance(10*time.Minute + time.Second)

	ok, err := env.svc.VerifyProof(ctx, token, user)
	if err != nil || ok {
		t.Fatalf("expired proof should be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyProof_AtExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()
	token, _ := env.svc.IssueProof(ctx, user, "video_watch")

	env.advance(10 * time.Minute)

	ok, err := env.svc.VerifyProof(ctx, token, user)
	if err != nil || !ok {
		t.Fatalf("proof at exactly expires_at should still verify, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyProof_WrongUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token, _ := env.svc.IssueProof(ctx, uuid.New(), "video_watch")

	ok, err := env.svc.VerifyProof(ctx, token, uuid.New())
	if err != nil || ok {
		t.Fatalf("foreign proof should be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyProof_ForgedSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	forger, _ := NewHMACSigner("some-other-secret")
	token, err := forger.Sign(Claims{UserID: user, TaskType: "video_watch", ExpiresAt: env.clock().Add(time.Minute), Nonce: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	_ = env.store.Insert(ctx, &models.RewardProof{
		ID:        uuid.New(),
		Token:     token,
		UserID:    user,
		TaskType:  "video_watch",
		ExpiresAt: env.clock().Add(time.Minute),
	})

	ok, err := env.svc.VerifyProof(ctx, token, user)
	if err != nil || ok {
		t.Fatalf("forged proof should be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyProof_Unknown(t *testing.T) {
	env := newTestEnv(t)
	ok, err := env.svc.VerifyProof(context.Background(), "a.b.c", uuid.New())
	if err != nil || ok {
		t.Fatalf("unknown proof should be rejected, got ok=%v err=%v", ok, err)
	}
}

// ---------------------------------------------------------------------------
// Redeem
// ---------------------------------------------------------------------------

// A user at 0 credits watches a video, redeems once (+1), and a second
// redemption of the same proof grants nothing.
func TestRedeem_CreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()
	if err := env.ledger.Open(ctx, user); err != nil {
		t.Fatal(err)
	}

	token, err := env.svc.IssueProof(ctx, user, "video_watch")
	if err != nil {
		t.Fatal(err)
	}

	r, err := env.svc.Redeem(ctx, token, user)
	if err != nil || !r.Credited || r.Points != 1 {
		t.Fatalf("first redeem: %+v err=%v", r, err)
	}
	bal, _ := env.ledger.GetBalance(ctx, user)
	if bal != 1 {
		t.Fatalf("expected balance 1, got %d", bal)
	}

	r, err = env.svc.Redeem(ctx, token, user)
	if err != nil || r.Credited {
		t.Fatalf("second redeem should not credit: %+v err=%v", r, err)
	}
	bal, _ = env.ledger.GetBalance(ctx, user)
	if bal != 1 {
		t.Fatalf("expected balance to stay 1, got %d", bal)
	}

	txs, _ := env.ledger.Transactions(ctx, user, 10)
	if len(txs) != 1 || txs[0].Reason != models.ReasonRewardTask {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
}

func TestNewHMACSigner_EmptySecret(t *testing.T) {
	if _, err := NewHMACSigner(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

type flakyCrediter struct {
	next ledger.Service
	down atomic.Bool
}

func (f *flakyCrediter) Add(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) error {
	if f.down.Load() {
		return errors.New("ledger unreachable")
	}
	return f.next.Add(ctx, userID, amount, reason, refID)
}

// A ledger outage during redemption must leave the proof redeemable.
func TestRedeem_LedgerFailureKeepsProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()
	if err := env.ledger.Open(ctx, user); err != nil {
		t.Fatal(err)
	}
	credits := &flakyCrediter{next: env.ledger}
	svc := newService(env.store, env.svc.signer, credits, 10*time.Minute, nil)
	svc.now = env.clock

	token, err := svc.IssueProof(ctx, user, "video_watch")
	if err != nil {
		t.Fatal(err)
	}

	credits.down.Store(true)
	if _, err := svc.Redeem(ctx, token, user); err == nil {
		t.Fatal("expected redeem to fail while the ledger is down")
	}

	credits.down.Store(false)
	r, err := svc.Redeem(ctx, token, user)
	if err != nil || !r.Credited || r.Points != 1 {
		t.Fatalf("retry should credit: %+v err=%v", r, err)
	}
	if bal, _ := env.ledger.GetBalance(ctx, user); bal != 1 {
		t.Fatalf("expected balance 1, got %d", bal)
	}
	if r, err := svc.Redeem(ctx, token, user); err != nil || r.Credited {
		t.Fatalf("third redeem should not credit: %+v err=%v", r, err)
	}
}

// Credited but not yet marked used: the retry marks it used without paying twice.
func TestRedeem_AlreadyCreditedProofIsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()
	if err := env.ledger.Open(ctx, user); err != nil {
		t.Fatal(err)
	}
	token, err := env.svc.IssueProof(ctx, user, "video_watch")
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.store.FindUnused(ctx, token, user)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.ledger.Add(ctx, user, 1, models.ReasonRewardTask, p.ID.String()); err != nil {
		t.Fatal(err)
	}

	r, err := env.svc.Redeem(ctx, token, user)
	if err != nil || r.Credited {
		t.Fatalf("expected no second credit: %+v err=%v", r, err)
	}
	if bal, _ := env.ledger.GetBalance(ctx, user); bal != 1 {
		t.Fatalf("expected balance 1, got %d", bal)
	}
	if _, err := env.store.FindUnused(ctx, token, user); !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("proof should be marked used, got %v", err)
	}
}

func TestRedeem_RetiredTaskLeavesProofUnused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()
	expires := env.clock().Add(time.Minute)
	token, err := env.svc.signer.Sign(Claims{UserID: user, TaskType: "retired_task", ExpiresAt: expires, Nonce: "n1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.Insert(ctx, &models.RewardProof{
		ID:        uuid.New(),
		Token:     token,
		UserID:    user,
		TaskType:  "retired_task",
		ExpiresAt: expires,
	}); err != nil {
		t.Fatal(err)
	}

	r, err := env.svc.Redeem(ctx, token, user)
	if err != nil || r.Credited {
		t.Fatalf("retired task should not credit: %+v err=%v", r, err)
	}
	if _, err := env.store.FindUnused(ctx, token, user); err != nil {
		t.Fatalf("proof should stay unused: %v", err)
	}
}

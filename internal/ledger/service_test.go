package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/models"
)

func newTestLedger(t *testing.T, userID uuid.UUID, credits int64) (Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	if err := svc.Open(ctx, userID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if credits > 0 {
		if err := svc.Add(ctx, userID, credits, models.ReasonSignupBonus, ""); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return svc, store
}

func sumDeltas(t *testing.T, svc Service, userID uuid.UUID) int64 {
	t.Helper()
	txs, err := svc.Transactions(context.Background(), userID, 200)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var sum int64
	for _, tx := range txs {
		sum += tx.Delta
	}
	return sum
}

// ---------------------------------------------------------------------------
// Deduct
// ---------------------------------------------------------------------------

func TestDeduct_Success(t *testing.T) {
	user := uuid.New()
	svc, _ := newTestLedger(t, user, 3)
	ctx := context.Background()

	ok, err := svc.Deduct(ctx, user, 1, models.ReasonImageGeneration, "job-1")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if !ok {
		t.Fatal("expected deduction to succeed")
	}
	bal, _ := svc.GetBalance(ctx, user)
	if bal != 2 {
		t.Fatalf("expected balance 2, got %d", bal)
	}
}

func TestDeduct_InsufficientHasNoSideEffect(t *testing.T) {
	user := uuid.New()
	svc, _ := newTestLedger(t, user, 1)
	ctx := context.Background()

	ok, err := svc.Deduct(ctx, user, 2, models.ReasonImageGeneration, "job-1")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if ok {
		t.Fatal("expected deduction to fail")
	}
	bal, _ := svc.GetBalance(ctx, user)
	if bal != 1 {
		t.Fatalf("balance changed: %d", bal)
	}
	txs, _ := svc.Transactions(ctx, user, 10)
	if len(txs) != 1 {
		t.Fatalf("expected only the seed transaction, got %d", len(txs))
	}
}

func TestDeduct_UnknownUserIsInsufficient(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ok, err := svc.Deduct(context.Background(), uuid.New(), 1, models.ReasonImageGeneration, "")
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestDeduct_InvalidAmount(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if _, err := svc.Deduct(context.Background(), uuid.New(), 0, models.ReasonImageGeneration, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := svc.Add(context.Background(), uuid.New(), -1, models.ReasonRefund, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// Balance 3, five concurrent one-credit deductions: exactly three succeed.
func TestDeduct_ConcurrentNoDoubleSpend(t *testing.T) {
	user := uuid.New()
	svc, _ := newTestLedger(t, user, 3)
	ctx := context.Background()

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := svc.Deduct(ctx, user, 1, models.ReasonImageGeneration, uuid.NewString())
			if err != nil {
				t.Errorf("deduct %d: %v", i, err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 3 {
		t.Fatalf("expected 3 successful deductions, got %d", wins.Load())
	}
	bal, _ := svc.GetBalance(ctx, user)
	if bal != 0 {
		t.Fatalf("expected balance 0, got %d", bal)
	}
	if sum := sumDeltas(t, svc, user); sum != bal {
		t.Fatalf("balance %d != sum of deltas %d", bal, sum)
	}
}

// ---------------------------------------------------------------------------
// Add / references
// ---------------------------------------------------------------------------

func TestAdd_DuplicateRefRejected(t *testing.T) {
	user := uuid.New()
	svc, _ := newTestLedger(t, user, 0)
	ctx := context.Background()

	if err := svc.Add(ctx, user, 1, models.ReasonRewardTask, "proof-1"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := svc.Add(ctx, user, 1, models.ReasonRewardTask, "proof-1")
	if !errors.Is(err, ErrDuplicateRef) {
		t.Fatalf("expected ErrDuplicateRef, got %v", err)
	}
	bal, _ := svc.GetBalance(ctx, user)
	if bal != 1 {
		t.Fatalf("expected balance 1, got %d", bal)
	}

	// Same ref under a different reason is a different key.
	if err := svc.Add(ctx, user, 1, models.ReasonRefund, "proof-1"); err != nil {
		t.Fatalf("refund with same ref: %v", err)
	}
}

func TestGetBalance_NotFound(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if _, err := svc.GetBalance(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBalanceEqualsSumOfDeltas(t *testing.T) {
	user := uuid.New()
	svc, _ := newTestLedger(t, user, 3)
	ctx := context.Background()

	steps := []struct {
		add    bool
		amount int64
		reason string
	}{
		{false, 1, models.ReasonImageGeneration},
		{true, 1, models.ReasonRewardTask},
		{false, 2, models.ReasonImageGeneration},
		{false, 5, models.ReasonImageGeneration},
		{true, 1, models.ReasonRefund},
	}
	for i, s := range steps {
		var err error
		if s.add {
			err = svc.Add(ctx, user, s.amount, s.reason, "")
		} else {
			_, err = svc.Deduct(ctx, user, s.amount, s.reason, "")
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		bal, _ := svc.GetBalance(ctx, user)
		if bal < 0 {
			t.Fatalf("step %d: negative balance %d", i, bal)
		}
		if sum := sumDeltas(t, svc, user); sum != bal {
			t.Fatalf("step %d: balance %d != sum %d", i, bal, sum)
		}
	}
}

func TestTransactions_NewestFirst(t *testing.T) {
	user := uuid.New()
	svc, _ := newTestLedger(t, user, 3)
	ctx := context.Background()
	if _, err := svc.Deduct(ctx, user, 1, models.ReasonImageGeneration, "job-9"); err != nil {
		t.Fatal(err)
	}
	txs, err := svc.Transactions(ctx, user, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].RefID != "job-9" || txs[0].Delta != -1 {
		t.Fatalf("unexpected newest transaction: %+v", txs[0])
	}
}

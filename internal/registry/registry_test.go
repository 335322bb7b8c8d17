package registry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/account"
	"github.com/zillionare-go/backtest/internal/bterrors"
)

func newAcct(name, token string) *account.Account {
	return account.New(name, token, decimal.NewFromInt(1000000), decimal.NewFromFloat(1e-4),
		time.Now().AddDate(0, 0, -1), time.Now().AddDate(0, 1, 0))
}

func TestCreate_RejectsDuplicateToken(t *testing.T) {
	r := New()
	if err := r.Create(newAcct("a", "tok")); err != nil {
		t.Fatal(err)
	}
	err := r.Create(newAcct("b", "tok"))
	be, ok := bterrors.As(err)
	if !ok || be.Code != bterrors.AccountExists {
		t.Fatalf("err = %v, want ACCOUNT_EXISTS", err)
	}
}

func TestCreate_RejectsDuplicateName(t *testing.T) {
	r := New()
	if err := r.Create(newAcct("dup", "tok-1")); err != nil {
		t.Fatal(err)
	}
	err := r.Create(newAcct("dup", "tok-2"))
	be, ok := bterrors.As(err)
	if !ok || be.Code != bterrors.AccountExists {
		t.Fatalf("err = %v, want ACCOUNT_EXISTS", err)
	}
}

func TestLookup_UnknownToken(t *testing.T) {
	r := New()
	_, err := r.Lookup("nope")
	be, ok := bterrors.As(err)
	if !ok || be.Code != bterrors.Unauthorized {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestDelete_RemovesBothIndexes(t *testing.T) {
	r := New()
	if err := r.Create(newAcct("c", "tok-c")); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete("c"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Lookup("tok-c"); err == nil {
		t.Fatal("expected lookup to fail after delete")
	}
	if err := r.Create(newAcct("c", "tok-c-2")); err != nil {
		t.Fatalf("expected name to be reusable after delete: %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	r := New()
	r.Create(newAcct("a", "t1"))
	r.Create(newAcct("b", "t2"))
	r.DeleteAll()
	if len(r.Names()) != 0 {
		t.Errorf("expected empty registry after DeleteAll, got %v", r.Names())
	}
}

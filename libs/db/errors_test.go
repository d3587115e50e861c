package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifiesWrappedPgErrors(t *testing.T) {
	dup := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "appointments_confirmation_code_key"})
	if !IsUniqueViolation(dup) {
		t.Fatal("expected unique violation")
	}
	if got := ConstraintName(dup); got != "appointments_confirmation_code_key" {
		t.Fatalf("unexpected constraint %q", got)
	}
	if IsLockTimeout(dup) {
		t.Fatal("unique violation is not a lock timeout")
	}

	for _, code := range []string{CodeLockNotAvailable, CodeQueryCanceled, CodeDeadlockDetected} {
		if !IsLockTimeout(fmt.Errorf("lock slot: %w", &pgconn.PgError{Code: code})) {
			t.Fatalf("expected %s to classify as lock timeout", code)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to be not found")
	}
	if IsNotFound(nil) {
		t.Fatal("nil is not not-found")
	}
	if Code(nil) != "" {
		t.Fatal("nil has no code")
	}
}

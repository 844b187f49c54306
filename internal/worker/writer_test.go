package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsFatalStoreError_UndefinedTable(t *testing.T) {
	err := &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	if !isFatalStoreError(err) {
		t.Fatal("expected undefined_table to be classified fatal")
	}
}

func TestIsFatalStoreError_InsufficientPrivilege(t *testing.T) {
	err := &pgconn.PgError{Code: "42501", Message: "permission denied"}
	if !isFatalStoreError(err) {
		t.Fatal("expected insufficient_privilege to be classified fatal")
	}
}

func TestIsFatalStoreError_TransientNotFatal(t *testing.T) {
	err := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	if isFatalStoreError(err) {
		t.Fatal("expected deadlock to be classified transient, not fatal")
	}
}

func TestIsFatalStoreError_NonPgError(t *testing.T) {
	err := errors.New("connection reset by peer")
	if isFatalStoreError(err) {
		t.Fatal("expected a non-pgx error to be classified transient")
	}
}

func TestIsFatalStoreError_WrappedPgError(t *testing.T) {
	inner := &pgconn.PgError{Code: "42703", Message: "column does not exist"}
	wrapped := fmt.Errorf("store: insert raw_hits[0]: %w", inner)
	if !isFatalStoreError(wrapped) {
		t.Fatal("expected wrapped undefined_column error to be classified fatal")
	}
}

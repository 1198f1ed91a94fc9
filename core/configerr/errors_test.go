package configerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := Valuef("bad value %q", "x")
	if !errors.Is(err, ErrValue) {
		t.Fatalf("expected value kind")
	}
	if errors.Is(err, ErrKey) {
		t.Fatalf("value error must not match key kind")
	}
	wrapped := fmt.Errorf("create category: %w", err)
	if KindOf(wrapped) != KindValue {
		t.Fatalf("expected kind to survive wrapping, got %v", KindOf(wrapped))
	}
}

func TestFromStorage(t *testing.T) {
	cause := errors.New("boom")
	err := FromStorage(map[string]any{"entryPoint": "insert", "message": "duplicate key"}, cause)
	if !errors.Is(err, ErrValue) || !errors.Is(err, ErrStorage) {
		t.Fatalf("storage failure should be a value error matching ErrStorage")
	}
	if err.Error() != "duplicate key: boom" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Payload["entryPoint"] != "insert" {
		t.Fatalf("payload not carried: %#v", ce)
	}
}

func TestIsForbidden(t *testing.T) {
	if !IsForbidden(fmt.Errorf("wrap: %w", Forbiddenf("role %s", "view"))) {
		t.Fatalf("expected forbidden")
	}
	if IsForbidden(Valuef("nope")) || IsForbidden(nil) {
		t.Fatalf("unexpected forbidden match")
	}
}

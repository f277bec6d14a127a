package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := New(CodeValidation, "recipient id required")
	if err.Code() != CodeValidation {
		t.Fatalf("expected %s, got %s", CodeValidation, err.Code())
	}
	if err.Message() != "recipient id required" {
		t.Fatalf("unexpected message %q", err.Message())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "redis unavailable")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be findable via errors.Is")
	}
	if As(err).Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", As(err).Code())
	}
}

func TestAsFindsTypedErrorThroughWrapping(t *testing.T) {
	inner := New(CodeNotFound, "notification missing")
	outer := fmt.Errorf("processing job: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error through fmt wrapping")
	}
	if typed.Code() != CodeNotFound {
		t.Fatalf("expected not found, got %s", typed.Code())
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNotInitialized, "call Initialize first"))
	if !HasCode(err, CodeNotInitialized) {
		t.Fatal("expected HasCode to match")
	}
	if HasCode(err, CodeValidation) {
		t.Fatal("expected HasCode mismatch for other codes")
	}
	if HasCode(nil, CodeValidation) {
		t.Fatal("nil error should never match")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta != metadataByCode[CodeInternal] {
		t.Fatal("expected internal metadata fallback")
	}
}

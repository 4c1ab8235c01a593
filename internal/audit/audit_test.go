package audit_test

import (
	"context"
	"testing"

	"github.com/lucabriguglia/Memoria-sub001/internal/audit"
)

func TestStatic_Actor(t *testing.T) {
	id := audit.Static("importer")
	if got := id.Actor(context.Background()); got != "importer" {
		t.Errorf("Actor() = %q, want %q", got, "importer")
	}
}

func TestSystem_Actor(t *testing.T) {
	if got := audit.System.Actor(context.Background()); got != "system" {
		t.Errorf("Actor() = %q, want %q", got, "system")
	}
}

func TestContextual_Actor(t *testing.T) {
	id := audit.Contextual{Fallback: "anonymous"}

	if got := id.Actor(context.Background()); got != "anonymous" {
		t.Errorf("Actor() without context actor = %q, want %q", got, "anonymous")
	}

	ctx := audit.WithActor(context.Background(), "alice")
	if got := id.Actor(ctx); got != "alice" {
		t.Errorf("Actor() with context actor = %q, want %q", got, "alice")
	}

	ctx = audit.WithActor(context.Background(), "")
	if got := id.Actor(ctx); got != "anonymous" {
		t.Errorf("Actor() with empty context actor = %q, want %q", got, "anonymous")
	}
}

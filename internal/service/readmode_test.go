package service_test

import (
	"testing"

	"github.com/lucabriguglia/Memoria-sub001/internal/service"
)

func TestReadMode_String(t *testing.T) {
	tests := []struct {
		mode service.ReadMode
		want string
	}{
		{service.SnapshotOnly, "snapshot_only"},
		{service.SnapshotOrCreate, "snapshot_or_create"},
		{service.SnapshotWithNewEvents, "snapshot_with_new_events"},
		{service.ReadMode(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("ReadMode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

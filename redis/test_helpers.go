package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

const testNamespace = "test"

// NewTestStore returns a connected Store backed by an in-memory miniredis
// server. Both are torn down when the test ends. Key expiry in miniredis only
// advances with FastForward.
func NewTestStore(t testing.TB, log Logger, opts ...StoreOption) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg, err := NewConfig(log, "redis://"+mr.Addr(), testNamespace)
	if err != nil {
		t.Fatalf("test store config: %v", err)
	}
	s := NewStore(cfg, opts...)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("test store connect: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Disconnect(ctx)
	})
	return s, mr
}

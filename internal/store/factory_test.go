package store

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/ragvec-go/internal/rag"
)

func Test_Open_Backends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem, err := Open(ctx, Config{Backend: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := mem.(*MemoryStore); !ok {
		t.Errorf("memory: want *MemoryStore, got %T", mem)
	}

	lite, err := Open(ctx, Config{Backend: "sqlite", Path: t.TempDir() + "/v.db"})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = lite.Close() })
	if _, ok := lite.(*SQLiteStore); !ok {
		t.Errorf("sqlite: want *SQLiteStore, got %T", lite)
	}
}

func Test_Open_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown backend", Config{Backend: "chroma"}},
		{"qdrant without dimensions", Config{Backend: "qdrant"}},
		{"pgvector without dsn", Config{Backend: "pgvector", Dimensions: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Open(ctx, tt.cfg); !errors.Is(err, rag.ErrInvalidArgument) {
				t.Errorf("want ErrInvalidArgument, got %v", err)
			}
		})
	}
}

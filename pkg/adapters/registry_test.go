package adapters

import (
	"testing"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/transports"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	transport := transports.NewLocalTransport()

	if err := registry.Register(NewFileAdapter(transport)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	adapter, err := registry.Get(engine.KindFile)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if adapter.Kind() != engine.KindFile {
		t.Errorf("kind = %s", adapter.Kind())
	}

	if _, err := registry.Get(engine.KindService); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	registry := NewRegistry()
	transport := transports.NewLocalTransport()

	if err := registry.Register(NewFileAdapter(transport)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(NewFileAdapter(transport)); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestNewDefaultRegistry(t *testing.T) {
	registry, err := NewDefaultRegistry(transports.NewLocalTransport(), DefaultOptions{})
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}

	want := []engine.Kind{engine.KindFile, engine.KindPackage, engine.KindService, engine.KindUser}
	got := registry.Kinds()
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kinds[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// dbobject stays unregistered without a DSN.
	if _, err := registry.Get(engine.KindDBObject); err == nil {
		t.Error("dbobject must be unregistered without a DSN")
	}
}

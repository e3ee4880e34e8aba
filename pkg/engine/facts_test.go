package engine

import (
	"context"
	"errors"
	"testing"
)

func TestGather_ObservedAndAbsent(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	pkg.observed["package/nginx"] = Attributes{"version": "1.24"}
	registry := newMockRegistry(pkg)

	resources := []Resource{
		res(KindPackage, "nginx", 0, nil),
		res(KindPackage, "curl", 1, nil),
	}

	snap, err := NewFactGatherer(registry, testLogger()).Gather(context.Background(), resources)
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if attrs, ok := snap.Lookup(refOf(KindPackage, "nginx")); !ok {
		t.Error("nginx should be observed")
	} else if attrs["version"] != "1.24" {
		t.Errorf("version = %v", attrs["version"])
	}

	if _, ok := snap.Lookup(refOf(KindPackage, "curl")); ok {
		t.Error("curl should be absent")
	}
	if snap.IsUnknown(refOf(KindPackage, "curl")) {
		t.Error("a clean absent probe is not unknown")
	}
}

func TestGather_ProbeErrorIsNotFatal(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	svc := newMockAdapter(KindService)
	svc.probeErr = errors.New("dbus unavailable")
	registry := newMockRegistry(pkg, svc)

	resources := []Resource{
		res(KindService, "nginx", 0, nil),
		res(KindPackage, "nginx", 1, nil),
	}

	snap, err := NewFactGatherer(registry, testLogger()).Gather(context.Background(), resources)
	if err != nil {
		t.Fatalf("Gather must not fail on probe errors: %v", err)
	}

	if !snap.IsUnknown(refOf(KindService, "nginx")) {
		t.Error("failed probe must mark the resource unknown")
	}
	// Later resources are still probed.
	if len(pkg.probed) != 1 {
		t.Errorf("package probe count = %d, want 1", len(pkg.probed))
	}
}

func TestGather_MissingAdapterMarksUnknown(t *testing.T) {
	registry := newMockRegistry()

	resources := []Resource{
		res(KindDBObject, "appdb", 0, nil),
	}

	snap, err := NewFactGatherer(registry, testLogger()).Gather(context.Background(), resources)
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if !snap.IsUnknown(refOf(KindDBObject, "appdb")) {
		t.Error("resource without adapter must be unknown")
	}
}

func TestGather_CancellationIsFatal(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	registry := newMockRegistry(pkg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFactGatherer(registry, testLogger()).Gather(ctx, []Resource{
		res(KindPackage, "nginx", 0, nil),
	})
	if err == nil {
		t.Fatal("cancelled context must abort gathering")
	}
}

package engine

import (
	"strings"
	"testing"
)

func refStrings(resources []Resource) []string {
	out := make([]string, len(resources))
	for i := range resources {
		out[i] = resources[i].Ref().String()
	}
	return out
}

func TestSortResources_DeclarationOrderWithoutDeps(t *testing.T) {
	resources := []Resource{
		res(KindPackage, "nginx", 0, nil),
		res(KindFile, "/etc/motd", 1, nil),
		res(KindUser, "deploy", 2, nil),
	}

	ordered, err := SortResources(resources)
	if err != nil {
		t.Fatalf("SortResources failed: %v", err)
	}

	want := []string{"package/nginx", "file//etc/motd", "user/deploy"}
	got := refStrings(ordered)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSortResources_DependenciesFirst(t *testing.T) {
	// Declared out of order: the config file requires the package, the
	// service requires both.
	resources := []Resource{
		res(KindService, "nginx", 0, nil,
			refOf(KindPackage, "nginx"), refOf(KindFile, "/etc/nginx/nginx.conf")),
		res(KindFile, "/etc/nginx/nginx.conf", 1, nil, refOf(KindPackage, "nginx")),
		res(KindPackage, "nginx", 2, nil),
	}

	ordered, err := SortResources(resources)
	if err != nil {
		t.Fatalf("SortResources failed: %v", err)
	}

	index := make(map[string]int)
	for i, s := range refStrings(ordered) {
		index[s] = i
	}
	if index["package/nginx"] > index["file//etc/nginx/nginx.conf"] {
		t.Error("package must come before the file that requires it")
	}
	if index["file//etc/nginx/nginx.conf"] > index["service/nginx"] {
		t.Error("file must come before the service that requires it")
	}
}

func TestSortResources_TieBreakIsDeclarationOrder(t *testing.T) {
	// b and c both depend only on a; they must keep declaration order.
	resources := []Resource{
		res(KindFile, "c", 0, nil, refOf(KindPackage, "a")),
		res(KindFile, "b", 1, nil, refOf(KindPackage, "a")),
		res(KindPackage, "a", 2, nil),
	}

	ordered, err := SortResources(resources)
	if err != nil {
		t.Fatalf("SortResources failed: %v", err)
	}

	got := refStrings(ordered)
	want := []string{"package/a", "file/c", "file/b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortResources_Deterministic(t *testing.T) {
	resources := []Resource{
		res(KindPackage, "a", 0, nil),
		res(KindFile, "b", 1, nil, refOf(KindPackage, "a")),
		res(KindFile, "c", 2, nil, refOf(KindPackage, "a")),
		res(KindService, "d", 3, nil, refOf(KindFile, "b"), refOf(KindFile, "c")),
	}

	first, err := SortResources(resources)
	if err != nil {
		t.Fatalf("SortResources failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := SortResources(resources)
		if err != nil {
			t.Fatalf("SortResources failed on iteration %d: %v", i, err)
		}
		for j := range first {
			if again[j].Ref() != first[j].Ref() {
				t.Fatalf("iteration %d: order changed at %d", i, j)
			}
		}
	}
}

func TestSortResources_CycleDetected(t *testing.T) {
	resources := []Resource{
		res(KindPackage, "a", 0, nil, refOf(KindFile, "b")),
		res(KindFile, "b", 1, nil, refOf(KindService, "c")),
		res(KindService, "c", 2, nil, refOf(KindPackage, "a")),
	}

	_, err := SortResources(resources)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !IsCycleError(err) {
		t.Fatalf("expected cycle classification, got: %v", err)
	}
	for _, member := range []string{"package/a", "file/b", "service/c"} {
		if !strings.Contains(err.Error(), member) {
			t.Errorf("cycle message %q should name %s", err.Error(), member)
		}
	}
}

func TestSortResources_SelfDependency(t *testing.T) {
	resources := []Resource{
		res(KindPackage, "a", 0, nil, refOf(KindPackage, "a")),
	}

	_, err := SortResources(resources)
	if !IsCycleError(err) {
		t.Fatalf("expected cycle error for self-dependency, got: %v", err)
	}
}

func TestSortResources_UndeclaredDependency(t *testing.T) {
	resources := []Resource{
		res(KindFile, "b", 0, nil, refOf(KindPackage, "missing")),
	}

	_, err := SortResources(resources)
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestSortResources_DuplicateRef(t *testing.T) {
	resources := []Resource{
		res(KindPackage, "nginx", 0, nil),
		res(KindPackage, "nginx", 1, nil),
	}

	_, err := SortResources(resources)
	if !IsValidationError(err) {
		t.Fatalf("expected validation error for duplicate, got: %v", err)
	}
}

func TestSortResources_Empty(t *testing.T) {
	ordered, err := SortResources(nil)
	if err != nil {
		t.Fatalf("SortResources failed: %v", err)
	}
	if len(ordered) != 0 {
		t.Errorf("expected empty result, got %d", len(ordered))
	}
}

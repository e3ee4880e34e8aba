package config

import (
	"context"
	"strings"
	"testing"

	"github.com/convergekit/converge/pkg/engine"
)

const basicManifest = `
version: "1"
target: local
vars:
  domain: example.com
  workers: 4
resources:
  - kind: package
    id: nginx
    attributes:
      version: "1.24"
  - kind: file
    id: /etc/nginx/nginx.conf
    attributes:
      mode: "0644"
      content: "worker_processes ${var.workers};\n"
    requires:
      - package/nginx
  - kind: service
    id: nginx
    attributes:
      running: true
      enabled: true
    requires:
      - file//etc/nginx/nginx.conf
handlers:
  - id: reload-nginx
    on:
      - file//etc/nginx/nginx.conf
    do:
      kind: service
      id: nginx
      attributes:
        action: reload
`

func TestParse_BasicManifest(t *testing.T) {
	loader := NewLoader(LoaderOptions{})
	result, err := loader.Parse(context.Background(), []byte(basicManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(result.Resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(result.Resources))
	}
	if len(result.Handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(result.Handlers))
	}

	// Positions follow declaration order.
	for i, r := range result.Resources {
		if r.Position != i {
			t.Errorf("resource %s position = %d, want %d", r.Ref(), r.Position, i)
		}
	}

	// ${var.workers} embedded in a string renders as text.
	file := result.Resources[1]
	if got := file.Attributes["content"]; got != "worker_processes 4;\n" {
		t.Errorf("content = %q", got)
	}

	svc := result.Resources[2]
	if len(svc.Requires) != 1 || svc.Requires[0].String() != "file//etc/nginx/nginx.conf" {
		t.Errorf("service requires = %v", svc.Requires)
	}

	h := result.Handlers[0]
	if h.ID != "reload-nginx" || h.Do.Ref().String() != "service/nginx" {
		t.Errorf("handler = %+v", h)
	}
	if h.Do.Attributes["action"] != "reload" {
		t.Errorf("handler action = %v", h.Do.Attributes["action"])
	}
}

func TestParse_WholeStringVarKeepsType(t *testing.T) {
	manifest := `
vars:
  uid: 1001
resources:
  - kind: user
    id: deploy
    attributes:
      uid: "${var.uid}"
`
	loader := NewLoader(LoaderOptions{})
	result, err := loader.Parse(context.Background(), []byte(manifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// A string that is exactly one reference resolves to the variable's
	// value, integer included.
	if got := result.Resources[0].Attributes["uid"]; got != 1001 {
		t.Errorf("uid = %v (%T), want 1001 (int)", got, got)
	}
}

func TestParse_UserGroupsSortedAtLoad(t *testing.T) {
	manifest := `
resources:
  - kind: user
    id: deploy
    attributes:
      groups:
        - wheel
        - docker
        - adm
`
	loader := NewLoader(LoaderOptions{})
	result, err := loader.Parse(context.Background(), []byte(manifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// Membership is order-independent: the declared list is sorted so
	// it matches the sorted probe of a converged account.
	groups, ok := result.Resources[0].Attributes["groups"].([]any)
	if !ok {
		t.Fatalf("groups = %T, want []any", result.Resources[0].Attributes["groups"])
	}
	want := []string{"adm", "docker", "wheel"}
	if len(groups) != len(want) {
		t.Fatalf("groups = %v, want %v", groups, want)
	}
	for i, g := range groups {
		if g != want[i] {
			t.Errorf("groups[%d] = %v, want %s", i, g, want[i])
		}
	}
}

func TestParse_UndefinedVariable(t *testing.T) {
	manifest := `
resources:
  - kind: file
    id: /etc/motd
    attributes:
      content: "welcome to ${var.hostname}"
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if err == nil {
		t.Fatal("expected error for undefined variable")
	}
	if !engine.IsValidationError(err) {
		t.Errorf("expected validation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "hostname") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestParse_Template(t *testing.T) {
	manifest := `
vars:
  domain: example.com
resources:
  - kind: file
    id: /etc/nginx/conf.d/site.conf
    attributes:
      mode: "0644"
    template: "server_name {{ .domain }};\n"
`
	loader := NewLoader(LoaderOptions{})
	result, err := loader.Parse(context.Background(), []byte(manifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := result.Resources[0].Attributes["content"]; got != "server_name example.com;\n" {
		t.Errorf("rendered content = %q", got)
	}
}

func TestParse_TemplateOnlyForFiles(t *testing.T) {
	manifest := `
resources:
  - kind: package
    id: nginx
    template: "whatever"
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestParse_TemplateAndContentConflict(t *testing.T) {
	manifest := `
resources:
  - kind: file
    id: /etc/motd
    attributes:
      content: "static"
    template: "rendered"
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestParse_DuplicateResource(t *testing.T) {
	manifest := `
resources:
  - kind: package
    id: nginx
  - kind: package
    id: nginx
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	// The message names both declaration positions.
	if !strings.Contains(err.Error(), "0") || !strings.Contains(err.Error(), "1") {
		t.Errorf("error should name the positions: %v", err)
	}
}

func TestParse_HandlerTriggerMustBeDeclared(t *testing.T) {
	manifest := `
resources:
  - kind: package
    id: nginx
handlers:
  - id: restart
    on:
      - service/ghost
    do:
      kind: service
      id: nginx
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "service/ghost") {
		t.Errorf("error should name the trigger: %v", err)
	}
}

func TestParse_DuplicateHandler(t *testing.T) {
	manifest := `
resources:
  - kind: service
    id: nginx
handlers:
  - id: restart
    on: [service/nginx]
    do: {kind: service, id: nginx}
  - id: restart
    on: [service/nginx]
    do: {kind: service, id: nginx}
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	manifest := `
resources:
  - kind: package
    id: nginx
    versionn: "1.24"
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParse_EmptyResourcesRejected(t *testing.T) {
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte("resources: []\n"))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestParse_InvalidKindRejected(t *testing.T) {
	manifest := `
resources:
  - kind: cronjob
    id: backup
`
	loader := NewLoader(LoaderOptions{})
	_, err := loader.Parse(context.Background(), []byte(manifest))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestParse_VarsScript(t *testing.T) {
	manifest := `
vars:
  env: prod
vars_script: |
  worker_count = 8 if vars["env"] == "prod" else 2
  listen_port = 443
resources:
  - kind: file
    id: /etc/app.conf
    attributes:
      content: "workers=${var.worker_count} port=${var.listen_port}"
`
	loader := NewLoader(LoaderOptions{})
	result, err := loader.Parse(context.Background(), []byte(manifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := result.Resources[0].Attributes["content"]; got != "workers=8 port=443" {
		t.Errorf("content = %q", got)
	}
}

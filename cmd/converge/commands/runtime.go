package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/convergekit/converge/pkg/adapters"
	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/policy"
	"github.com/convergekit/converge/pkg/stores"
	"github.com/convergekit/converge/pkg/telemetry"
	"github.com/convergekit/converge/pkg/transports"
	sshtransport "github.com/convergekit/converge/pkg/transports/ssh"
)

// buildTelemetry constructs the telemetry stack from settings plus the
// global --verbose and --json flags.
func buildTelemetry(settings *Settings, version string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = settings.Telemetry.LogLevel
	cfg.Logging.Format = settings.Telemetry.LogFormat
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		// Keep stdout clean for the command's JSON result.
		cfg.Logging.Format = "json"
		cfg.Logging.Output = "stderr"
	}

	cfg.Metrics.Enabled = settings.Telemetry.MetricsEnabled
	if settings.Telemetry.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = settings.Telemetry.MetricsAddress
	}

	cfg.Tracing.Enabled = settings.Telemetry.TracingEnabled
	if settings.Telemetry.TraceExporter != "" {
		cfg.Tracing.Exporter = settings.Telemetry.TraceExporter
	}
	cfg.Tracing.Endpoint = settings.Telemetry.TraceEndpoint
	if settings.Telemetry.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = settings.Telemetry.SamplingRate
	}

	return telemetry.NewTelemetry(cfg)
}

// openStore opens the run-history database and applies migrations.
func openStore(ctx context.Context, settings *Settings) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.State.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate state database: %w", err)
	}
	return store, nil
}

// connectTransport resolves a target string into a connected transport.
// An empty target or "local" runs against the local host; anything of
// the form ssh://[user@]host[:port] or user@host connects over SSH.
func connectTransport(ctx context.Context, target string, settings *Settings) (transports.Transport, error) {
	if target == "" || target == "local" {
		return transports.NewLocalTransport(), nil
	}

	cfg, err := sshConfigForTarget(target, settings)
	if err != nil {
		return nil, err
	}

	client, err := sshtransport.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return client, nil
}

func sshConfigForTarget(target string, settings *Settings) (*sshtransport.Config, error) {
	host := target
	user := settings.SSH.User
	port := 0

	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", target, err)
		}
		if u.Scheme != "ssh" {
			return nil, fmt.Errorf("unsupported target scheme %q (only ssh:// and local)", u.Scheme)
		}
		host = u.Hostname()
		if u.User != nil {
			user = u.User.Username()
		}
		if p := u.Port(); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid target port %q", p)
			}
			port = n
		}
	} else if at := strings.LastIndex(target, "@"); at >= 0 {
		user = target[:at]
		host = target[at+1:]
	}

	cfg := sshtransport.DefaultConfig(host, user)
	if port > 0 {
		cfg.Port = port
	} else if settings.SSH.Port > 0 {
		cfg.Port = settings.SSH.Port
	}
	if settings.SSH.PrivateKeyPath != "" {
		cfg.PrivateKeyPath = settings.SSH.PrivateKeyPath
	}
	if settings.SSH.KnownHostsPath != "" {
		cfg.KnownHostsPath = settings.SSH.KnownHostsPath
	}
	if settings.SSH.StrictHostKeyChecking != nil {
		cfg.StrictHostKeyChecking = *settings.SSH.StrictHostKeyChecking
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SSH configuration for %s: %w", target, err)
	}
	return cfg, nil
}

// buildRegistry assembles the adapter registry for a transport.
func buildRegistry(transport transports.Transport, settings *Settings) (*adapters.Registry, error) {
	return adapters.NewDefaultRegistry(transport, adapters.DefaultOptions{
		PackageManager: settings.Adapters.PackageManager,
		DatabaseDSN:    settings.Adapters.DatabaseDSN,
	})
}

// buildPolicyEngine loads built-in policies plus any configured paths.
func buildPolicyEngine(ctx context.Context, settings *Settings, tel *telemetry.Telemetry) (*policy.Engine, error) {
	engine, err := policy.NewEngine(tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}

	if len(settings.Policy.Paths) > 0 {
		loader := policy.NewLoader(tel.Logger.Zerolog())
		policies, err := loader.LoadFromPaths(settings.Policy.Paths)
		if err != nil {
			return nil, err
		}
		for i := range policies {
			if err := engine.AddPolicy(ctx, &policies[i]); err != nil {
				return nil, fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
			}
		}
	}

	engine.SetAdvisory(settings.Policy.Advisory)
	return engine, nil
}

// acquireLockFile takes an advisory lock file for the run duration.
// The file holds the owning PID; a leftover file from a crashed run
// must be removed by the operator.
func acquireLockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(path)
			return nil, fmt.Errorf("lock file %s already held (pid %s)", path, strings.TrimSpace(string(holder)))
		}
		return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	return func() { os.Remove(path) }, nil
}

// refreshFacts probes the manifest's resources and persists a fresh
// fact snapshot for the target.
func refreshFacts(ctx context.Context, store stores.Store, registry *adapters.Registry, target string, resources []engine.Resource, ttl time.Duration, logger zerolog.Logger) error {
	snap, err := engine.NewFactGatherer(registry, logger).Gather(ctx, resources)
	if err != nil {
		return err
	}

	now := time.Now()
	var expires *time.Time
	seconds := 0
	if ttl > 0 {
		t := now.Add(ttl)
		expires = &t
		seconds = int(ttl.Seconds())
	}

	put := func(ref engine.Ref, value string, exists bool) error {
		return store.UpsertFact(ctx, &stores.Fact{
			ID:        uuid.New().String(),
			TargetID:  target,
			Ref:       ref.String(),
			Value:     value,
			Exists:    exists,
			TTL:       seconds,
			ExpiresAt: expires,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	for ref, attrs := range snap.Observed {
		raw, err := json.Marshal(attrs)
		if err != nil {
			continue
		}
		if err := put(ref, string(raw), true); err != nil {
			return err
		}
	}
	for ref := range snap.Unknown {
		if err := put(ref, "null", false); err != nil {
			return err
		}
	}
	return nil
}

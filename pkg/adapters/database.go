package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	// MySQL driver
	_ "github.com/go-sql-driver/mysql"

	"github.com/convergekit/converge/pkg/engine"
)

// DBObjectAdapter manages database-server objects (schemas and accounts)
// through an administrative connection. The resource ID is the object
// name. Supported attributes:
//
//	object_type  "database" or "user" (required)
//	charset      schema character set (database)
//	host         account host, default "%" (user)
//	password     account password (user, apply-only: MySQL stores only
//	             hashes, so an existing account satisfies it)
//	grants       GRANT statements suffixes like "ALL ON appdb.*" (user,
//	             apply-only; GRANT is idempotent server-side)
type DBObjectAdapter struct {
	db *sql.DB
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_$]+$`)

// NewDBObjectAdapter opens the administrative connection.
func NewDBObjectAdapter(dsn string) (*DBObjectAdapter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &DBObjectAdapter{db: db}, nil
}

// Kind returns the dbobject resource kind.
func (a *DBObjectAdapter) Kind() engine.Kind {
	return engine.KindDBObject
}

// Close closes the administrative connection.
func (a *DBObjectAdapter) Close() error {
	return a.db.Close()
}

// Probe queries the server catalog for the object.
func (a *DBObjectAdapter) Probe(ctx context.Context, resource *engine.Resource) (engine.Attributes, bool, error) {
	objectType, err := objectTypeOf(resource.Attributes)
	if err != nil {
		return nil, false, err
	}

	switch objectType {
	case "database":
		return a.probeDatabase(ctx, resource)
	case "user":
		return a.probeUser(ctx, resource)
	default:
		return nil, false, fmt.Errorf("unsupported object_type: %s", objectType)
	}
}

// Apply creates or drops the object.
func (a *DBObjectAdapter) Apply(ctx context.Context, action *engine.Action) (engine.Attributes, error) {
	objectType, err := objectTypeOf(action.Desired)
	if err != nil {
		return nil, err
	}

	switch objectType {
	case "database":
		return a.applyDatabase(ctx, action)
	case "user":
		return a.applyUser(ctx, action)
	default:
		return nil, fmt.Errorf("unsupported object_type: %s", objectType)
	}
}

func (a *DBObjectAdapter) probeDatabase(ctx context.Context, resource *engine.Resource) (engine.Attributes, bool, error) {
	var charset string
	err := a.db.QueryRowContext(ctx,
		`SELECT DEFAULT_CHARACTER_SET_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?`,
		resource.ID,
	).Scan(&charset)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query schema: %w", err)
	}

	attrs := engine.Attributes{
		engine.StateAttr: engine.StatePresent,
		"object_type":    "database",
	}
	if _, declared := resource.Attributes["charset"]; declared {
		attrs["charset"] = charset
	}
	return attrs, true, nil
}

func (a *DBObjectAdapter) probeUser(ctx context.Context, resource *engine.Resource) (engine.Attributes, bool, error) {
	host := hostOf(resource.Attributes)

	var count int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mysql.user WHERE User = ? AND Host = ?`,
		resource.ID, host,
	).Scan(&count)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query user: %w", err)
	}
	if count == 0 {
		return nil, false, nil
	}

	attrs := engine.Attributes{
		engine.StateAttr: engine.StatePresent,
		"object_type":    "user",
		"host":           host,
	}
	// Password and grants cannot be read back in comparable form; an
	// existing account satisfies them
	if declared, ok := resource.Attributes["password"]; ok {
		attrs["password"] = declared
	}
	if declared, ok := resource.Attributes["grants"]; ok {
		attrs["grants"] = declared
	}
	return attrs, true, nil
}

func (a *DBObjectAdapter) applyDatabase(ctx context.Context, action *engine.Action) (engine.Attributes, error) {
	name, err := quoteIdent(action.Ref.ID)
	if err != nil {
		return nil, err
	}

	if action.Verb == engine.VerbRemove {
		if _, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", name)); err != nil {
			return nil, fmt.Errorf("failed to drop database: %w", err)
		}
		return nil, nil
	}

	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", name)
	if charset, ok := action.Desired["charset"].(string); ok && charset != "" {
		quoted, err := quoteIdent(charset)
		if err != nil {
			return nil, err
		}
		stmt += " CHARACTER SET " + quoted
	}
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if action.Verb == engine.VerbModify {
		if charset, ok := action.Desired["charset"].(string); ok && charset != "" {
			quoted, err := quoteIdent(charset)
			if err != nil {
				return nil, err
			}
			alter := fmt.Sprintf("ALTER DATABASE %s CHARACTER SET %s", name, quoted)
			if _, err := a.db.ExecContext(ctx, alter); err != nil {
				return nil, fmt.Errorf("failed to alter database: %w", err)
			}
		}
	}

	attrs := engine.Attributes{engine.StateAttr: engine.StatePresent, "object_type": "database"}
	if charset, ok := action.Desired["charset"]; ok {
		attrs["charset"] = charset
	}
	return attrs, nil
}

func (a *DBObjectAdapter) applyUser(ctx context.Context, action *engine.Action) (engine.Attributes, error) {
	name := action.Ref.ID
	host := hostOf(action.Desired)
	account := fmt.Sprintf("%s@%s", quoteString(name), quoteString(host))

	if action.Verb == engine.VerbRemove {
		if _, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP USER IF EXISTS %s", account)); err != nil {
			return nil, fmt.Errorf("failed to drop user: %w", err)
		}
		return nil, nil
	}

	password, _ := action.Desired["password"].(string)
	stmt := fmt.Sprintf("CREATE USER IF NOT EXISTS %s", account)
	if password != "" {
		stmt += fmt.Sprintf(" IDENTIFIED BY %s", quoteString(password))
	}
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if action.Verb == engine.VerbModify && password != "" {
		alter := fmt.Sprintf("ALTER USER %s IDENTIFIED BY %s", account, quoteString(password))
		if _, err := a.db.ExecContext(ctx, alter); err != nil {
			return nil, fmt.Errorf("failed to alter user: %w", err)
		}
	}

	for _, grant := range stringSliceAttr(action.Desired["grants"]) {
		if err := validateGrant(grant); err != nil {
			return nil, err
		}
		stmt := fmt.Sprintf("GRANT %s TO %s", grant, account)
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to grant %q: %w", grant, err)
		}
	}

	attrs := engine.Attributes{
		engine.StateAttr: engine.StatePresent,
		"object_type":    "user",
		"host":           host,
	}
	if password != "" {
		attrs["password"] = password
	}
	if grants, ok := action.Desired["grants"]; ok {
		attrs["grants"] = grants
	}
	return attrs, nil
}

func objectTypeOf(attrs engine.Attributes) (string, error) {
	objectType, ok := attrs["object_type"].(string)
	if !ok || objectType == "" {
		return "", fmt.Errorf("object_type attribute is required for dbobject resources")
	}
	return objectType, nil
}

func hostOf(attrs engine.Attributes) string {
	if host, ok := attrs["host"].(string); ok && host != "" {
		return host
	}
	return "%"
}

// quoteIdent validates and backtick-quotes a schema-level identifier.
// Identifiers cannot be bound as statement parameters.
func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %q", name)
	}
	return "`" + name + "`", nil
}

// quoteString single-quotes a string literal for statements that cannot
// take parameters (CREATE USER, GRANT).
func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// validateGrant rejects grant clauses that could escape the statement.
func validateGrant(grant string) error {
	if strings.ContainsAny(grant, ";'\"") {
		return fmt.Errorf("invalid grant clause: %q", grant)
	}
	return nil
}

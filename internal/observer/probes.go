// File: internal/observer/probes.go
// Brief: Per-type probe implementations.

package observer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Prober fetches the current external value for one observer tick. Probe
// calls are bounded by the observer's configured timeout via ctx.
type Prober interface {
	Probe(ctx context.Context) (string, error)
}

// ConnectionResolver maps a manifest connection reference to a database/sql
// driver name and DSN.
type ConnectionResolver func(ref string) (driver, dsn string, err error)

// NewProber builds the probe for a config. The resolver is only consulted for
// SQL observer types.
func NewProber(cfg Config, resolve ConnectionResolver, client *http.Client) (Prober, error) {
	switch cfg.Type {
	case TypeSQLExtendedProperty:
		driver, dsn, err := resolveConnection(cfg, resolve)
		if err != nil {
			return nil, err
		}
		query := fmt.Sprintf(
			"SELECT CONVERT(NVARCHAR(256), value) FROM sys.fn_listextendedproperty(N'%s', NULL, NULL, NULL, NULL, NULL, NULL)",
			strings.ReplaceAll(cfg.Property, "'", "''"))
		return &sqlProber{driver: driver, dsn: dsn, query: query}, nil
	case TypeSQLQuery:
		driver, dsn, err := resolveConnection(cfg, resolve)
		if err != nil {
			return nil, err
		}
		return &sqlProber{driver: driver, dsn: dsn, query: cfg.Query}, nil
	case TypeHTTP:
		if client == nil {
			client = http.DefaultClient
		}
		method := cfg.Method
		if method == "" {
			method = http.MethodGet
		}
		return &httpProber{client: client, url: cfg.URL, method: method, headers: cfg.Headers, jsonPath: cfg.JSONPath}, nil
	case TypeFile:
		p := &fileProber{path: cfg.FilePath, mode: cfg.FileMode}
		if p.mode == "" {
			p.mode = FileModeExists
		}
		if cfg.ContentPattern != "" {
			re, err := regexp.Compile(cfg.ContentPattern)
			if err != nil {
				return nil, fmt.Errorf("observer %s: contentPattern does not compile: %w", cfg.Name, err)
			}
			p.pattern = re
		}
		if p.mode == FileModeContent && p.pattern == nil {
			return nil, fmt.Errorf("observer %s: content mode requires contentPattern", cfg.Name)
		}
		return p, nil
	}
	return nil, fmt.Errorf("observer %s: unknown type %q", cfg.Name, cfg.Type)
}

// resolveConnection prefers a connection already resolved against the
// deployment's typed connection-string variables (Driver set), falling back
// to the configured resolver for symbolic references.
func resolveConnection(cfg Config, resolve ConnectionResolver) (string, string, error) {
	if cfg.Driver != "" {
		return cfg.Driver, cfg.Connection, nil
	}
	if resolve == nil {
		return "", "", fmt.Errorf("observer %s: no connection resolver configured", cfg.Name)
	}
	driver, dsn, err := resolve(cfg.Connection)
	if err != nil {
		return "", "", fmt.Errorf("observer %s: resolve connection %s: %w", cfg.Name, cfg.Connection, err)
	}
	return driver, dsn, nil
}

type sqlProber struct {
	driver string
	dsn    string
	query  string
	db     *sql.DB
}

func (p *sqlProber) Probe(ctx context.Context) (string, error) {
	if p.db == nil {
		db, err := sql.Open(p.driver, p.dsn)
		if err != nil {
			return "", fmt.Errorf("open %s connection: %w", p.driver, err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		p.db = db
	}
	var value sql.NullString
	err := p.db.QueryRowContext(ctx, p.query).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value.String), nil
}

func (p *sqlProber) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

type httpProber struct {
	client   *http.Client
	url      string
	method   string
	headers  map[string]string
	jsonPath string
}

func (p *httpProber) Probe(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, nil)
	if err != nil {
		return "", err
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, p.url)
	}
	if p.jsonPath != "" {
		result := gjson.GetBytes(body, p.jsonPath)
		if !result.Exists() {
			return "", fmt.Errorf("path %s not found in response from %s", p.jsonPath, p.url)
		}
		return result.String(), nil
	}
	return strings.TrimSpace(string(body)), nil
}

type fileProber struct {
	path    string
	mode    FileMode
	pattern *regexp.Regexp
}

func (p *fileProber) Probe(_ context.Context) (string, error) {
	if p.mode == FileModeExists {
		if _, err := os.Stat(p.path); err != nil {
			if os.IsNotExist(err) {
				return "0", nil
			}
			return "", err
		}
		return "1", nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	m := p.pattern.FindSubmatch(data)
	if m == nil {
		return "", nil
	}
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1])), nil
	}
	return strings.TrimSpace(string(m[0])), nil
}

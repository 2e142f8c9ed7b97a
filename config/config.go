// Package config loads the proxy configuration. Server settings live in
// an ini file; repository registrations may be seeded from a YAML file
// referenced by it.
package config

import (
	"io/ioutil"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/vaughan0/go-ini"

	"github.com/pushgate/pushgate/models"
)

// DefaultPaths are tried in order when no explicit config path is given.
var DefaultPaths = []string{"../config.ini", "/etc/pushgate/config.ini"}

const (
	defaultListen       = ":8000"
	defaultOrigin       = "https://github.com"
	defaultChainTimeout = 30 * time.Second
)

// Config is the parsed server configuration. It is built once at startup
// (or reload) and treated as read-only afterwards; reloads construct a
// fresh Config rather than mutating one in place.
type Config struct {
	// Listen is the address the proxy binds to.
	Listen string
	// ConnectionString selects the Postgres store; empty means the
	// in-memory store.
	ConnectionString string
	// RedisAddr enables lifecycle event notifications when set.
	RedisAddr string
	// DefaultOrigin receives requests matching no registered origin
	// prefix.
	DefaultOrigin string
	// ChainTimeout bounds one policy chain execution.
	ChainTimeout time.Duration
	// ReposFile optionally seeds repository registrations.
	ReposFile string
	// Origins maps additional upstream hosts to their base URLs, beyond
	// the hosts derived from registered repositories.
	Origins map[string]string

	// S3 settings for the blocked-push pack archive; archive is disabled
	// when Bucket is empty.
	S3Bucket string
	S3Prefix string

	// File exposes the raw ini file for components with their own keys
	// (crypto).
	File ini.File
}

// Load reads the first loadable ini file from paths and resolves every
// known key.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	var (
		file ini.File
		err  error
	)
	for _, path := range paths {
		file, err = ini.LoadFile(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "load config file")
	}
	return FromINI(file)
}

// FromINI resolves a Config from an already-parsed ini file.
func FromINI(file ini.File) (*Config, error) {
	cfg := &Config{
		Listen:        defaultListen,
		DefaultOrigin: defaultOrigin,
		ChainTimeout:  defaultChainTimeout,
		Origins:       make(map[string]string),
		File:          file,
	}
	if v, ok := file.Get("pushgate", "listen"); ok {
		cfg.Listen = v
	}
	if v, ok := file.Get("pushgate", "connection-string"); ok {
		cfg.ConnectionString = v
	}
	if v, ok := file.Get("pushgate", "redis"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := file.Get("pushgate", "default-origin"); ok {
		cfg.DefaultOrigin = v
	}
	if v, ok := file.Get("pushgate", "repos"); ok {
		cfg.ReposFile = v
	}
	if v, ok := file.Get("pushgate", "chain-timeout"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parse chain-timeout %q", v)
		}
		cfg.ChainTimeout = d
	}
	if v, ok := file.Get("objects", "s3-bucket"); ok {
		cfg.S3Bucket = v
	}
	if v, ok := file.Get("objects", "s3-prefix"); ok {
		cfg.S3Prefix = v
	}
	for host, upstream := range file.Section("pushgate::origins") {
		cfg.Origins[host] = upstream
	}
	return cfg, nil
}

type reposFile struct {
	Repositories []*models.Repo `yaml:"repositories"`
}

// LoadRepos parses the YAML repository seed file.
func LoadRepos(path string) ([]*models.Repo, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read repos file %s", path)
	}
	var parsed reposFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "parse repos file %s", path)
	}
	return parsed.Repositories, nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

const (
	dirName  = ".memproto"
	fileName = "config.json"
)

type Config struct {
	Version       int               `json:"version"`
	DefaultServer string            `json:"default_server"`
	Servers       map[string]Server `json:"servers"`
	Preferences   map[string]string `json:"preferences,omitempty"`
}

type Server struct {
	URL          string `json:"url"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ConnectedAt  string `json:"connected_at"`
}

// Path returns the nearest .memproto/config.json walking up from the working
// directory, falling back to the one under $HOME.
func Path() (string, error) {
	if wd, err := os.Getwd(); err == nil {
		if p, ok := findLocal(wd); ok {
			return p, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName, fileName), nil
}

func findLocal(dir string) (string, bool) {
	home, _ := os.UserHomeDir()
	for {
		if dir != home {
			candidate := filepath.Join(dir, dirName, fileName)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func defaults() *Config {
	return &Config{
		Version:       1,
		DefaultServer: "main",
		Servers:       map[string]Server{},
		Preferences: map[string]string{
			"default_format": "table",
		},
	}
}

func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(p)
}

// LoadFromPath reads the config at p. A missing file yields defaults. Comments and
// trailing commas are accepted.
func LoadFromPath(p string) (*Config, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	var c Config
	if err := json.Unmarshal(jsonc.ToJSON(b), &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.Servers == nil {
		c.Servers = map[string]Server{}
	}
	if c.DefaultServer == "" {
		c.DefaultServer = "main"
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return &c, nil
}

func Save(c *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return SaveToPath(c, p)
}

// SaveToPath writes c with owner-only permissions since it carries tokens.
func SaveToPath(c *Config, p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, append(b, '\n'), 0o600)
}

func (c *Config) SetDefault(url, email, accessToken, refreshToken string) {
	if c.Servers == nil {
		c.Servers = map[string]Server{}
	}
	c.Servers["main"] = Server{
		URL:          url,
		Email:        email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ConnectedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	c.DefaultServer = "main"
}

// UpdateTokens replaces the default server's token pair.
func (c *Config) UpdateTokens(accessToken, refreshToken string) bool {
	s, ok := c.Servers[c.DefaultServer]
	if !ok {
		return false
	}
	s.AccessToken = accessToken
	s.RefreshToken = refreshToken
	c.Servers[c.DefaultServer] = s
	return true
}

// SaveTokens writes a refreshed token pair for the server at url to the file at p.
// The file is reloaded first so environment overlays are never persisted, and
// nothing is written unless the saved default server is url. It reports whether
// the pair was saved.
func SaveTokens(p, url, accessToken, refreshToken string) (bool, error) {
	c, err := LoadFromPath(p)
	if err != nil {
		return false, err
	}
	s, ok := c.Default()
	if !ok || s.URL != url {
		return false, nil
	}
	c.UpdateTokens(accessToken, refreshToken)
	if err := SaveToPath(c, p); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Config) ClearDefault() {
	delete(c.Servers, c.DefaultServer)
}

func (c *Config) Default() (Server, bool) {
	s, ok := c.Servers[c.DefaultServer]
	return s, ok
}

// ApplyEnv overlays MEMPROTO_URL, MEMPROTO_ACCESS_TOKEN and MEMPROTO_REFRESH_TOKEN
// onto the default server. It is not persisted.
func (c *Config) ApplyEnv() {
	url := strings.TrimSpace(os.Getenv("MEMPROTO_URL"))
	access := strings.TrimSpace(os.Getenv("MEMPROTO_ACCESS_TOKEN"))
	refresh := strings.TrimSpace(os.Getenv("MEMPROTO_REFRESH_TOKEN"))
	if url == "" && access == "" && refresh == "" {
		return
	}
	if c.Servers == nil {
		c.Servers = map[string]Server{}
	}
	s := c.Servers[c.DefaultServer]
	if url != "" && url != s.URL {
		s = Server{URL: url}
	}
	if access != "" {
		s.AccessToken = access
	}
	if refresh != "" {
		s.RefreshToken = refresh
	}
	c.Servers[c.DefaultServer] = s
}

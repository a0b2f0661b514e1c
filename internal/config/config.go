package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Certification is one configured credential track.
type Certification struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Modules []string `yaml:"modules"`
}

type Config struct {
	HTTPAddr string
	LogLevel string

	DBDriver string
	DBDSN    string

	BlobBasePath string

	// Exam window in days, counted from the candidate's first module unlock.
	WindowDays int

	// ModuleFile points at a YAML file with window_days and certifications.
	// CERT_MODULE_ORDERS ("cert=a,b,c;other=x,y") is merged on top of it.
	ModuleFile     string
	Certifications []Certification

	RenderURL     string
	RenderTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// LockTTL is raised to cover the renderer's worst case; zero derives it.
	LockTTL time.Duration

	// HS256 secret shared with the identity provider that issues bearer tokens.
	IdentitySecret string
	CORSOrigins    []string
	// AllowClaimRole trusts the token's role for subjects missing from the directory.
	AllowClaimRole bool

	// Cron spec for the periodic certificate rebuild; empty disables it.
	RebuildSchedule string
}

func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		DBDriver:        envOr("DB_DRIVER", "sqlite"),
		DBDSN:           envOr("DB_DSN", ""),
		BlobBasePath:    envOr("BLOB_BASE_PATH", "./data"),
		WindowDays:      envInt("EXAM_WINDOW_DAYS", 0),
		ModuleFile:      envOr("CERT_MODULE_FILE", ""),
		RenderURL:       envOr("RENDER_URL", "http://localhost:8090/render"),
		RenderTimeout:   envDuration("RENDER_TIMEOUT", 20*time.Second),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		LockTTL:         envDuration("CERT_LOCK_TTL", 0),
		IdentitySecret:  envOr("IDENTITY_HMAC_SECRET", "dev-identity-secret"),
		CORSOrigins:     csvOr("CORS_ORIGINS", "http://localhost:3000"),
		RebuildSchedule: os.Getenv("CERT_REBUILD_SCHEDULE"),
		AllowClaimRole:  envBool("AUTH_ALLOW_CLAIM_ROLE", false),
	}

	if cfg.ModuleFile != "" {
		f, err := LoadModuleFile(cfg.ModuleFile)
		if err != nil {
			return Config{}, err
		}
		if cfg.WindowDays == 0 {
			cfg.WindowDays = f.WindowDays
		}
		cfg.Certifications = f.Certifications
	}
	if inline := os.Getenv("CERT_MODULE_ORDERS"); inline != "" {
		certs, err := ParseModuleOrders(inline)
		if err != nil {
			return Config{}, err
		}
		cfg.Certifications = mergeCertifications(cfg.Certifications, certs)
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 3
	}
	return cfg, nil
}

// ModuleFile is the on-disk shape of CERT_MODULE_FILE.
type ModuleFile struct {
	WindowDays     int             `yaml:"window_days"`
	Certifications []Certification `yaml:"certifications"`
}

func LoadModuleFile(path string) (ModuleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ModuleFile{}, fmt.Errorf("config: read module file: %w", err)
	}
	return ParseModuleFile(raw)
}

func ParseModuleFile(raw []byte) (ModuleFile, error) {
	var f ModuleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return ModuleFile{}, fmt.Errorf("config: parse module file: %w", err)
	}
	seen := map[string]bool{}
	for i, c := range f.Certifications {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return ModuleFile{}, fmt.Errorf("config: certification #%d has no id", i+1)
		}
		if seen[c.ID] {
			return ModuleFile{}, fmt.Errorf("config: certification %q declared twice", c.ID)
		}
		seen[c.ID] = true
		mods, err := cleanModules(c.ID, c.Modules)
		if err != nil {
			return ModuleFile{}, err
		}
		c.Modules = mods
		f.Certifications[i] = c
	}
	return f, nil
}

// ParseModuleOrders parses "cert=a,b,c;other=x,y".
func ParseModuleOrders(s string) ([]Certification, error) {
	var out []Certification
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, mods, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("config: bad module order %q", part)
		}
		id = strings.TrimSpace(id)
		cleaned, err := cleanModules(id, strings.Split(mods, ","))
		if err != nil {
			return nil, err
		}
		out = append(out, Certification{ID: id, Modules: cleaned})
	}
	return out, nil
}

// Orders flattens the configured certifications into certType -> modules.
func (c Config) Orders() map[string][]string {
	out := make(map[string][]string, len(c.Certifications))
	for _, cert := range c.Certifications {
		out[cert.ID] = append([]string(nil), cert.Modules...)
	}
	return out
}

// Titles maps certType to its display title, falling back to the id.
func (c Config) Titles() map[string]string {
	out := make(map[string]string, len(c.Certifications))
	for _, cert := range c.Certifications {
		t := cert.Title
		if t == "" {
			t = cert.ID
		}
		out[cert.ID] = t
	}
	return out
}

func cleanModules(certID string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if seen[m] {
			return nil, fmt.Errorf("config: module %q repeated in %q", m, certID)
		}
		seen[m] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: certification %q has no modules", certID)
	}
	return out, nil
}

// mergeCertifications replaces base entries by id and appends new ones.
func mergeCertifications(base, over []Certification) []Certification {
	idx := make(map[string]int, len(base))
	out := append([]Certification(nil), base...)
	for i, c := range out {
		idx[c.ID] = i
	}
	for _, c := range over {
		if i, ok := idx[c.ID]; ok {
			c.Title = out[i].Title
			out[i] = c
			continue
		}
		idx[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

func envDuration(k string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/robfig/cron/v3"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// NOTE: Config is a value type. Load either returns a fully parsed and
// validated file or DefaultConfig() as a whole; fields of a broken file are
// never mixed into the defaults.

const (
	AlignLeft  = "left"
	AlignRight = "right"
)

// CalendarConfig describes a single ICS calendar the overlay can follow.
type CalendarConfig struct {
	// ID is referenced by calendar_id and used in logs.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`

	// Username/Password are sent as HTTP basic credentials for private feeds,
	// unless use_public_calendars_only is set.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Private reports whether the calendar carries credentials.
func (c CalendarConfig) Private() bool {
	return c.Username != "" || c.Password != ""
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
// Password may be plain text or a bcrypt hash ("$2a$...").
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RGBA is a color as written in the config file: 0-255 channels and a 0-1 alpha.
type RGBA struct {
	R int     `yaml:"r" json:"r"`
	G int     `yaml:"g" json:"g"`
	B int     `yaml:"b" json:"b"`
	A float64 `yaml:"a" json:"a"`
}

// Color converts the config representation into a non-premultiplied color.
func (c RGBA) Color() color.NRGBA {
	return color.NRGBA{
		R: clampByte(c.R),
		G: clampByte(c.G),
		B: clampByte(c.B),
		A: clampByte(int(c.A*255 + 0.5)),
	}
}

func (c RGBA) valid() bool {
	in := func(v int) bool { return v >= 0 && v <= 255 }
	return in(c.R) && in(c.G) && in(c.B) && c.A >= 0 && c.A <= 1
}

func clampByte(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

// Duration is a time.Duration written as "10m", "15s" in both YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for display. Empty means the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// refetching the calendar in the background.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds how far ahead recurring events are expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// MaxResults caps how many upcoming events a refill keeps.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// IgnoredTitles are exact event titles never shown on the overlay.
	IgnoredTitles []string `yaml:"ignored_titles" json:"ignored_titles"`

	// CalendarID selects one entry of Calendars (or is an ICS URL itself).
	CalendarID string           `yaml:"calendar_id" json:"calendar_id"`
	Calendars  []CalendarConfig `yaml:"calendars" json:"calendars"`

	// UsePublicCalendarsOnly suppresses calendar credentials.
	UsePublicCalendarsOnly bool `yaml:"use_public_calendars_only" json:"use_public_calendars_only"`

	FontColor       RGBA   `yaml:"font_color" json:"font_color"`
	BackgroundColor RGBA   `yaml:"background_color" json:"background_color"`
	Alignment       string `yaml:"alignment" json:"alignment"`
	FontSize        int    `yaml:"font_size" json:"font_size"`
	// FontName is a path to a TTF/OTF file. Empty uses the built-in bitmap face.
	FontName string `yaml:"font_name" json:"font_name"`

	XOffsetRatio float64 `yaml:"x_offset_ratio" json:"x_offset_ratio"`
	XOffsetPx    float64 `yaml:"x_offset_px" json:"x_offset_px"`
	YOffsetRatio float64 `yaml:"y_offset_ratio" json:"y_offset_ratio"`
	YOffsetPx    float64 `yaml:"y_offset_px" json:"y_offset_px"`

	// TimeFormat is a Go time layout. Empty uses the locale's short time.
	TimeFormat      string `yaml:"time_format" json:"time_format"`
	Locale          string `yaml:"locale" json:"locale"`
	HappeningPrefix string `yaml:"happening_prefix" json:"happening_prefix"`
	Separator       string `yaml:"separator" json:"separator"`

	// RetryDelay is how long the "retrying" placeholder stays up after an
	// empty refill.
	RetryDelay Duration `yaml:"retry_delay" json:"retry_delay"`
	// FailureRetry is the same for a failed refill, unless FreezeOnFailure.
	FailureRetry    Duration `yaml:"failure_retry" json:"failure_retry"`
	FetchTimeout    Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	FreezeOnFailure bool     `yaml:"freeze_on_failure" json:"freeze_on_failure"`

	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns the documented defaults: the public PSO2 urgent
// quest calendar, a right-aligned clock at 90% of the screen width.
func DefaultConfig() Config {
	return Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "",
		RefreshCron:   "*/15 * * * *",
		HorizonDays:   7,
		MaxResults:    10,
		IgnoredTitles: []string{"PSO2 Day", "+200% RDR Bonus (UQ Only)", "END: Scheduled Maintenance"},
		CalendarID:    "pso2-uq",
		Calendars: []CalendarConfig{
			{
				ID:   "pso2-uq",
				Name: "PSO2 Urgent Quests",
				URL:  "https://calendar.google.com/calendar/ical/nujrnhog654g3v0m0ljmjbp790%40group.calendar.google.com/public/basic.ics",
			},
		},
		UsePublicCalendarsOnly: true,
		FontColor:              RGBA{R: 100, G: 150, B: 255, A: 1},
		BackgroundColor:        RGBA{R: 0, G: 0, B: 0, A: 0.3},
		Alignment:              AlignRight,
		FontSize:               14,
		FontName:               "",
		XOffsetRatio:           0.9,
		XOffsetPx:              0,
		YOffsetRatio:           0,
		YOffsetPx:              50,
		TimeFormat:             "",
		Locale:                 "de-DE",
		HappeningPrefix:        " happening at ",
		Separator:              " ",
		RetryDelay:             Duration(10 * time.Minute),
		FailureRetry:           Duration(5 * time.Minute),
		FetchTimeout:           Duration(15 * time.Second),
		FreezeOnFailure:        false,
		CacheDir:               defaultCacheDir(),
		LogLevel:               "info",
		BasicAuth:              nil,
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return "./cache/ics-cache"
	}
	return filepath.Join(dir, "uqclock", "ics-cache")
}

// Validate reports every problem found, joined. It never modifies c.
func (c Config) Validate() error {
	var errs []error

	if c.CalendarID == "" {
		errs = append(errs, errors.New("calendar_id is empty"))
	} else if _, ok := c.Calendar(c.CalendarID); !ok {
		errs = append(errs, fmt.Errorf("calendar_id %q: no such calendar", c.CalendarID))
	}
	for i, cal := range c.Calendars {
		if cal.ID == "" || cal.URL == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: id and url are required", i))
		}
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
		}
	}
	if c.HorizonDays <= 0 {
		errs = append(errs, errors.New("horizon_days must be positive"))
	}
	if c.MaxResults <= 0 {
		errs = append(errs, errors.New("max_results must be positive"))
	}
	if c.Alignment != AlignLeft && c.Alignment != AlignRight {
		errs = append(errs, fmt.Errorf("alignment %q: want left or right", c.Alignment))
	}
	if c.FontSize <= 0 {
		errs = append(errs, errors.New("font_size must be positive"))
	}
	if !c.FontColor.valid() {
		errs = append(errs, errors.New("font_color out of range"))
	}
	if !c.BackgroundColor.valid() {
		errs = append(errs, errors.New("background_color out of range"))
	}
	if c.RetryDelay <= 0 || c.FailureRetry <= 0 || c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("retry_delay, failure_retry and fetch_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// Calendar looks up a configured calendar. An ID that is not configured but
// looks like a URL is treated as an ad-hoc public calendar.
func (c Config) Calendar(id string) (CalendarConfig, bool) {
	for _, cal := range c.Calendars {
		if cal.ID == id {
			return cal, true
		}
	}
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") || strings.HasPrefix(id, "webcal://") {
		return CalendarConfig{ID: id, URL: id}, true
	}
	return CalendarConfig{}, false
}

// Location resolves Timezone, falling back to the host zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ConfigError reports a config file that could not be used. The Config
// returned alongside it is always DefaultConfig().
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return "config " + e.Path + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load loads configuration from path.
//
// Behavior:
//   - If the file does not exist, write the defaults there (0600) and
//     return them.
//   - If the file exists, decode it over DefaultConfig() so omitted keys keep
//     their defaults, then validate.
//   - On a read, decode or validation failure return DefaultConfig() with a
//     *ConfigError. The caller logs it and keeps running.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), &ConfigError{Path: path, Err: errors.New("config path is empty")}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, the defaults are still usable.
				return cfg, err
			}
			return cfg, nil
		}
		return DefaultConfig(), &ConfigError{Path: path, Err: err}
	}

	cfg, err := Parse(data, isJSON(path))
	if err != nil {
		return DefaultConfig(), &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse decodes YAML (or JSON with comments when jsonc is set) over the
// defaults and validates the result.
func Parse(data []byte, jsonc bool) (Config, error) {
	cfg := DefaultConfig()

	if jsonc {
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return Config{}, fmt.Errorf("invalid JSONC: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(standardized))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("invalid YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions, creating the
// parent directory (0700) when needed. The encoding follows the extension.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

func isJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return true
	default:
		return false
	}
}

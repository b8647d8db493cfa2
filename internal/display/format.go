package display

import (
	"strings"
	"time"

	"golang.org/x/text/language"

	"uqclock/internal/config"
	"uqclock/internal/model"
)

// DefaultLocale is used when the configured locale is empty or unsupported.
const DefaultLocale = "de-DE"

// Options are the pure formatting parameters of the overlay line.
type Options struct {
	// TimeFormat is a Go layout; empty or verb-less layouts use the locale's short time.
	TimeFormat      string
	Locale          string
	HappeningPrefix string
	Separator       string
	Alignment       Alignment
	// Location is the display timezone; nil means time.Local.
	Location *time.Location
	Offsets  Offsets
}

// OptionsFromConfig extracts the display options of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TimeFormat:      cfg.TimeFormat,
		Locale:          cfg.Locale,
		HappeningPrefix: cfg.HappeningPrefix,
		Separator:       cfg.Separator,
		Alignment:       ParseAlignment(cfg.Alignment),
		Location:        cfg.Location(),
		Offsets: Offsets{
			XRatio: cfg.XOffsetRatio,
			XPx:    cfg.XOffsetPx,
			YRatio: cfg.YOffsetRatio,
			YPx:    cfg.YOffsetPx,
		},
	}
}

// Short time layouts per locale. Index-aligned with supportedTags.
var (
	supportedTags = []language.Tag{
		language.MustParse("de-DE"), // first entry is the matcher fallback
		language.MustParse("en-US"),
		language.MustParse("en-GB"),
		language.MustParse("en-AU"),
		language.MustParse("fr-FR"),
		language.MustParse("es-ES"),
		language.MustParse("pt-BR"),
		language.MustParse("ru-RU"),
		language.MustParse("ja-JP"),
		language.MustParse("zh-CN"),
	}
	shortTimeLayouts = []string{
		"15:04",
		"3:04 PM",
		"15:04",
		"3:04 pm",
		"15:04",
		"15:04",
		"15:04",
		"15:04",
		"15:04",
		"15:04",
	}
	matcher = language.NewMatcher(supportedTags)
)

// ShortTimeLayout returns the short time pattern for locale, falling back to
// DefaultLocale when the tag does not parse or nothing matches.
func ShortTimeLayout(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return shortTimeLayouts[0]
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return shortTimeLayouts[0]
	}
	return shortTimeLayouts[idx]
}

// Layout resolves the time layout for opts.
func (o Options) Layout() string {
	if o.TimeFormat != "" && validLayout(o.TimeFormat) {
		return o.TimeFormat
	}
	return ShortTimeLayout(o.Locale)
}

// validLayout rejects layouts without any Go reference-time element, which
// would print the layout text verbatim (e.g. "HH:mm").
func validLayout(layout string) bool {
	ref := time.Date(2006, time.January, 2, 15, 4, 5, 0, time.UTC)
	return ref.Format(layout) != layout
}

// Format renders "<title><prefix><start><separator><now>". It never fails.
func Format(ev model.Event, now time.Time, opts Options) string {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	layout := opts.Layout()

	var b strings.Builder
	b.WriteString(ev.Title)
	b.WriteString(opts.HappeningPrefix)
	b.WriteString(ev.Start.In(loc).Format(layout))
	b.WriteString(opts.Separator)
	b.WriteString(now.In(loc).Format(layout))
	return b.String()
}

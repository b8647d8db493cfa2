package config_test

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uqclock/internal/config"
)

func Test_Load_Writes_Defaults_When_File_Missing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(config.DefaultConfig(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, reloaded); diff != "" {
		t.Fatalf("saved config did not round trip (-want +got):\n%s", diff)
	}
}

func Test_Load_Returns_Defaults_When_File_Is_Broken(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "UnparsableYAML",
			file:    "config.yaml",
			content: "separator: [unterminated\n",
		},
		{
			name:    "UnknownKey",
			file:    "config.yaml",
			content: "separator: \" | \"\nfont_colour: red\n",
		},
		{
			name:    "InvalidAlignment",
			file:    "config.yaml",
			content: "separator: \" | \"\nalignment: center\n",
		},
		{
			name:    "InvalidCron",
			file:    "config.yaml",
			content: "refresh: every now and then\n",
		},
		{
			name:    "AlphaOutOfRange",
			file:    "config.jsonc",
			content: `{"background_color": {"r": 0, "g": 0, "b": 0, "a": 30}}`,
		},
		{
			name:    "UnknownCalendar",
			file:    "config.yaml",
			content: "calendar_id: nope\n",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), testCase.file)
			require.NoError(t, os.WriteFile(path, []byte(testCase.content), 0o600))

			cfg, err := config.Load(path)
			require.Error(t, err)

			var cfgErr *config.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, path, cfgErr.Path)

			// Nothing from the broken file leaks into the defaults.
			if diff := cmp.Diff(config.DefaultConfig(), cfg); diff != "" {
				t.Fatalf("expected pure defaults (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_Parse_Keeps_Defaults_For_Omitted_Keys(t *testing.T) {
	t.Parallel()

	data := []byte(`
separator: " | "
happening_prefix: " at "
ignored_titles: ["Casino Rush"]
retry_delay: 7m
alignment: left
`)

	cfg, err := config.Parse(data, false)
	require.NoError(t, err)

	assert.Equal(t, " | ", cfg.Separator)
	assert.Equal(t, " at ", cfg.HappeningPrefix)
	assert.Equal(t, []string{"Casino Rush"}, cfg.IgnoredTitles)
	assert.Equal(t, 7*time.Minute, cfg.RetryDelay.Std())
	assert.Equal(t, config.AlignLeft, cfg.Alignment)
	assert.Equal(t, config.DefaultConfig().Locale, cfg.Locale)
	assert.Equal(t, config.DefaultConfig().CalendarID, cfg.CalendarID)
}

func Test_Parse_Accepts_JSON_With_Comments(t *testing.T) {
	t.Parallel()

	data := []byte(`{
	// same shape as the old config.json
	"calendar_id": "https://example.com/uq.ics",
	"font_color": {"r": 255, "g": 255, "b": 255, "a": 0.5,},
	"fetch_timeout": "5s",
}`)

	cfg, err := config.Parse(data, true)
	require.NoError(t, err)

	cal, ok := cfg.Calendar(cfg.CalendarID)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/uq.ics", cal.URL)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout.Std())
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 128}, cfg.FontColor.Color())
}

func Test_Save_Writes_JSON_When_Extension_Is_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	want := config.DefaultConfig()
	want.Separator = " | "

	require.NoError(t, config.Save(path, want))

	got, err := config.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_RGBA_Color_Converts_Alpha_To_Byte(t *testing.T) {
	t.Parallel()

	assert.Equal(t, color.NRGBA{R: 100, G: 150, B: 255, A: 255}, config.RGBA{R: 100, G: 150, B: 255, A: 1}.Color())
	assert.Equal(t, color.NRGBA{A: 77}, config.RGBA{A: 0.3}.Color())
	assert.Equal(t, color.NRGBA{R: 255}, config.RGBA{R: 300, A: -1}.Color())
}

func Test_Location_Falls_Back_To_Local_When_Timezone_Empty(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	assert.Equal(t, time.Local, cfg.Location())

	cfg.Timezone = "Asia/Tokyo"
	assert.Equal(t, "Asia/Tokyo", cfg.Location().String())
}

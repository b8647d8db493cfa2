package display_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"uqclock/internal/config"
	"uqclock/internal/display"
	"uqclock/internal/model"
)

func uq1() model.Event {
	return model.Event{Title: "UQ1", Start: time.Date(2026, time.October, 17, 14, 0, 0, 0, time.UTC)}
}

var fiveToTwo = time.Date(2026, time.October, 17, 13, 55, 0, 0, time.UTC)

func Test_Format_Renders_Title_Prefix_Start_Separator_Now(t *testing.T) {
	t.Parallel()

	got := display.Format(uq1(), fiveToTwo, display.Options{
		HappeningPrefix: " at ",
		Separator:       " | ",
		Location:        time.UTC,
	})

	assert.Equal(t, "UQ1 at 14:00 | 13:55", got)
}

func Test_Format_Uses_Configured_Layout_And_Location(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)

	got := display.Format(uq1(), fiveToTwo, display.Options{
		TimeFormat:      "15:04:05",
		HappeningPrefix: " @ ",
		Separator:       " / ",
		Location:        tokyo,
	})

	assert.Equal(t, "UQ1 @ 23:00:00 / 22:55:00", got)
}

func Test_Format_Falls_Back_When_Parameters_Invalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		opts display.Options
		want string
	}{
		{
			name: "VerblessLayout",
			opts: display.Options{TimeFormat: "HH:mm", Separator: " ", Location: time.UTC},
			want: "UQ1 14:00 13:55",
		},
		{
			name: "UnparsableLocale",
			opts: display.Options{Locale: "not a locale!!", Separator: " ", Location: time.UTC},
			want: "UQ1 14:00 13:55",
		},
		{
			name: "NilLocation",
			opts: display.Options{Separator: " "},
			want: "UQ1" + uq1().Start.In(time.Local).Format("15:04") + " " + fiveToTwo.In(time.Local).Format("15:04"),
		},
		{
			name: "LocaleTwelveHour",
			opts: display.Options{Locale: "en-US", Separator: " ", Location: time.UTC},
			want: "UQ12:00 PM 1:55 PM",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, display.Format(uq1(), fiveToTwo, testCase.opts))
		})
	}
}

func Test_ShortTimeLayout_Matches_Supported_Locales(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "15:04", display.ShortTimeLayout("de-DE"))
	assert.Equal(t, "15:04", display.ShortTimeLayout("de"))
	assert.Equal(t, "3:04 PM", display.ShortTimeLayout("en-US"))
	assert.Equal(t, "15:04", display.ShortTimeLayout(""))
}

type fixedWidth float64

func (w fixedWidth) MeasureText(string) float64 { return float64(w) }

func Test_DrawX_Subtracts_Width_Only_When_Right_Aligned(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 800, display.DrawX(1000, 200, display.AlignRight), 1e-9)
	assert.InDelta(t, 50, display.DrawX(50, 200, display.AlignLeft), 1e-9)

	assert.InDelta(t, 800, display.Place("UQ1", fixedWidth(200), 1000, display.AlignRight), 1e-9)
	assert.InDelta(t, 50, display.Place("UQ1", fixedWidth(200), 50, display.AlignLeft), 1e-9)
}

func Test_Anchor_Combines_Ratio_And_Pixels(t *testing.T) {
	t.Parallel()

	x, y := display.Anchor(1920, 1080, display.Offsets{XRatio: 0.9, XPx: -10, YRatio: 0.5, YPx: 4})

	assert.InDelta(t, 1718, x, 1e-9)
	assert.InDelta(t, 544, y, 1e-9)
}

func Test_OptionsFromConfig_Uses_Defaults(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"

	opts := display.OptionsFromConfig(cfg)

	assert.Equal(t, display.AlignRight, opts.Alignment)
	assert.Equal(t, "15:04", opts.Layout())
	assert.Equal(t, "UQ1 happening at 14:00 13:55", display.Format(uq1(), fiveToTwo, opts))
	assert.Equal(t, display.AlignLeft, display.ParseAlignment("Left"))
	assert.Equal(t, display.AlignRight, display.ParseAlignment("center"))
}

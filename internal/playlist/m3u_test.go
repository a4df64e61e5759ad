package playlist

import (
	"bytes"
	"testing"
)

func TestRender(t *testing.T) {
	items := []Item{
		{
			TvgID:   "1",
			TvgChNo: 1,
			Name:    "NPO1",
			Logo:    "http://x/logo.png",
			Path:    "plugin://plugin.video.canaldigitaal/?_=play_video&channel=1&id=1&type=channel&_l=.pvr",
		},
		{
			TvgID:   "2",
			TvgChNo: 2,
			Name:    "NPO2",
			Logo:    "http://x/logo2.png",
			Path:    "plugin://plugin.video.canaldigitaal/?_=play_video&channel=2&id=2&type=channel&_l=.pvr",
		},
	}
	want := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"1\" tvg-chno=\"1\" tvg-name=\"NPO1\" tvg-logo=\"http://x/logo.png\" group-title=\"TV\" radio=\"false\",NPO1\n" +
		"plugin://plugin.video.canaldigitaal/?_=play_video&channel=1&id=1&type=channel&_l=.pvr\n" +
		"#EXTINF:-1 tvg-id=\"2\" tvg-chno=\"2\" tvg-name=\"NPO2\" tvg-logo=\"http://x/logo2.png\" group-title=\"TV\" radio=\"false\",NPO2\n" +
		"plugin://plugin.video.canaldigitaal/?_=play_video&channel=2&id=2&type=channel&_l=.pvr\n"

	got := Render(items)
	if !bytes.Equal(got, []byte(want)) {
		t.Fatalf("Render mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := string(Render(nil)); got != "#EXTM3U\n" {
		t.Fatalf("empty playlist = %q", got)
	}
}

func TestRenderKeepsNamesVerbatim(t *testing.T) {
	items := []Item{{TvgID: "x", TvgChNo: 3, Name: `Één "Extra"`, Logo: "http://x/e.png", Path: "plugin://p/?id=x"}}
	want := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"x\" tvg-chno=\"3\" tvg-name=\"Één \"Extra\"\" tvg-logo=\"http://x/e.png\" group-title=\"TV\" radio=\"false\",Één \"Extra\"\n" +
		"plugin://p/?id=x\n"
	if got := string(Render(items)); got != want {
		t.Fatalf("Render mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderDeterministic(t *testing.T) {
	items := []Item{{TvgID: "9", TvgChNo: 9, Name: "RTL 4", Logo: "http://x/9.png", Path: "plugin://p/?id=9"}}
	if !bytes.Equal(Render(items), Render(items)) {
		t.Fatal("identical input produced different output")
	}
}

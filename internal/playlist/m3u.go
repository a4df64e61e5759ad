// Package playlist writes the extended-M3U documents PVR clients consume.
// The entry format is byte-for-byte fixed; existing clients parse it with
// regexes, so nothing here may reorder or reformat attributes.
package playlist

import (
	"bytes"
	"fmt"
	"io"
)

// Item is one playlist entry.
type Item struct {
	TvgID   string
	TvgChNo int
	Name    string
	Logo    string
	// Path is the plugin:// address that plays the channel.
	Path string
}

// WriteM3U writes the document: one header directive plus path per item,
// newline terminated. group-title and radio are constant for TV channels.
func WriteM3U(w io.Writer, items []Item) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	for _, it := range items {
		fmt.Fprintf(buf,
			"#EXTINF:-1 tvg-id=\"%s\" tvg-chno=\"%d\" tvg-name=\"%s\" tvg-logo=\"%s\" group-title=\"TV\" radio=\"false\",%s\n%s\n",
			it.TvgID, it.TvgChNo, it.Name, it.Logo, it.Name, it.Path,
		)
	}
	_, err := io.Copy(w, buf)
	return err
}

// Render returns the document as bytes.
func Render(items []Item) []byte {
	var buf bytes.Buffer
	_ = WriteM3U(&buf, items)
	return buf.Bytes()
}

package stream

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
)

type mpdManifest struct {
	Periods []struct {
		Sets []struct {
			Representations []struct {
				Bandwidth int `xml:"bandwidth,attr"`
			} `xml:"Representation"`
		} `xml:"AdaptationSet"`
	} `xml:"Period"`
}

// HighestBandwidth returns the largest advertised bandwidth in a DASH MPD or
// HLS master manifest, in bits per second. Zero means none was found.
func HighestBandwidth(body []byte) int {
	if bytes.Contains(body, []byte("<MPD")) {
		return mpdBandwidth(body)
	}
	return hlsBandwidth(body)
}

func mpdBandwidth(body []byte) int {
	var mpd mpdManifest
	if err := xml.Unmarshal(body, &mpd); err != nil {
		return 0
	}
	best := 0
	for _, p := range mpd.Periods {
		for _, s := range p.Sets {
			for _, rep := range s.Representations {
				if rep.Bandwidth > best {
					best = rep.Bandwidth
				}
			}
		}
	}
	return best
}

func hlsBandwidth(body []byte) int {
	best := 0
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		for _, attr := range strings.Split(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"), ",") {
			k, v, ok := strings.Cut(attr, "=")
			if !ok || strings.TrimSpace(k) != "BANDWIDTH" {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > best {
				best = n
			}
		}
	}
	return best
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/httpx"
)

// Canal Digitaal production endpoints.
const (
	cdBaseURL  = "https://livetv.canaldigitaal.nl"
	cdLoginURL = "https://login.canaldigitaal.nl"
	cdAPIURL   = "https://tvapi.solocoo.tv/v1"
)

// CanalDigitaal logs in through a six-step redirect handshake (OAuth code,
// device challenge, sso token) and talks to the Solocoo TV API with the
// resulting bearer token.
type CanalDigitaal struct {
	BaseURL  string
	LoginURL string
	APIURL   string
	Device   Device
	Log      zerolog.Logger

	now func() time.Time
}

func NewCanalDigitaal(dev Device, log zerolog.Logger) *CanalDigitaal {
	return &CanalDigitaal{
		BaseURL:  cdBaseURL,
		LoginURL: cdLoginURL,
		APIURL:   cdAPIURL,
		Device:   dev,
		Log:      log.With().Str("provider", "canaldigitaal").Logger(),
		now:      time.Now,
	}
}

func (p *CanalDigitaal) Name() string     { return "canaldigitaal" }
func (p *CanalDigitaal) PluginID() string { return "plugin.video.canaldigitaal" }

func (p *CanalDigitaal) BaseHeaders() map[string]string {
	return map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Pragma":          "no-cache",
		"Cache-Control":   "no-cache",
		"DNT":             "1",
		"Origin":          p.BaseURL,
		"Sec-Fetch-Site":  "same-origin",
		"Sec-Fetch-Mode":  "cors",
		"Sec-Fetch-Dest":  "empty",
		"Referer":         p.BaseURL + "/",
		"Accept-Language": "en-US,en;q=0.9,nl;q=0.8",
	}
}

func (p *CanalDigitaal) loginHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Upgrade-Insecure-Requests": "1",
		"Pragma":                    "no-cache",
		"Cache-Control":             "no-cache",
		"DNT":                       "1",
		"Origin":                    p.LoginURL,
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-User":            "?1",
		"Sec-Fetch-Dest":            "document",
		"Accept-Encoding":           "deflate, br",
		"Accept-Language":           "en-US,en;q=0.9,nl;q=0.8",
	}
}

func (p *CanalDigitaal) AskPassword(g gui.Prompter) string {
	return strings.TrimSpace(g.Input("Canal Digitaal password", true))
}

// CheckShape: the Solocoo API has no envelope to validate; per-call field
// checks carry the validation instead.
func (p *CanalDigitaal) CheckShape(body []byte) bool { return true }

// Login walks the redirect handshake. Any missing field at any step aborts
// the whole chain; no partial state survives (the manager wipes cookies and
// token on error).
func (p *CanalDigitaal) Login(ctx context.Context, d Doer, creds Credentials) (string, error) {
	d.SetHeaders(p.BaseHeaders())

	authURL := fmt.Sprintf(
		"%s/authenticate?redirect_uri=%s&state=%d&response_type=code&scope=TVE&client_id=StreamGroup",
		p.LoginURL, url.QueryEscape(p.BaseURL+"/auth.aspx"), p.now().Unix(),
	)
	if _, err := d.Download(ctx, httpx.Request{URL: authURL, NoRedirect: true},
		DownloadOpts{ExpectCode: []int{http.StatusOK}}); err != nil {
		return "", &AuthError{Message: "login failed", Err: err}
	}

	// Step 2: credentials POST, expect a 302 whose Location carries the
	// OAuth code.
	hdrs := p.loginHeaders()
	hdrs["Referer"] = authURL
	d.SetHeaders(hdrs)
	resp, err := d.Download(ctx, httpx.Request{
		Method:     http.MethodPost,
		URL:        p.LoginURL,
		Form:       url.Values{"Username": {creds.Username}, "Password": {creds.Password}},
		NoRedirect: true,
	}, DownloadOpts{})
	if err != nil {
		return "", &AuthError{Message: "login failed", Err: err}
	}
	if resp.StatusCode != http.StatusFound {
		return "", &AuthError{Message: "login failed", Err: &ShapeError{URL: p.LoginURL, Status: resp.StatusCode}}
	}
	oauth := locationQueryParam(resp.Location(), "code")
	if oauth == "" {
		return "", &AuthError{Message: "login failed", Err: &ShapeError{URL: p.LoginURL, Status: resp.StatusCode, Missing: "code"}}
	}

	// Step 3: device challenge.
	d.SetHeaders(p.BaseHeaders())
	resp, err = d.Download(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    p.BaseURL + "/m7be2iphone/challenge.aspx",
		JSON: map[string]string{
			"autotype":   "nl",
			"app":        "cds",
			"prettyname": p.Device.BrowserName,
			"model":      "web",
			"serial":     p.Device.Key,
			"oauthcode":  oauth,
		},
		NoRedirect: true,
	}, DownloadOpts{ExpectCode: []int{http.StatusOK}})
	if err != nil {
		return "", &AuthError{Message: "login failed", Err: err}
	}
	var challenge struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
		Error  string `json:"error"`
	}
	if jerr := resp.DecodeJSON(&challenge); jerr != nil || challenge.ID == "" || challenge.Secret == "" {
		if challenge.Error == "toomany" {
			return "", &AuthError{Message: "too many registered devices"}
		}
		return "", &AuthError{Message: "login failed", Err: &ShapeError{URL: p.BaseURL + "/m7be2iphone/challenge.aspx", Status: resp.StatusCode, Missing: "id/secret"}}
	}

	// Step 4: device login, expect another 302.
	resp, err = d.Download(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    p.BaseURL + "/m7be2iphone/login.aspx",
		Form: url.Values{
			"secret": {challenge.ID + "\t" + challenge.Secret},
			"uid":    {p.Device.Key},
			"app":    {"cds"},
		},
		Headers:    map[string]string{"Content-Type": "application/x-www-form-urlencoded; charset=UTF-8"},
		NoRedirect: true,
	}, DownloadOpts{})
	if err != nil {
		return "", &AuthError{Message: "login failed", Err: err}
	}
	if resp.StatusCode != http.StatusFound {
		return "", &AuthError{Message: "login failed", Err: &ShapeError{URL: p.BaseURL + "/m7be2iphone/login.aspx", Status: resp.StatusCode}}
	}

	// Step 5: single-sign-on token.
	resp, err = d.Download(ctx, httpx.Request{
		URL:        p.BaseURL + "/m7be2iphone/capi.aspx?z=ssotoken",
		NoRedirect: true,
	}, DownloadOpts{ExpectCode: []int{http.StatusOK}})
	if err != nil {
		return "", &AuthError{Message: "login failed", Err: err}
	}
	var sso struct {
		Token string `json:"ssotoken"`
	}
	if jerr := resp.DecodeJSON(&sso); jerr != nil || sso.Token == "" {
		return "", &AuthError{Message: "login failed", Err: &ShapeError{URL: p.BaseURL + "/m7be2iphone/capi.aspx?z=ssotoken", Status: resp.StatusCode, Missing: "ssotoken"}}
	}

	// Step 6: trade the sso token plus device metadata for the bearer token.
	resp, err = d.Download(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    p.APIURL + "/session",
		JSON: map[string]string{
			"sapiToken":    sso.Token,
			"deviceType":   "PC",
			"deviceModel":  p.Device.BrowserName,
			"osVersion":    p.Device.OSName + " " + p.Device.OSVersion,
			"deviceSerial": p.Device.Key,
			"appVersion":   p.Device.BrowserVersion,
			"brand":        "cds",
		},
		NoRedirect: true,
	}, DownloadOpts{ExpectCode: []int{http.StatusOK}})
	if err != nil {
		return "", &AuthError{Message: "login failed", Err: err}
	}
	var session struct {
		Token string `json:"token"`
	}
	if jerr := resp.DecodeJSON(&session); jerr != nil || session.Token == "" {
		return "", &AuthError{Message: "login failed", Err: &ShapeError{URL: p.APIURL + "/session", Status: resp.StatusCode, Missing: "token"}}
	}
	return session.Token, nil
}

func (p *CanalDigitaal) Channels(ctx context.Context, d Doer) ([]Channel, error) {
	resp, err := d.Download(ctx, httpx.Request{
		URL: p.APIURL + "/assets?query=channels,3&limit=999&from=0",
	}, DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Assets []struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"assets"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || payload.Assets == nil {
		return nil, &ShapeError{URL: p.APIURL + "/assets", Status: resp.StatusCode, Missing: "assets"}
	}
	channels := make([]Channel, 0, len(payload.Assets))
	number := 0
	for _, a := range payload.Assets {
		number++
		if a.ID == "" || a.Title == "" {
			continue
		}
		image := ""
		if len(a.Images) > 0 {
			image = a.Images[0].URL
		}
		channels = append(channels, Channel{
			ID:     a.ID,
			Number: number,
			Label:  a.Title,
			Image:  image,
		})
	}
	return channels, nil
}

func (p *CanalDigitaal) PlaylistPath(ch Channel) string {
	return fmt.Sprintf("plugin://%s/?_=play_video&channel=%s&id=%s&type=channel&_l=.pvr",
		p.PluginID(), ch.ID, ch.ID)
}

func (p *CanalDigitaal) NowPlaying(ctx context.Context, d Doer, channelID string) (NowInfo, error) {
	resp, err := d.Download(ctx, httpx.Request{
		URL: p.APIURL + "/assets/" + url.PathEscape(channelID),
	}, DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true})
	if err != nil {
		return NowInfo{}, err
	}
	var payload struct {
		ID     string `json:"id"`
		Params struct {
			Now struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"now"`
		} `json:"params"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || payload.ID == "" {
		return NowInfo{}, &ShapeError{URL: p.APIURL + "/assets/" + channelID, Status: resp.StatusCode, Missing: "id"}
	}
	return NowInfo{ProgramID: payload.Params.Now.ID, Title: payload.Params.Now.Title}, nil
}

func (p *CanalDigitaal) CanStartOver() bool { return true }

// cdPlayerBody is the capability envelope every play request carries: the
// provider only hands out DASH/Widevine sources to players that claim them.
var cdPlayerBody = map[string]any{
	"player": map[string]any{
		"name":    "Bitmovin",
		"version": "8.22.0",
		"capabilities": map[string]any{
			"mediaTypes": []string{"DASH", "HLS", "MSSS", "Unspecified"},
			"drmSystems": []string{"Widevine"},
		},
		"drmSystems": []string{"Widevine"},
	},
}

func (p *CanalDigitaal) StreamURL(ctx context.Context, d Doer, req PlayRequest) (PlayData, error) {
	// Live-from-beginning plays the current program's asset instead of the
	// channel's live edge.
	target := req.ChannelID
	if req.Kind != KindChannel || (req.FromBeginning && req.ContentID != "") {
		target = req.ContentID
	}
	if target == "" {
		return PlayData{}, &ShapeError{URL: p.APIURL + "/assets", Missing: "asset id"}
	}
	playURL := p.APIURL + "/assets/" + url.PathEscape(target) + "/play"
	resp, err := d.Download(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    playURL,
		JSON:   cdPlayerBody,
	}, DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true})
	if err != nil {
		return PlayData{}, err
	}
	var payload struct {
		URL string `json:"url"`
		DRM struct {
			LicenseURL string `json:"licenseUrl"`
		} `json:"drm"`
	}
	if jerr := resp.DecodeJSON(&payload); jerr != nil || payload.URL == "" {
		return PlayData{}, &ShapeError{URL: playURL, Status: resp.StatusCode, Missing: "url"}
	}
	return PlayData{Path: payload.URL, License: payload.DRM.LicenseURL, Info: json.RawMessage(resp.Body)}, nil
}

func (p *CanalDigitaal) ReplayProgramID(ctx context.Context, d Doer, channelID string) (string, error) {
	yesterday := p.now().AddDate(0, 0, -1).UTC()
	from := yesterday.Format("2006-01-02T15:04:05") + ".000Z"
	until := yesterday.Format("2006-01-02T15:04") + ":59.999Z"
	scheduleURL := fmt.Sprintf("%s/schedule?channels=%s&from=%s&until=%s",
		p.APIURL, url.QueryEscape(channelID), from, until)
	resp, err := d.Download(ctx, httpx.Request{URL: scheduleURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true})
	if err != nil {
		return "", err
	}
	var payload struct {
		EPG []struct {
			ID string `json:"id"`
		} `json:"epg"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || len(payload.EPG) == 0 || payload.EPG[0].ID == "" {
		return "", nil
	}
	return payload.EPG[0].ID, nil
}

// locationQueryParam extracts a query parameter from a redirect Location.
func locationQueryParam(location, name string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}

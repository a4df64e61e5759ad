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
	"github.com/dutiptv/dutiptv/internal/settings"
)

const (
	kpnAPIURL   = "https://api.tv.kpn.com/101/1.2.0/A/nld/pctv/kpn"
	kpnImageURL = "https://images.tv.kpn.com"

	// kpnVideoType is the asset flavor this client can play.
	kpnVideoType = "SD_DASH_PR"
)

// KPN authenticates with a single credentials POST and talks to an AVS-style
// API where every JSON response carries a resultCode/resultObj envelope.
type KPN struct {
	APIURL   string
	ImageURL string
	Device   Device
	// EmailLogin selects the email+password credential variant instead of
	// customer number + PIN.
	EmailLogin bool
	// Cache holds short-lived VOD responses when enabled.
	Cache       settings.Profile
	EnableCache bool
	Log         zerolog.Logger

	now func() time.Time
}

func NewKPN(dev Device, log zerolog.Logger) *KPN {
	return &KPN{
		APIURL:   kpnAPIURL,
		ImageURL: kpnImageURL,
		Device:   dev,
		Log:      log.With().Str("provider", "kpn").Logger(),
		now:      time.Now,
	}
}

func (p *KPN) Name() string     { return "kpn" }
func (p *KPN) PluginID() string { return "plugin.video.kpn" }

func (p *KPN) BaseHeaders() map[string]string {
	return map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Pragma":          "no-cache",
		"Cache-Control":   "no-cache",
		"DNT":             "1",
		"Accept-Language": "en-US,en;q=0.9,nl;q=0.8",
	}
}

func (p *KPN) AskPassword(g gui.Prompter) string {
	if p.EmailLogin {
		return strings.TrimSpace(g.Input("KPN password", true))
	}
	return strings.TrimSpace(g.Numeric("KPN PIN"))
}

// CheckShape enforces the AVS envelope: resultCode must be "OK" and
// resultObj present. A "KO" or missing envelope fails validation, which
// drives the manager's retry-with-relogin.
func (p *KPN) CheckShape(body []byte) bool {
	var envelope struct {
		ResultCode string          `json:"resultCode"`
		ResultObj  json.RawMessage `json:"resultObj"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	return envelope.ResultCode == "OK" && len(envelope.ResultObj) > 0
}

func (p *KPN) Login(ctx context.Context, d Doer, creds Credentials) (string, error) {
	d.SetHeaders(p.BaseHeaders())

	var body map[string]any
	if p.EmailLogin {
		body = map[string]any{
			"credentialsExtAuth": map[string]any{
				"credentials": map[string]any{
					"loginType": "UsernamePassword",
					"username":  creds.Username,
					"password":  creds.Password,
					"appId":     "KPN",
				},
				"remember": "Y",
				"deviceInfo": map[string]any{
					"deviceId":          p.Device.Key,
					"deviceIdType":      "DEVICEID",
					"deviceType":        "PCTV",
					"deviceVendor":      p.Device.BrowserName,
					"deviceModel":       p.Device.BrowserVersion,
					"deviceFirmVersion": p.Device.OSName,
					"appVersion":        p.Device.OSVersion,
				},
			},
		}
	} else {
		body = map[string]any{
			"credentialsStdAuth": map[string]any{
				"username": creds.Username,
				"password": creds.Password,
				"remember": "Y",
				"deviceRegistrationData": map[string]any{
					"deviceId":            p.Device.Key,
					"accountDeviceIdType": "DEVICEID",
					"deviceType":          "PCTV",
					"vendor":              p.Device.BrowserName,
					"model":               p.Device.BrowserVersion,
					"deviceFirmVersion":   p.Device.OSName,
					"appVersion":          p.Device.OSVersion,
				},
			},
		}
	}

	sessionURL := p.APIURL + "/USER/SESSIONS/"
	resp, err := d.Download(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    sessionURL,
		JSON:   body,
	}, DownloadOpts{ExpectCode: []int{http.StatusOK}})
	if err != nil {
		return "", &AuthError{Message: "login failed", Err: err}
	}
	var result struct {
		ResultCode string `json:"resultCode"`
	}
	if jerr := resp.DecodeJSON(&result); jerr != nil || result.ResultCode == "" || result.ResultCode == "KO" {
		return "", &AuthError{Message: "login failed: check customer number / PIN", Err: &ShapeError{URL: sessionURL, Status: resp.StatusCode, Missing: "resultCode"}}
	}
	// Session lives in cookies; there is no bearer token.
	return "", nil
}

func (p *KPN) Channels(ctx context.Context, d Doer) ([]Channel, error) {
	channelsURL := p.APIURL + "/TRAY/LIVECHANNELS?orderBy=orderId&sortOrder=asc&from=0&to=999&dfilter_channels=subscription"
	resp, err := d.Download(ctx, httpx.Request{URL: channelsURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true, CheckShape: true})
	if err != nil {
		return nil, err
	}
	var payload struct {
		ResultObj struct {
			Containers []struct {
				Metadata struct {
					ChannelID   json.Number `json:"channelId"`
					ExternalID  string      `json:"externalId"`
					OrderID     int         `json:"orderId"`
					ChannelName string      `json:"channelName"`
				} `json:"metadata"`
				Assets []struct {
					VideoType string      `json:"videoType"`
					AssetID   json.Number `json:"assetId"`
				} `json:"assets"`
			} `json:"containers"`
		} `json:"resultObj"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || payload.ResultObj.Containers == nil {
		return nil, &ShapeError{URL: channelsURL, Status: resp.StatusCode, Missing: "resultObj.containers"}
	}
	channels := make([]Channel, 0, len(payload.ResultObj.Containers))
	for _, c := range payload.ResultObj.Containers {
		m := c.Metadata
		if m.ChannelID.String() == "" || m.ChannelName == "" || m.ExternalID == "" {
			continue
		}
		assetID := ""
		for _, a := range c.Assets {
			if a.VideoType == kpnVideoType {
				assetID = a.AssetID.String()
				break
			}
		}
		channels = append(channels, Channel{
			ID:      m.ChannelID.String(),
			Number:  m.OrderID,
			Label:   m.ChannelName,
			Image:   fmt.Sprintf("%s/logo/%s/256.png", p.ImageURL, m.ExternalID),
			AssetID: assetID,
		})
	}
	return channels, nil
}

func (p *KPN) PlaylistPath(ch Channel) string {
	return fmt.Sprintf("plugin://%s/?_=play_video&channel=%s&id=%s&type=channel&_l=.pvr",
		p.PluginID(), ch.ID, ch.AssetID)
}

func (p *KPN) NowPlaying(ctx context.Context, d Doer, channelID string) (NowInfo, error) {
	infoURL := fmt.Sprintf(
		"%s/TRAY/SEARCH/LIVE?maxResults=1&filter_airingTime=now&filter_channelIds=%s&orderBy=airingStartTime&sortOrder=desc",
		p.APIURL, url.QueryEscape(channelID))
	resp, err := d.Download(ctx, httpx.Request{URL: infoURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true, CheckShape: true})
	if err != nil {
		return NowInfo{}, err
	}
	var payload struct {
		ResultObj struct {
			Containers []struct {
				ID       json.Number `json:"id"`
				Metadata struct {
					Title string `json:"title"`
				} `json:"metadata"`
			} `json:"containers"`
		} `json:"resultObj"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || len(payload.ResultObj.Containers) == 0 {
		return NowInfo{}, &ShapeError{URL: infoURL, Status: resp.StatusCode, Missing: "resultObj.containers"}
	}
	first := payload.ResultObj.Containers[0]
	return NowInfo{ProgramID: first.ID.String(), Title: first.Metadata.Title}, nil
}

func (p *KPN) CanStartOver() bool { return false }

func (p *KPN) StreamURL(ctx context.Context, d Doer, req PlayRequest) (PlayData, error) {
	milli := p.now().UnixMilli()
	var playURL string
	switch req.Kind {
	case KindChannel:
		if req.AssetID == "" {
			return PlayData{}, &ShapeError{URL: p.APIURL, Missing: "channel asset id"}
		}
		playURL = fmt.Sprintf("%s/CONTENT/VIDEOURL/LIVE/%s/%s/?deviceId=%s&profile=G02&time=%d",
			p.APIURL, url.PathEscape(req.ChannelID), url.PathEscape(req.AssetID), url.QueryEscape(p.Device.Key), milli)
	default:
		typeStr := "PROGRAM"
		if req.Kind == KindVOD {
			typeStr = "VOD"
		}
		assetID, err := p.entitledAsset(ctx, d, typeStr, req.ContentID, req.Kind)
		if err != nil {
			return PlayData{}, err
		}
		playURL = fmt.Sprintf("%s/CONTENT/VIDEOURL/%s/%s/%s/?deviceId=%s&profile=G02&time=%d",
			p.APIURL, typeStr, url.PathEscape(req.ContentID), url.PathEscape(assetID), url.QueryEscape(p.Device.Key), milli)
	}

	resp, err := d.Download(ctx, httpx.Request{URL: playURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true, CheckShape: true})
	if err != nil {
		return PlayData{}, err
	}
	var payload struct {
		ResultObj struct {
			Token string `json:"token"`
			Src   struct {
				Sources struct {
					Src               string `json:"src"`
					ContentProtection struct {
						Widevine struct {
							LicenseAcquisitionURL string `json:"licenseAcquisitionURL"`
						} `json:"widevine"`
					} `json:"contentProtection"`
				} `json:"sources"`
			} `json:"src"`
		} `json:"resultObj"`
	}
	if jerr := resp.DecodeJSON(&payload); jerr != nil ||
		payload.ResultObj.Token == "" || payload.ResultObj.Src.Sources.Src == "" {
		return PlayData{}, &ShapeError{URL: playURL, Status: resp.StatusCode, Missing: "token/src"}
	}
	return PlayData{
		Path:    payload.ResultObj.Src.Sources.Src,
		License: payload.ResultObj.Src.Sources.ContentProtection.Widevine.LicenseAcquisitionURL,
		Token:   payload.ResultObj.Token,
		Info:    json.RawMessage(resp.Body),
	}, nil
}

// entitledAsset picks the playable asset for a program or VOD item,
// honoring the required videoType and program/asset tags.
func (p *KPN) entitledAsset(ctx context.Context, d Doer, typeStr, contentID string, kind Kind) (string, error) {
	userdataURL := fmt.Sprintf("%s/CONTENT/USERDATA/%s/%s", p.APIURL, typeStr, url.PathEscape(contentID))
	resp, err := d.Download(ctx, httpx.Request{URL: userdataURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true, CheckShape: true})
	if err != nil {
		return "", err
	}
	var payload struct {
		ResultObj struct {
			Containers []struct {
				Entitlement struct {
					Assets []struct {
						VideoType   string      `json:"videoType"`
						ProgramType string      `json:"programType"`
						AssetType   string      `json:"assetType"`
						Rights      string      `json:"rights"`
						AssetID     json.Number `json:"assetId"`
					} `json:"assets"`
				} `json:"entitlement"`
			} `json:"containers"`
		} `json:"resultObj"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || payload.ResultObj.Containers == nil {
		return "", &ShapeError{URL: userdataURL, Status: resp.StatusCode, Missing: "resultObj.containers"}
	}
	for _, c := range payload.ResultObj.Containers {
		for _, a := range c.Entitlement.Assets {
			if a.VideoType != kpnVideoType {
				continue
			}
			if kind == KindProgram && a.ProgramType == "CUTV" {
				return a.AssetID.String(), nil
			}
			if kind == KindVOD && a.AssetType == "MASTER" {
				if a.Rights == "buy" {
					return "", &AuthError{Message: "no stream authorization for this item"}
				}
				return a.AssetID.String(), nil
			}
		}
	}
	return "", &ShapeError{URL: userdataURL, Status: resp.StatusCode, Missing: "entitled asset"}
}

func (p *KPN) ReplayProgramID(ctx context.Context, d Doer, channelID string) (string, error) {
	trendingURL := fmt.Sprintf("%s/TRAY/AVA/TRENDING/YESTERDAY?maxResults=1&filter_channelIds=%s",
		p.APIURL, url.QueryEscape(channelID))
	resp, err := d.Download(ctx, httpx.Request{URL: trendingURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, CheckShape: true})
	if err != nil {
		return "", nil
	}
	var payload struct {
		ResultObj struct {
			Containers []struct {
				ID json.Number `json:"id"`
			} `json:"containers"`
		} `json:"resultObj"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || len(payload.ResultObj.Containers) == 0 {
		return "", nil
	}
	return payload.ResultObj.Containers[0].ID.String(), nil
}

// Subscription lists the VOD content ids the account may stream.
func (p *KPN) Subscription(ctx context.Context, d Doer) ([]string, error) {
	seriesURL := p.APIURL + "/TRAY/SEARCH/VOD?from=1&to=9999" +
		"&filter_contentType=GROUP_OF_BUNDLES,VOD&filter_contentSubtype=SERIES,VOD" +
		"&filter_contentTypeExtended=VOD&filter_excludedGenres=erotiek" +
		"&filter_technicalPackages=10078,10081,10258,10255&dfilter_packages=matchSubscription" +
		"&orderBy=activationDate&sortOrder=desc"
	resp, err := d.Download(ctx, httpx.Request{URL: seriesURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true, CheckShape: true})
	if err != nil {
		return nil, err
	}
	var payload struct {
		ResultObj struct {
			Containers []struct {
				Metadata struct {
					ContentID json.Number `json:"contentId"`
				} `json:"metadata"`
			} `json:"containers"`
		} `json:"resultObj"`
	}
	if err := resp.DecodeJSON(&payload); err != nil || payload.ResultObj.Containers == nil {
		return nil, &ShapeError{URL: seriesURL, Status: resp.StatusCode, Missing: "resultObj.containers"}
	}
	ids := make([]string, 0, len(payload.ResultObj.Containers))
	for _, c := range payload.ResultObj.Containers {
		ids = append(ids, c.Metadata.ContentID.String())
	}
	return ids, nil
}

// Seasons lists a series' seasons, with a short on-disk cache.
func (p *KPN) Seasons(ctx context.Context, d Doer, id string) ([]Season, error) {
	detailURL := fmt.Sprintf("%s/CONTENT/DETAIL/GROUP_OF_BUNDLES/%s", p.APIURL, url.PathEscape(id))
	body, err := p.cachedDetail(ctx, d, "cache/vod_seasons_"+id+".json", detailURL)
	if err != nil {
		return nil, err
	}
	var payload struct {
		ResultObj struct {
			Containers []struct {
				Containers []struct {
					Metadata struct {
						ContentID        json.Number `json:"contentId"`
						Season           int         `json:"season"`
						ContentSubtype   string      `json:"contentSubtype"`
						ShortDescription string      `json:"shortDescription"`
						PictureURL       string      `json:"pictureUrl"`
					} `json:"metadata"`
				} `json:"containers"`
			} `json:"containers"`
		} `json:"resultObj"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ResultObj.Containers == nil {
		return nil, &ShapeError{URL: detailURL, Missing: "resultObj.containers"}
	}
	var seasons []Season
	for _, outer := range payload.ResultObj.Containers {
		for _, c := range outer.Containers {
			m := c.Metadata
			if m.ContentSubtype != "SEASON" {
				continue
			}
			seasons = append(seasons, Season{
				ID:          m.ContentID.String(),
				Number:      m.Season,
				Description: m.ShortDescription,
				Image:       m.PictureURL,
			})
		}
	}
	return seasons, nil
}

// Season lists a season's episodes, deduplicated by episode number.
func (p *KPN) Season(ctx context.Context, d Doer, id string) ([]Episode, error) {
	detailURL := fmt.Sprintf("%s/CONTENT/DETAIL/BUNDLE/%s", p.APIURL, url.PathEscape(id))
	body, err := p.cachedDetail(ctx, d, "cache/vod_season_"+id+".json", detailURL)
	if err != nil {
		return nil, err
	}
	var payload struct {
		ResultObj struct {
			Containers []struct {
				Containers []struct {
					Metadata struct {
						ContentID        json.Number `json:"contentId"`
						Season           int         `json:"season"`
						EpisodeNumber    int         `json:"episodeNumber"`
						ContentSubtype   string      `json:"contentSubtype"`
						EpisodeTitle     string      `json:"episodeTitle"`
						Duration         int         `json:"duration"`
						ShortDescription string      `json:"shortDescription"`
						PictureURL       string      `json:"pictureUrl"`
					} `json:"metadata"`
					Assets []struct {
						VideoType string      `json:"videoType"`
						AssetType string      `json:"assetType"`
						AssetID   json.Number `json:"assetId"`
					} `json:"assets"`
				} `json:"containers"`
			} `json:"containers"`
		} `json:"resultObj"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ResultObj.Containers == nil {
		return nil, &ShapeError{URL: detailURL, Missing: "resultObj.containers"}
	}
	var episodes []Episode
	seen := map[int]bool{}
	for _, outer := range payload.ResultObj.Containers {
		for _, c := range outer.Containers {
			m := c.Metadata
			if m.ContentSubtype != "EPISODE" || seen[m.EpisodeNumber] {
				continue
			}
			assetID := ""
			for _, a := range c.Assets {
				if a.VideoType == kpnVideoType && a.AssetType == "MASTER" {
					assetID = a.AssetID.String()
					break
				}
			}
			seen[m.EpisodeNumber] = true
			episodes = append(episodes, Episode{
				ID:            m.ContentID.String(),
				AssetID:       assetID,
				Duration:      m.Duration,
				Title:         m.EpisodeTitle,
				EpisodeNumber: fmt.Sprintf("%d.%d", m.Season, m.EpisodeNumber),
				Description:   m.ShortDescription,
				Image:         m.PictureURL,
			})
		}
	}
	return episodes, nil
}

// cachedDetail returns the raw response body for detailURL, serving a cached
// copy when caching is on and the file is younger than 10 minutes.
func (p *KPN) cachedDetail(ctx context.Context, d Doer, cacheFile, detailURL string) ([]byte, error) {
	if p.EnableCache && !p.Cache.OlderThan(cacheFile, 10*time.Minute) {
		if data, err := p.Cache.ReadFile(cacheFile); err == nil && len(data) > 0 {
			return data, nil
		}
	}
	resp, err := d.Download(ctx, httpx.Request{URL: detailURL},
		DownloadOpts{ExpectCode: []int{http.StatusOK}, AllowRetry: true, CheckShape: true})
	if err != nil {
		return nil, err
	}
	if p.EnableCache {
		if err := p.Cache.WriteFile(cacheFile, resp.Body); err != nil {
			p.Log.Debug().Err(err).Str("file", cacheFile).Msg("vod cache write failed")
		}
	}
	return resp.Body, nil
}

package catalog

// Choice values for a preference field.
const (
	ChoiceAuto   = "auto"
	ChoiceManual = "manual"
)

// ChannelPref holds the per-channel switches plus, for each switch, whether
// it is under automatic control or was pinned by the user. Manual fields are
// never touched by test results.
type ChannelPref struct {
	Live         bool   `json:"live"`
	LiveChoice   string `json:"live_choice"`
	Replay       bool   `json:"replay"`
	ReplayChoice string `json:"replay_choice"`
	EPG          bool   `json:"epg"`
	EPGChoice    string `json:"epg_choice"`
}

// Prefs maps channel id to its preference record.
type Prefs map[string]ChannelPref

// LoadPrefs returns the persisted preference map, or an empty one.
func (b *Builder) LoadPrefs() Prefs {
	prefs := Prefs{}
	if err := b.profile.LoadJSON(FilePrefs, &prefs); err != nil {
		return Prefs{}
	}
	return prefs
}

func (b *Builder) SavePrefs(prefs Prefs) error {
	return b.profile.SaveJSON(FilePrefs, prefs)
}

// ApplyResults folds sweep results into the preference map: missing records
// are created with auto choices, auto fields follow the latest result, and
// manual fields keep their pinned value. Channels without a result are left
// alone. The merged map is persisted and returned.
func (b *Builder) ApplyResults(results *TestResults) (Prefs, error) {
	prefs := b.LoadPrefs()
	for id, res := range results.Channels {
		pref, ok := prefs[id]
		if !ok {
			pref = ChannelPref{
				Live: res.Live, LiveChoice: ChoiceAuto,
				Replay: res.Replay, ReplayChoice: ChoiceAuto,
				EPG: res.EPG, EPGChoice: ChoiceAuto,
			}
			prefs[id] = pref
			continue
		}
		if pref.LiveChoice != ChoiceManual {
			pref.Live = res.Live
			pref.LiveChoice = ChoiceAuto
		}
		if pref.ReplayChoice != ChoiceManual {
			pref.Replay = res.Replay
			pref.ReplayChoice = ChoiceAuto
		}
		if pref.EPGChoice != ChoiceManual {
			pref.EPG = res.EPG
			pref.EPGChoice = ChoiceAuto
		}
		prefs[id] = pref
	}
	if err := b.SavePrefs(prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// SetManual pins one preference field to a user-chosen value and regenerates
// the playlists so the change takes effect immediately. Field is one of
// "live", "replay", "epg".
func (b *Builder) SetManual(channelID, field string, value bool) error {
	prefs := b.LoadPrefs()
	pref, ok := prefs[channelID]
	if !ok {
		pref = ChannelPref{
			Live: true, LiveChoice: ChoiceAuto,
			Replay: true, ReplayChoice: ChoiceAuto,
			EPG: true, EPGChoice: ChoiceAuto,
		}
	}
	switch field {
	case "live":
		pref.Live = value
		pref.LiveChoice = ChoiceManual
	case "replay":
		pref.Replay = value
		pref.ReplayChoice = ChoiceManual
	case "epg":
		pref.EPG = value
		pref.EPGChoice = ChoiceManual
	}
	prefs[channelID] = pref
	if err := b.SavePrefs(prefs); err != nil {
		return err
	}
	return b.WritePlaylists(b.LoadChannels())
}

package catalog

// TestResult is the outcome of probing one channel.
type TestResult struct {
	Label           string `json:"label"`
	Live            bool   `json:"live"`
	LiveBandwidth   int    `json:"live_bandwidth"`
	Replay          bool   `json:"replay"`
	ReplayBandwidth int    `json:"replay_bandwidth"`
	EPG             bool   `json:"epg"`
	Guide           bool   `json:"guide"`
}

// TestResults accumulates sweep outcomes across runs. LastTested is the
// cursor: the id of the most recently probed channel, so the next run
// resumes after it instead of starting over.
type TestResults struct {
	Channels   map[string]TestResult `json:"channels"`
	LastTested string                `json:"last_tested"`
}

// LoadResults returns the persisted result set, or an empty one.
func (b *Builder) LoadResults() *TestResults {
	res := &TestResults{Channels: map[string]TestResult{}}
	if err := b.profile.LoadJSON(FileTests, res); err != nil {
		return &TestResults{Channels: map[string]TestResult{}}
	}
	if res.Channels == nil {
		res.Channels = map[string]TestResult{}
	}
	return res
}

func (b *Builder) SaveResults(res *TestResults) error {
	return b.profile.SaveJSON(FileTests, res)
}

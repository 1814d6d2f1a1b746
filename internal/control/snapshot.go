package control

// Snapshot is the flattened, serializable projection of receiver state
// pushed to controllers. It is derived on demand and never authoritative.
//
// The array-valued fields mirror the multi-output router protocol; a
// single-output receiver publishes one-element arrays plus the flat
// convenience fields below them.
type Snapshot struct {
	ComponentID   string `json:"componentId"`
	ComponentName string `json:"componentName"`

	Sources                []string `json:"sources"`
	CurrentSources         []string `json:"currentSources"`
	RegexPatterns          []string `json:"regexPatterns"`
	EffectiveRegexPatterns []string `json:"effectiveRegexPatterns"`
	OutputResolutions      [][2]int `json:"outputResolutions"`
	PluralHandlingEnabled  bool     `json:"pluralHandlingEnabled"`
	Locks                  []bool   `json:"locks"`
	LastUpdate             float64  `json:"lastUpdate"`

	// Single-output convenience fields
	CurrentSource string  `json:"currentSource"`
	Connected     bool    `json:"connected"`
	FPS           float64 `json:"fps"`
	Pattern       string  `json:"pattern"`
	Locked        bool    `json:"locked"`
}

// Response is the wire shape of every outbound control-plane message.
type Response struct {
	Action    string    `json:"action"`
	State     *Snapshot `json:"state,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"`
}

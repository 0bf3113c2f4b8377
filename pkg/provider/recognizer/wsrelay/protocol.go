package wsrelay

import "github.com/MrWong99/voxtutor/pkg/types"

// Frame types sent by the server to the connected client.
const (
	TypeRecognizerStart   = "recognizer.start"
	TypeRecognizerStop    = "recognizer.stop"
	TypeBridgeAvailable   = "bridge.available"
	TypeBridgePermissions = "bridge.permissions"
	TypeBridgeStart       = "bridge.start"
	TypeBridgeStop        = "bridge.stop"
	TypeAudioState        = "audio.state"
	TypeAudioResume       = "audio.resume"
)

// Frame types sent by the client.
const (
	TypeReply                = "reply"
	TypeRecognizerResult     = "recognizer.result"
	TypeRecognizerError      = "recognizer.error"
	TypeRecognizerEnd        = "recognizer.end"
	TypeBridgePartialResults = "bridge.partialResults"
	TypeBridgeListeningState = "bridge.listeningState"
)

// Frame is a single JSON text message on the relay. Only the fields relevant
// to Type are populated.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Reply fields.
	OK         bool   `json:"ok,omitempty"`
	Error      string `json:"error,omitempty"`
	Available  bool   `json:"available,omitempty"`
	Permission string `json:"permission,omitempty"`
	State      string `json:"state,omitempty"`

	// recognizer.start
	Settings *Settings `json:"settings,omitempty"`

	// bridge.start
	Config *BridgeConfig `json:"config,omitempty"`

	// recognizer.result
	Results [][]types.Alternative `json:"results,omitempty"`

	// bridge.partialResults
	Matches []string `json:"matches,omitempty"`

	// bridge.listeningState
	Status string `json:"status,omitempty"`
}

// Settings is the wire form of recognizer.Settings.
type Settings struct {
	Lang            string `json:"lang"`
	Continuous      bool   `json:"continuous"`
	InterimResults  bool   `json:"interim_results"`
	MaxAlternatives int    `json:"max_alternatives"`
}

// BridgeConfig is the wire form of recognizer.BridgeConfig.
type BridgeConfig struct {
	Language       string `json:"language"`
	MaxResults     int    `json:"max_results"`
	PartialResults bool   `json:"partial_results"`
	Popup          bool   `json:"popup"`
	Prompt         string `json:"prompt,omitempty"`
}

package control

import (
	"encoding/json"
	"fmt"
)

// Command is the closed set of remote operations. Dispatching on the
// concrete type keeps command handling exhaustive: adding a kind without a
// case in Apply is a compile-visible gap, not a silent fall-through.
type Command interface {
	Action() string
}

type RequestState struct{}

type SetSource struct {
	SourceName string
}

type RefreshSources struct{}

type SetLock struct {
	Locked bool
}

// SetLockGlobal is the multi-output variant of SetLock. A single-output
// receiver treats it identically.
type SetLockGlobal struct {
	Locked bool
}

type SaveConfiguration struct{}

type RecallConfiguration struct{}

type Ping struct{}

func (RequestState) Action() string        { return "request_state" }
func (SetSource) Action() string           { return "set_source" }
func (RefreshSources) Action() string      { return "refresh_sources" }
func (SetLock) Action() string             { return "set_lock" }
func (SetLockGlobal) Action() string       { return "set_lock_global" }
func (SaveConfiguration) Action() string   { return "save_configuration" }
func (RecallConfiguration) Action() string { return "recall_configuration" }
func (Ping) Action() string                { return "ping" }

// CommandError is a protocol-level failure reported back to the
// originating controller as an "error" response.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

func commandErrorf(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...)}
}

// envelope is the wire shape of inbound requests.
type envelope struct {
	Action      string  `json:"action"`
	ComponentID string  `json:"component_id,omitempty"`
	SourceName  *string `json:"source_name,omitempty"`
	Locked      *bool   `json:"locked,omitempty"`
}

// ParseCommand decodes a wire message into a Command. The returned
// componentID is the envelope's routing id ("" when absent); callers must
// drop commands addressed to another component before applying.
func ParseCommand(data []byte) (cmd Command, componentID string, err error) {
	var env envelope
	if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
		return nil, "", commandErrorf("invalid JSON: %v", jsonErr)
	}

	switch env.Action {
	case "request_state":
		cmd = RequestState{}
	case "set_source":
		if env.SourceName == nil {
			return nil, env.ComponentID, commandErrorf("set_source requires source_name")
		}
		cmd = SetSource{SourceName: *env.SourceName}
	case "refresh_sources":
		cmd = RefreshSources{}
	case "set_lock":
		if env.Locked == nil {
			return nil, env.ComponentID, commandErrorf("set_lock requires locked")
		}
		cmd = SetLock{Locked: *env.Locked}
	case "set_lock_global":
		if env.Locked == nil {
			return nil, env.ComponentID, commandErrorf("set_lock_global requires locked")
		}
		cmd = SetLockGlobal{Locked: *env.Locked}
	case "save_configuration":
		cmd = SaveConfiguration{}
	case "recall_configuration":
		cmd = RecallConfiguration{}
	case "ping":
		cmd = Ping{}
	case "":
		return nil, env.ComponentID, commandErrorf("missing action")
	default:
		return nil, env.ComponentID, commandErrorf("unknown action: %s", env.Action)
	}

	return cmd, env.ComponentID, nil
}

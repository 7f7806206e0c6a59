// Package host implements the native-messaging request dispatcher: one framed
// request in, one framed response out.
package host

import (
	"encoding/json"

	"github.com/entrhq/kbhost/pkg/kb"
)

// Action names the operation a request asks for.
type Action string

const (
	ActionPing           Action = "ping"
	ActionTest           Action = "test"
	ActionRead           Action = "read"
	ActionWrite          Action = "write"
	ActionSaveRecord     Action = "save_record"
	ActionCreateBookmark Action = "create_bookmark"
	ActionCheckExists    Action = "check_exists"
)

// Request is the JSON message sent by the extension. Which fields are used
// depends on Action.
type Request struct {
	Action   Action `json:"action"`
	FilePath string `json:"filePath,omitempty"`
	BaseDir  string `json:"baseDir,omitempty"`
	Slug     string `json:"slug,omitempty"`

	Data   json.RawMessage     `json:"data,omitempty" masq:"secret"`
	Record *kb.ExtractedRecord `json:"record,omitempty"`
	Body   string              `json:"body,omitempty" masq:"secret"`

	MetaYAML  string `json:"metaYaml,omitempty" masq:"secret"`
	ContentMD string `json:"contentMd,omitempty" masq:"secret"`
}

// Response is the JSON message returned to the extension. Payload fields are
// merged into the top-level object next to success, error and code.
type Response struct {
	Success bool
	Error   string
	Code    Code
	Payload any
}

// MarshalJSON flattens Payload into the response object.
func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Code != "" {
		out["code"] = r.Code
	}
	return json.Marshal(out)
}

type pingPayload struct {
	Message string `json:"message"`
}

type testPayload struct {
	FileExists      bool     `json:"file_exists"`
	Readable        bool     `json:"readable"`
	Writable        bool     `json:"writable"`
	DirectoryExists bool     `json:"directory_exists"`
	Errors          []string `json:"errors"`
}

type readPayload struct {
	Data map[string]any `json:"data"`
}

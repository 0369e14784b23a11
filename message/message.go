// Package message defines the canonical Message type exchanged between a
// messenger interface and the dialog runtime, along with its attachment
// variants and the NodeLabel pointer into a Script.
package message

import "encoding/json"

// NodeLabel is an absolute pointer into a Script: a (Flow, Node) pair.
// Both fields must be non-empty once resolved; relative labels (carrying
// only a node name, or neither) are resolved against the current label by
// the actor before being stored in a Context.
type NodeLabel struct {
	Flow string `json:"flow"`
	Node string `json:"node"`
}

// IsAbsolute reports whether both components of the label are set.
func (l NodeLabel) IsAbsolute() bool {
	return l.Flow != "" && l.Node != ""
}

// String renders the label as "flow:node" for logging.
func (l NodeLabel) String() string {
	return l.Flow + ":" + l.Node
}

// AttachmentType enumerates the supported Message attachment kinds.
type AttachmentType string

// Supported attachment kinds.
const (
	AttachmentImage         AttachmentType = "image"
	AttachmentAudio         AttachmentType = "audio"
	AttachmentVideo         AttachmentType = "video"
	AttachmentDocument      AttachmentType = "document"
	AttachmentLocation      AttachmentType = "location"
	AttachmentContact       AttachmentType = "contact"
	AttachmentPoll          AttachmentType = "poll"
	AttachmentCallbackQuery AttachmentType = "callback_query"
	AttachmentMediaGroup    AttachmentType = "media_group"
	AttachmentSticker       AttachmentType = "sticker"
	AttachmentVoiceMessage  AttachmentType = "voice_message"
	AttachmentVideoMessage  AttachmentType = "video_message"
)

// Attachment is a single structured attachment on a Message. Exactly one of
// the type-specific fields is populated, matching Type.
type Attachment struct {
	Type AttachmentType `json:"type"`

	// DataAttachment fields: image, audio, video, document, sticker,
	// voice/video message. Source is either a URL or a local file path;
	// exactly one of Source/ID must be set.
	Source     string `json:"source,omitempty"`
	ID         string `json:"id,omitempty"`
	Title      string `json:"title,omitempty"`
	UseCache   bool   `json:"use_cache,omitempty"`
	CachedPath string `json:"cached_path,omitempty"`

	// Location fields.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Contact fields.
	PhoneNumber string `json:"phone_number,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`

	// Poll fields.
	Question string       `json:"question,omitempty"`
	Options  []PollOption `json:"options,omitempty"`

	// CallbackQuery field.
	QueryString string `json:"query_string,omitempty"`

	// MediaGroup field: a batch of DataAttachment-shaped items.
	Group []Attachment `json:"group,omitempty"`
}

// PollOption is one option within a Poll attachment.
type PollOption struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Command is a structured command parsed out of raw message text (e.g. a
// slash command), carried alongside the Message's free text.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Message is the universal request/response payload exchanged with a
// messenger interface. It round-trips through JSON; fields with no natural
// JSON mapping on the origin transport are preserved in OriginalPayload.
type Message struct {
	Text        string            `json:"text,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Commands    []Command         `json:"commands,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Misc        map[string]any    `json:"misc,omitempty"`

	// OriginalPayload preserves the transport-native message verbatim as an
	// opaque blob, for fields this model doesn't represent.
	OriginalPayload json.RawMessage `json:"original_payload,omitempty"`
}

// IsEmpty reports whether the message carries no content at all: this is a
// valid turn outcome (spec: "a turn that completes with an empty response is
// a valid outcome"), not an error state.
func (m Message) IsEmpty() bool {
	return m.Text == "" && len(m.Attachments) == 0 && len(m.Commands) == 0 &&
		len(m.Annotations) == 0 && len(m.Misc) == 0 && len(m.OriginalPayload) == 0
}

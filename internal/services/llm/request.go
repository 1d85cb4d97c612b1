package llm

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Image is an inline image attachment.
type Image struct {
	MIME string
	Data []byte
}

// DataURL encodes the image as a base64 data URL.
func (img Image) DataURL() string {
	mime := strings.TrimSpace(img.MIME)
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Role names a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a prior conversation message replayed before the prompt.
type Turn struct {
	Role    Role
	Content string
	Images  []Image
}

// Request describes a single completion call. History turns are sent between
// the system prompt and the final user prompt.
type Request struct {
	// Name labels the call in errors, e.g. "discovery".
	Name        string
	System      string
	Prompt      string
	Images      []Image
	History     []Turn
	Temperature float64
	// OnChunk, when set, switches the call to streaming.
	OnChunk func(string)
}

func (r Request) validate() error {
	if strings.TrimSpace(r.System) == "" {
		return errors.New("system prompt required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("user prompt required")
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (r Request) messages() []chatMessage {
	msgs := make([]chatMessage, 0, len(r.History)+2)
	msgs = append(msgs, chatMessage{Role: string(RoleSystem), Content: strings.TrimSpace(r.System)})
	for _, turn := range r.History {
		role := turn.Role
		if role == "" {
			role = RoleUser
		}
		msgs = append(msgs, chatMessage{Role: string(role), Content: messageContent(turn.Content, turn.Images)})
	}
	msgs = append(msgs, chatMessage{Role: string(RoleUser), Content: messageContent(r.Prompt, r.Images)})
	return msgs
}

// messageContent keeps plain strings for text-only messages and switches to
// the multi-part form when images are attached.
func messageContent(text string, images []Image) any {
	text = strings.TrimSpace(text)
	if len(images) == 0 {
		return text
	}
	parts := make([]contentPart, 0, len(images)+1)
	if text != "" {
		parts = append(parts, contentPart{Type: "text", Text: text})
	}
	for _, img := range images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL()}})
	}
	return parts
}

package chat

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleJarvis Role = "jarvis"
)

type GroundingLink struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Message is one transcript entry. Image is a data: URL.
type Message struct {
	ID             string          `json:"id"`
	Role           Role            `json:"role"`
	Text           string          `json:"text"`
	Timestamp      time.Time       `json:"timestamp"`
	Image          string          `json:"image,omitempty"`
	GroundingLinks []GroundingLink `json:"grounding_links,omitempty"`
	IsError        bool            `json:"is_error,omitempty"`
}

func (m Message) speaker() string {
	if m.Role == RoleUser {
		return "You"
	}
	return "J.A.R.V.I.S."
}

// FormatMarkdown renders the message as a markdown block.
func (m Message) FormatMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** _%s_", m.speaker(), m.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	if m.IsError {
		b.WriteString(" (error)")
	}
	b.WriteString("\n\n")
	if m.Text != "" {
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	if m.Image != "" {
		b.WriteString("\n_[image attached]_\n")
	}
	if len(m.GroundingLinks) > 0 {
		b.WriteString("\nSources:\n")
		for _, l := range m.GroundingLinks {
			fmt.Fprintf(&b, "- [%s](%s)\n", l.Title, l.URI)
		}
	}
	return b.String()
}

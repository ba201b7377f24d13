// Package export renders chat snapshots as Markdown transcripts and HTML
// documents.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/nevindra/agentworld"
)

// Markdown renders a snapshot as a Markdown transcript: a header with world
// and agent metadata, then one section per message.
func Markdown(snap agentworld.WorldChat) []byte {
	var b strings.Builder

	title := snap.World.Name
	if title == "" {
		title = snap.World.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if snap.World.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", snap.World.Description)
	}

	fmt.Fprintf(&b, "- Captured: %s\n", snap.Metadata.CapturedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Messages: %d\n", snap.Metadata.TotalMessages)
	fmt.Fprintf(&b, "- Agents: %d\n\n", snap.Metadata.ActiveAgents)

	if len(snap.Agents) > 0 {
		b.WriteString("## Participants\n\n")
		for _, a := range snap.Agents {
			line := "- **" + a.Name + "**"
			if a.Model != "" {
				line += " (" + a.Model + ")"
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Transcript\n\n")
	for _, m := range snap.Messages {
		writeMessage(&b, m)
	}

	return []byte(b.String())
}

func writeMessage(b *strings.Builder, m agentworld.AgentMessage) {
	switch m.Role {
	case agentworld.RoleTool:
		fmt.Fprintf(b, "> tool result (%s):\n>\n", m.ToolCallID)
		for _, line := range strings.Split(strings.TrimSpace(m.Content), "\n") {
			fmt.Fprintf(b, "> %s\n", line)
		}
		b.WriteString("\n")
		return
	case agentworld.RoleSystem:
		fmt.Fprintf(b, "*system: %s*\n\n", m.Content)
		return
	}

	sender := m.Sender
	if sender == "" && m.AgentID != "" {
		sender = m.AgentID
	}
	if sender == "" {
		sender = "unknown"
	}
	fmt.Fprintf(b, "### %s\n", sender)
	if !m.CreatedAt.IsZero() {
		fmt.Fprintf(b, "<sub>%s</sub>\n", m.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("\n")
	if m.Content != "" {
		b.WriteString(m.Content + "\n\n")
	}
	for _, tc := range m.ToolCalls {
		fmt.Fprintf(b, "> tool call `%s` (%s): `%s`\n\n", tc.Name, tc.ID, string(tc.Args))
	}
}

// HTML renders the snapshot's Markdown transcript to a standalone HTML
// document via goldmark.
func HTML(snap agentworld.WorldChat) ([]byte, error) {
	md := Markdown(snap)

	gm := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)

	var body bytes.Buffer
	if err := gm.Convert(md, &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	title := snap.World.Name
	if title == "" {
		title = snap.World.ID
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
blockquote { color: #555; border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; border-radius: 3px; }
sub { color: #888; }
</style>
</head>
<body>
`, htmlEscape(title))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")

	return out.Bytes(), nil
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

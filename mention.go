package agentworld

// Mention is a well-formed @name token found in a message.
type Mention struct {
	Name   string
	Offset int // byte offset of the '@' in the message
}

// Mentions extracts well-formed mentions from text, in order of appearance.
// A mention is an '@' followed by a word that starts with a letter and
// continues with letters, digits, hyphens, or underscores. The '@' must not
// be preceded by a word character or another '@', so "a@b", "@@x", "@123",
// and "@-x" yield nothing.
func Mentions(text string) []Mention {
	var out []Mention
	for i := 0; i < len(text); i++ {
		if text[i] != '@' {
			continue
		}
		if i > 0 && (isWordByte(text[i-1]) || text[i-1] == '@') {
			// Skip past any run of '@' so "@@name" is rejected whole.
			for i+1 < len(text) && text[i+1] == '@' {
				i++
			}
			continue
		}
		j := i + 1
		if j >= len(text) || !isLetter(text[j]) {
			continue
		}
		for j < len(text) && isNameByte(text[j]) {
			j++
		}
		out = append(out, Mention{Name: text[i+1 : j], Offset: i})
		i = j - 1
	}
	return out
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordByte(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isNameByte(c byte) bool {
	return isWordByte(c) || c == '-'
}

// atParagraphStart reports whether only whitespace precedes offset since the
// start of the message or the most recent newline. A mention in that
// position is a direct address; anything after earlier non-whitespace text
// on the same line is a conversational reference.
func atParagraphStart(text string, offset int) bool {
	for i := offset - 1; i >= 0; i-- {
		c := text[i]
		if c == '\n' {
			return true
		}
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}

// AgentIdentity is the minimal view of an agent the response filter needs.
type AgentIdentity struct {
	ID   string
	Name string
}

func (a AgentIdentity) matches(name string) bool {
	return equalFold(name, a.ID) || equalFold(name, a.Name)
}

// ShouldRespond is the pure response predicate: should this agent reply to
// this message? It is memoryless — turn budgets are the TurnController's
// concern. Rules, in order:
//
//  1. Never respond to one's own message.
//  2. System messages (no sender, or a system-tagged sender) always get a
//     response.
//  3. When the message carries well-formed mentions, only the first mention
//     can address an agent, and only when it opens the message or a
//     paragraph. A first mention buried mid-text addresses nobody.
//  4. A human message with no mentions is a broadcast: everyone responds.
//  5. An agent message with no mentions is suppressed: nobody responds,
//     which is what breaks agent-to-agent reply loops.
func ShouldRespond(agent AgentIdentity, msg MessageEvent) bool {
	if agent.matches(msg.Sender) {
		return false
	}

	sender := ClassifySender(msg.Sender)
	if sender == SenderSystem {
		return true
	}

	mentions := Mentions(msg.Content)
	if len(mentions) == 0 {
		return sender == SenderHuman
	}

	first := mentions[0]
	if !atParagraphStart(msg.Content, first.Offset) {
		return false
	}
	return agent.matches(first.Name)
}

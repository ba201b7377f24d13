package agentworld

import "testing"

func TestMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "@ada hello", []string{"ada"}},
		{"multiple", "@ada ask @grace-h", []string{"ada", "grace-h"}},
		{"mid text", "hello @ada", []string{"ada"}},
		{"email not a mention", "mail me a@b.com", nil},
		{"double at rejected", "@@ada hi", nil},
		{"digit start rejected", "@123 nope", nil},
		{"hyphen start rejected", "@-x nope", nil},
		{"underscore and digits", "@ada_2 hi", []string{"ada_2"}},
		{"punctuation terminates", "@ada, hello", []string{"ada"}},
		{"empty", "", nil},
		{"bare at", "@ alone", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mentions(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("Mentions(%q) = %v, want names %v", tt.text, got, tt.want)
			}
			for i, m := range got {
				if m.Name != tt.want[i] {
					t.Errorf("mention %d = %q, want %q", i, m.Name, tt.want[i])
				}
			}
		})
	}
}

func TestMentionOffsets(t *testing.T) {
	got := Mentions("hi\n@ada there")
	if len(got) != 1 {
		t.Fatalf("got %d mentions, want 1", len(got))
	}
	if got[0].Offset != 3 {
		t.Errorf("offset = %d, want 3", got[0].Offset)
	}
}

func TestShouldRespond(t *testing.T) {
	ada := AgentIdentity{ID: "ada", Name: "Ada"}

	tests := []struct {
		name    string
		sender  string
		content string
		want    bool
	}{
		{"own message", "ada", "anything", false},
		{"own message by name", "Ada", "anything", false},
		{"system always responds", "system", "announcement", true},
		{"empty sender is system", "", "announcement", true},
		{"human broadcast", "HUMAN", "hello everyone", true},
		{"human mention me", "HUMAN", "@ada what do you think?", true},
		{"human mention me case-insensitive", "HUMAN", "@Ada thoughts?", true},
		{"human mention other", "HUMAN", "@grace what do you think?", false},
		{"only first mention addresses", "HUMAN", "@grace talk to @ada", false},
		{"first mention mid-text addresses nobody", "HUMAN", "so anyway @ada should answer", false},
		{"paragraph-leading mention", "HUMAN", "context line\n@ada your turn", true},
		{"indented paragraph-leading mention", "HUMAN", "context line\n  @ada your turn", true},
		{"agent broadcast suppressed", "grace", "I think so too", false},
		{"agent mentions me", "grace", "@ada do you agree?", true},
		{"agent mentions other", "grace", "@turing do you agree?", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := MessageEvent{Sender: tt.sender, Content: tt.content}
			if got := ShouldRespond(ada, msg); got != tt.want {
				t.Errorf("ShouldRespond(%q from %q) = %v, want %v", tt.content, tt.sender, got, tt.want)
			}
		})
	}
}

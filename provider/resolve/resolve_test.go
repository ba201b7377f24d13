package resolve

import (
	"errors"
	"testing"

	"github.com/nevindra/agentworld"
)

func TestProviderSet(t *testing.T) {
	known := []struct {
		provider string
		wantName string
	}{
		{"openai", "openai"},
		{"ollama", "ollama"},
		{"xai", "xai"},
		{"openrouter", "openrouter"},
		{"anthropic", "anthropic"},
		{"google", "google"},
	}
	for _, tt := range known {
		p, err := Provider(agentworld.LLMConfig{Provider: tt.provider, Model: "m", APIKey: "k"})
		if err != nil {
			t.Errorf("%s: %v", tt.provider, err)
			continue
		}
		if p.Name() != tt.wantName {
			t.Errorf("%s: name = %q", tt.provider, p.Name())
		}
	}
}

func TestUnknownProviderFails(t *testing.T) {
	var verr *agentworld.ErrValidation
	_, err := Provider(agentworld.LLMConfig{Provider: "mystery"})
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestAzureRequiresBaseURL(t *testing.T) {
	if _, err := Provider(agentworld.LLMConfig{Provider: "azure", Model: "m"}); err == nil {
		t.Error("azure without baseUrl should fail")
	}
	p, err := Provider(agentworld.LLMConfig{Provider: "azure", Model: "m", BaseURL: "https://example.openai.azure.com", APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "azure" {
		t.Errorf("name = %q", p.Name())
	}
}

func TestResolverAdapter(t *testing.T) {
	r := Resolver()
	p, err := r.Resolve(agentworld.LLMConfig{Provider: "openai", Model: "m", APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("nil provider")
	}
}

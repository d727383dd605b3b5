package config

import (
	"strings"
)

const (
	DefaultBaseURL        = "https://api.deepseek.com/v1/chat/completions"
	DefaultModel          = "deepseek-reasoner"
	DefaultTemperature    = 0.7
	DefaultPromptTemplate = "Explain the following in plain, easy-to-understand language:\n\n{text}"

	// PromptPlaceholder is the single substitution point in a prompt template.
	PromptPlaceholder = "{text}"
)

// Settings is the user-editable upstream configuration. Zero fields mean
// "not set" and are filled from defaults by WithDefaults.
type Settings struct {
	APIKey         string   `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL        string   `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	PromptTemplate string   `json:"promptTemplate,omitempty" yaml:"promptTemplate,omitempty"`
}

func DefaultSettings() Settings {
	t := DefaultTemperature
	return Settings{
		BaseURL:        DefaultBaseURL,
		Model:          DefaultModel,
		Temperature:    &t,
		PromptTemplate: DefaultPromptTemplate,
	}
}

// IsEmpty reports whether no field at all was provided by a source.
func (s Settings) IsEmpty() bool {
	return strings.TrimSpace(s.APIKey) == "" &&
		strings.TrimSpace(s.BaseURL) == "" &&
		strings.TrimSpace(s.Model) == "" &&
		s.Temperature == nil &&
		strings.TrimSpace(s.PromptTemplate) == ""
}

// WithDefaults fills every unset field from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	s.APIKey = strings.TrimSpace(s.APIKey)
	if strings.TrimSpace(s.BaseURL) == "" {
		s.BaseURL = d.BaseURL
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = d.Model
	}
	if s.Temperature == nil {
		s.Temperature = d.Temperature
	}
	if strings.TrimSpace(s.PromptTemplate) == "" {
		s.PromptTemplate = d.PromptTemplate
	}
	return s
}

func (s Settings) TemperatureValue() float64 {
	if s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

// RenderPrompt substitutes text into the first placeholder of the template.
func (s Settings) RenderPrompt(text string) string {
	tpl := s.PromptTemplate
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultPromptTemplate
	}
	if !strings.Contains(tpl, PromptPlaceholder) {
		return tpl + "\n\n" + text
	}
	return strings.Replace(tpl, PromptPlaceholder, text, 1)
}

// Masked returns a copy safe to show in the settings UI.
func (s Settings) Masked() Settings {
	s.APIKey = MaskSecret(s.APIKey)
	return s
}

func MaskSecret(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

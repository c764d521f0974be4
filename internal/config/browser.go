package config

import "time"

// BrowserConfig configures the browser session. When DebuggerURL is set an
// existing browser is attached; otherwise one is launched.
type BrowserConfig struct {
	DebuggerURL       string          `yaml:"debugger_url"`
	Bin               string          `yaml:"bin"`   // empty = rod-managed download
	Flags             []string        `yaml:"flags"` // extra Chromium flags for launched browsers
	Headless          bool            `yaml:"headless"`
	UserDataDir       string          `yaml:"user_data_dir"`
	URL               string          `yaml:"url"`
	ViewportWidth     int             `yaml:"viewport_width"`
	ViewportHeight    int             `yaml:"viewport_height"`
	NavigationTimeout string          `yaml:"navigation_timeout"`
	Selectors         SelectorsConfig `yaml:"selectors"`
}

// SelectorsConfig holds the CSS selectors used to locate page elements.
type SelectorsConfig struct {
	Conversation string `yaml:"conversation"`
	ChatList     string `yaml:"chat_list"`
	TextInput    string `yaml:"text_input"`
	SendControl  string `yaml:"send_control"`
	// Attributes on entry elements
	IDAttribute     string `yaml:"id_attribute"`
	MarkerAttribute string `yaml:"marker_attribute"`
}

// DefaultBrowserConfig returns settings for WhatsApp Web.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:          false,
		UserDataDir:       "data/browser",
		URL:               "https://web.whatsapp.com",
		ViewportWidth:     1280,
		ViewportHeight:    900,
		NavigationTimeout: "60s",
		Selectors: SelectorsConfig{
			Conversation:    `#main [role="application"]`,
			ChatList:        `#pane-side [role="grid"]`,
			TextInput:       `#main footer [contenteditable="true"]`,
			SendControl:     `#main footer span[data-icon="send"]`,
			IDAttribute:     "data-id",
			MarkerAttribute: "data-pre-plain-text",
		},
	}
}

// GetNavigationTimeout returns the navigation timeout as a duration.
func (b BrowserConfig) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(b.NavigationTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

package models

type Settings struct {
	Language    string `json:"language" validate:"oneof=ar en"`
	Theme       string `json:"theme" validate:"oneof=light dark"`
	FontSize    string `json:"fontSize" validate:"oneof=small medium large"`
	StartupPage string `json:"startupPage" validate:"oneof=home last-session"`

	Temperature     float32 `json:"temperature" validate:"gte=0,lte=2"`
	TopK            int     `json:"topK" validate:"gte=1,lte=100"`
	TopP            float32 `json:"topP" validate:"gte=0,lte=1"`
	MaxOutputTokens int     `json:"maxOutputTokens" validate:"gte=1,lte=65536"`
	AutoCreateTitle bool    `json:"autoCreateTitle"`
	StreamingOutput bool    `json:"streamingOutput"`
	DisplayMarkdown bool    `json:"displayMarkdown"`
	ShowTimestamps  bool    `json:"showTimestamps"`
}

func DefaultSettings() Settings {
	return Settings{
		Language:        "ar",
		Theme:           "dark",
		FontSize:        "medium",
		StartupPage:     "home",
		Temperature:     0.5,
		TopK:            32,
		TopP:            0.95,
		MaxOutputTokens: 8192,
		AutoCreateTitle: true,
		StreamingOutput: true,
		DisplayMarkdown: true,
		ShowTimestamps:  false,
	}
}

func (s Settings) ChatParams() ChatParams {
	return ChatParams{
		Temperature:     s.Temperature,
		TopK:            s.TopK,
		TopP:            s.TopP,
		MaxOutputTokens: s.MaxOutputTokens,
	}
}

package models

import (
	"slices"
	"strings"
	"time"
)

type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

// InlineData is a base64 encoded binary part, usually an image.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is either text or inline data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func InlinePart(mimeType, base64Data string) Part {
	return Part{InlineData: &InlineData{MimeType: mimeType, Data: base64Data}}
}

func (p Part) IsImage() bool {
	return p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "image/")
}

type FileRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      ChatRole  `json:"role"`
	Parts     []Part    `json:"parts"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Files     []FileRef `json:"files,omitempty"`
}

type ChatSession struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	History           []ChatMessage `json:"history"`
	SystemInstruction string        `json:"systemInstruction,omitempty"`
	Pinned            bool          `json:"isPinned"`
	LastUpdated       time.Time     `json:"lastUpdated"`
}

func (s ChatSession) Clone() ChatSession {
	c := s
	c.History = make([]ChatMessage, len(s.History))
	for i, m := range s.History {
		m.Parts = slices.Clone(m.Parts)
		m.Files = slices.Clone(m.Files)
		c.History[i] = m
	}
	return c
}

func (s ChatSession) MessageIndex(id string) int {
	return slices.IndexFunc(s.History, func(m ChatMessage) bool { return m.ID == id })
}

// ChatParams are the sampling knobs forwarded to the Generation Service.
type ChatParams struct {
	Temperature     float32 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float32 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

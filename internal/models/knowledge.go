package models

import "time"

type KnowledgeItemType string

const (
	KnowledgeItemFile  KnowledgeItemType = "file"
	KnowledgeItemImage KnowledgeItemType = "image"
)

// KnowledgeItem is metadata only; the payload lives in the blob store under ID.
type KnowledgeItem struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Type        KnowledgeItemType `json:"type"`
	FileName    string            `json:"fileName"`
	FileType    string            `json:"fileType"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type KnowledgeBase struct {
	ID          string          `json:"id"`
	Name        string          `json:"name" validate:"required,max=120"`
	Description string          `json:"description" validate:"max=1000"`
	Items       []KnowledgeItem `json:"items"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// KnowledgeItemInput is what a caller supplies to add an item to a base.
type KnowledgeItemInput struct {
	Description string `json:"description" validate:"required,max=1000"`
	FileName    string `json:"fileName" validate:"required"`
	FileType    string `json:"fileType" validate:"required"`
	// Content is extracted text for documents or raw bytes for images.
	Content []byte `json:"-" validate:"required"`
}

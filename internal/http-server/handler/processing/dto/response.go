package dto

import (
	"encoding/json"
	"time"

	"image-pipeline/internal/domain"
)

type SubmitResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

type BatchItemResponse struct {
	Index  int            `json:"index"`
	TaskID string         `json:"taskId,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

type BatchResponse struct {
	Results []BatchItemResponse `json:"results"`
}

type TaskResponse struct {
	ID              string             `json:"id"`
	ImageID         string             `json:"imageId"`
	Status          string             `json:"status"`
	Operations      []domain.Operation `json:"operations"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
	ReprocessedFrom string             `json:"reprocessedFrom,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	StartedAt       *time.Time         `json:"startedAt,omitempty"`
	CompletedAt     *time.Time         `json:"completedAt,omitempty"`
}

type HistoryResponse struct {
	Tasks      []TaskResponse `json:"tasks"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
}

type ResultResponse struct {
	TaskID            string          `json:"taskId"`
	ImageID           string          `json:"imageId"`
	URL               string          `json:"url,omitempty"`
	OutputPath        string          `json:"outputPath"`
	OriginalSize      int64           `json:"originalSize"`
	Size              int64           `json:"size"`
	Width             int             `json:"width"`
	Height            int             `json:"height"`
	Format            string          `json:"format"`
	ProcessingTime    int64           `json:"processingTime"`
	FileSizeReduction float64         `json:"fileSizeReduction"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

package dto

import "image-pipeline/internal/domain"

type ProcessRequest struct {
	ImageID    string             `json:"imageId" validate:"required"`
	Operations []domain.Operation `json:"operations"`
}

type BatchRequest struct {
	Items []ProcessRequest `json:"items" validate:"required,min=1,max=50"`
}

type ReprocessRequest struct {
	Operations []domain.Operation `json:"operations,omitempty"`
}

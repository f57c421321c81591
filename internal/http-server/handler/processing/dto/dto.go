package dto

import (
	"image-pipeline/internal/domain"
)

func NewTaskResponse(t *domain.ProcessingTask) TaskResponse {
	ops := t.Options.Operations()
	if ops == nil {
		ops = []domain.Operation{}
	}
	return TaskResponse{
		ID:              t.ID,
		ImageID:         t.ImageID,
		Status:          string(t.State),
		Operations:      ops,
		ErrorMessage:    t.ErrorMessage,
		ReprocessedFrom: t.ReprocessedFrom,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
	}
}

func NewHistoryResponse(tasks []domain.ProcessingTask, page, limit, total int) HistoryResponse {
	resp := HistoryResponse{
		Tasks: make([]TaskResponse, 0, len(tasks)),
		Page:  page,
		Limit: limit,
		Total: total,
	}
	for i := range tasks {
		resp.Tasks = append(resp.Tasks, NewTaskResponse(&tasks[i]))
	}
	if limit > 0 {
		resp.TotalPages = (total + limit - 1) / limit
	}
	return resp
}

func NewResultResponse(r *domain.ProcessingResult, url string) (ResultResponse, error) {
	meta, err := domain.MarshalMetadata(r.Metadata)
	if err != nil {
		return ResultResponse{}, err
	}
	return ResultResponse{
		TaskID:            r.TaskID,
		ImageID:           r.ImageID,
		URL:               url,
		OutputPath:        r.OutputPath,
		OriginalSize:      r.OriginalSize,
		Size:              r.Size,
		Width:             r.Width,
		Height:            r.Height,
		Format:            string(r.Format),
		ProcessingTime:    r.ProcessingTimeMs,
		FileSizeReduction: r.FileSizeReduction,
		Metadata:          meta,
		CreatedAt:         r.CreatedAt,
	}, nil
}

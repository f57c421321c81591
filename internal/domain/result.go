package domain

import (
	"math"
	"time"
)

type ProcessingResult struct {
	ID                string
	TaskID            string
	ImageID           string
	UserID            string
	OutputPath        string
	OriginalSize      int64
	Size              int64
	Width             int
	Height            int
	Format            ImageFormat
	ProcessingTimeMs  int64
	FileSizeReduction float64
	Metadata          ImageMetadata
	CreatedAt         time.Time
}

// FileSizeReduction returns the percentage saved relative to the original
// size, rounded to two decimals. It is negative when the output grew.
func FileSizeReduction(originalSize, resultSize int64) float64 {
	if originalSize <= 0 {
		return 0
	}
	pct := float64(originalSize-resultSize) / float64(originalSize) * 100
	return math.Round(pct*100) / 100
}

// StatsRecord is the per-task projection the stats aggregator works on.
type StatsRecord struct {
	State             TaskState
	Format            ImageFormat
	ProcessingTimeMs  int64
	FileSizeReduction float64
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

type QueueStatus struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

type StatusBucket struct {
	Status TaskState `json:"status"`
	Count  int       `json:"count"`
}

type FormatBucket struct {
	Format ImageFormat `json:"format"`
	Count  int         `json:"count"`
}

type DailyBucket struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalProcessed           int            `json:"totalProcessed"`
	AverageProcessingTime    float64        `json:"averageProcessingTime"`
	AverageFileSizeReduction float64        `json:"averageFileSizeReduction"`
	StatusBreakdown          []StatusBucket `json:"statusBreakdown"`
	FormatBreakdown          []FormatBucket `json:"formatBreakdown"`
	DailyHistory             []DailyBucket  `json:"dailyHistory"`
}

const StatsHistoryDays = 30

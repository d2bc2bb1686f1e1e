package models

import "github.com/google/uuid"

// TaskStatus is the state of one file within an upload batch.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusUploading TaskStatus = "uploading"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusError     TaskStatus = "error"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// BatchStatus is the overall state of an upload batch.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// TaskSnapshot is the externally visible state of one upload task.
type TaskSnapshot struct {
	Index            int        `json:"index"`
	FileName         string     `json:"file_name"`
	Status           TaskStatus `json:"status"`
	BytesTotal       int64      `json:"bytes_total"`
	BytesTransferred int64      `json:"bytes_transferred"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StudyInstanceUID string     `json:"study_instance_uid,omitempty"`
}

// BatchCounts aggregates task states. Once a batch is terminal,
// Completed+Failed == TotalFiles and Pending == Uploading == 0.
type BatchCounts struct {
	TotalFiles int `json:"total_files"`
	Completed  int `json:"completed"`
	Uploading  int `json:"uploading"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
}

// BatchSnapshot is the pollable progress view of a batch.
type BatchSnapshot struct {
	ID      uuid.UUID      `json:"id"`
	Status  BatchStatus    `json:"status"`
	Percent int            `json:"percent"`
	Counts  BatchCounts    `json:"counts"`
	Tasks   []TaskSnapshot `json:"tasks"`
}

// BatchSummary is the result of a finished batch.
type BatchSummary struct {
	TotalFiles int      `json:"total_files"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Studies    []string `json:"studies"`
	Errors     []string `json:"errors,omitempty"`
}

package dto

import "github.com/cuongbtq/magnolia-webhooks/internal/domain"

type AcceptedResponse struct {
	Accepted  bool   `json:"accepted"`
	JobID     string `json:"jobId"`
	Duplicate bool   `json:"duplicate"`
}

type RetryJobRequest struct {
	JobID string `json:"jobId" binding:"required"`
}

type RetryJobResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Job     *domain.Job `json:"job"`
}

type ListFailedRequest struct {
	Limit int `form:"limit"`
}

type ListFailedResponse struct {
	Success    bool               `json:"success"`
	FailedJobs []domain.Job       `json:"failedJobs"`
	QueueStats *domain.QueueStats `json:"queueStats"`
}

type ProcessorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Running bool   `json:"running"`
	Changed bool   `json:"changed"`
}

type ListEventsRequest struct {
	Topic      string `form:"topic"`
	ExternalID string `form:"externalId"`
	Status     string `form:"status"`
	Limit      int    `form:"limit"`
	Cursor     string `form:"cursor"`
}

type ListEventsResponse struct {
	Events     []domain.WebhookEvent `json:"events"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

type HealthResponse struct {
	Status           string   `json:"status"`
	Store            string   `json:"store"`
	SecretConfigured bool     `json:"secretConfigured"`
	WorkerRunning    bool     `json:"workerRunning"`
	Topics           []string `json:"topics"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

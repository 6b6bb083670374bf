// Package store 保存每次生成请求的任务记录。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/ksuid"
)

var ErrJobNotFound = errors.New("job not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job 一次生成请求的记录
type Job struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	RemoveBackground bool     `json:"remove_background"`
	ForegroundRatio  float64  `json:"foreground_ratio"`
	Resolution       int      `json:"mc_resolution"`
	Formats          []string `json:"formats"`

	ProcessedImage string   `json:"processed_image,omitempty"`
	Files          []string `json:"files,omitempty"`
	ErrorKind      string   `json:"error_kind,omitempty"`
	Error          string   `json:"error,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// NewJob 生成一个 pending 状态的新任务
func NewJob(now time.Time) *Job {
	return &Job{
		ID:        ksuid.New().String(),
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Finish 根据执行结果设置终态
func (j *Job) Finish(now time.Time, kind string, err error) {
	j.FinishedAt = now
	if err != nil {
		j.Status = StatusFailed
		j.ErrorKind = kind
		j.Error = err.Error()
		return
	}
	j.Status = StatusSucceeded
}

type Store interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Close() error
}

package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/qbitworks/simq/internal/repository"
	"github.com/qbitworks/simq/pkg/domain"
)

// StatusView is the fully resolved client-facing answer for one poll.
type StatusView struct {
	HTTPStatus int
	Body       domain.TaskStatusResponse
}

// StatusService maps internal task state to the client-facing protocol. The
// PENDING/RUNNING distinction is deliberately collapsed here, at the
// boundary, not by removing the internal states. Pure read, safe to call
// arbitrarily often.
type StatusService interface {
	Status(ctx context.Context, taskID string) (StatusView, error)
}

type statusService struct {
	repo repository.TaskRepository
}

func NewStatusService(repo repository.TaskRepository) StatusService {
	return &statusService{repo: repo}
}

func (s *statusService) Status(ctx context.Context, taskID string) (StatusView, error) {
	task, err := s.repo.Get(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return StatusView{
			HTTPStatus: http.StatusNotFound,
			Body:       domain.TaskStatusResponse{Status: "error", Message: "Task not found."},
		}, nil
	}
	if err != nil {
		return StatusView{}, err
	}

	switch task.Status {
	case domain.StatusCompleted:
		result := task.Result
		if result == nil {
			result = map[string]int{}
		}
		return StatusView{
			HTTPStatus: http.StatusOK,
			Body:       domain.TaskStatusResponse{Status: "completed", Result: result},
		}, nil
	case domain.StatusError:
		msg := task.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return StatusView{
			HTTPStatus: http.StatusOK,
			Body:       domain.TaskStatusResponse{Status: "error", Message: msg},
		}, nil
	default: // PENDING and RUNNING collapse into one externally visible state
		return StatusView{
			HTTPStatus: http.StatusOK,
			Body:       domain.TaskStatusResponse{Status: "pending", Message: "Task is still in progress."},
		}, nil
	}
}

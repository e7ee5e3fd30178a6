package controllers

import (
	"net/http"

	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/util"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/models"
)

type TasksController struct {
	AuthController
	Operator OperatorService
}

func NewTasksController(operator OperatorService, userRepo engine.UserRepo) *TasksController {
	return &TasksController{Operator: operator, AuthController: *NewBaseController(userRepo)}
}

// handleUpdateTaskStatus is how operators retry, stop or force a task.
func (c *TasksController) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.UpdateStatusRequest](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := c.Operator.UpdateTaskStatus(r.Context(), r.PathValue("id"), status, username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, t)
}

func (c *TasksController) handleViewLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log, err := c.Operator.ViewLog(id)
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.TaskLogResponse{TaskID: id, Log: log})
}

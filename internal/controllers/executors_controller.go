package controllers

import (
	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/util"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/models"
)

type ExecutorsController struct {
	AuthController
	ExecutorsRepo engine.ExecutorRepo
}

func NewExecutorsController(executorRepo engine.ExecutorRepo, userRepo engine.UserRepo) *ExecutorsController {
	return &ExecutorsController{ExecutorsRepo: executorRepo, AuthController: *NewBaseController(userRepo)}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	results, err := c.ExecutorsRepo.GetExecutorsByLastActive(20)
	if err != nil {
		slog.Error("Failed to search executors", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load executors"})
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}

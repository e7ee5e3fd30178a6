package controllers

import (
	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/util"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/models"
)

type ActionsController struct {
	AuthController
	MachineActionRepo engine.MachineActionRepo
}

func NewActionsController(machineActionRepo engine.MachineActionRepo, userRepo engine.UserRepo) *ActionsController {
	return &ActionsController{MachineActionRepo: machineActionRepo, AuthController: *NewBaseController(userRepo)}
}

func (c *ActionsController) handleGetActionsForMachine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		badRequest(w, "id is required")
		return
	}
	results, err := c.MachineActionRepo.FindAllByMachineID(id)
	if err != nil {
		slog.Error("Failed to load machine actions", "error", err, "machine_id", id)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load actions"})
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}

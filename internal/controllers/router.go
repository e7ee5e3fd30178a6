package controllers

import "net/http"

func (c *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", c.handleLogin)
	mux.HandleFunc("POST /api/logout", c.RequireAuth(c.handleLogout))
}

func (c *MachinesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/machines", c.RequireAuth(c.handleSearchMachines))
	mux.HandleFunc("POST /api/machines/run", c.RequireAuth(c.handleCreateRun))
	mux.HandleFunc("POST /api/machines/aggregation", c.RequireAuth(c.handleCreateAggregation))
	mux.HandleFunc("POST /api/machines/upload", c.RequireAuth(c.handleCreateUpload))
	mux.HandleFunc("POST /api/machines/topoff", c.RequireAuth(c.handleCreateTopOff))
	mux.HandleFunc("POST /api/machines/triage", c.RequireAuth(c.handleCreateTriage))
	mux.HandleFunc("GET /api/machines/{id}", c.RequireAuth(c.handleGetMachine))
	mux.HandleFunc("GET /api/machines/{id}/flowchart", c.RequireAuth(c.handleFlowChart))
	mux.HandleFunc("POST /api/machines/{id}/status", c.RequireAuth(c.handleUpdateMachineStatus))
	mux.HandleFunc("POST /api/machines/{id}/resume", c.RequireAuth(c.handleResume))
	mux.HandleFunc("GET /api/machines/{id}/topoff", c.RequireAuth(c.handleTopOffView))
	mux.HandleFunc("GET /api/machines/{id}/triage", c.RequireAuth(c.handleTriageView))
	mux.HandleFunc("POST /api/machines/{id}/samples/move", c.RequireAuth(c.handleMoveSamples))
	mux.HandleFunc("POST /api/machines/{id}/poolgroups", c.RequireAuth(c.handleCreatePoolGroup))
}

func (c *TasksController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tasks/{id}/status", c.RequireAuth(c.handleUpdateTaskStatus))
	mux.HandleFunc("GET /api/tasks/{id}/log", c.RequireAuth(c.handleViewLog))
}

func (c *ActionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/actions/byMachineId/{id}", c.RequireAuth(c.handleGetActionsForMachine))
}

func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.RequireAuth(c.handleGetExecutors))
}

func (c *UsersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", c.RequireAuth(c.handleGetUsers))
	mux.HandleFunc("POST /api/users", c.RequireAuth(c.handleCreateUser))
	mux.HandleFunc("GET /api/users/{id}", c.RequireAuth(c.handleGetUserById))
	mux.HandleFunc("DELETE /api/users/{id}", c.RequireAuth(c.handleDeleteUser))
}

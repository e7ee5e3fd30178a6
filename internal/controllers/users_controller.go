package controllers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/util"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/models"
	"golang.org/x/crypto/bcrypt"
)

type UsersController struct {
	AuthController
}

func NewUsersController(userRepo engine.UserRepo) *UsersController {
	return &UsersController{AuthController: *NewBaseController(userRepo)}
}

func (c *UsersController) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := c.UserRepo.FindAll()
	if err != nil {
		slog.Error("Failed to get users", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get users"})
		return
	}
	for _, u := range users {
		u.Password = ""
	}
	util.WriteJSONResponse(w, http.StatusOK, users)
}

// handleCreateUser stores the bcrypt hash of the given password.
func (c *UsersController) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateUserRequest](r)
	if err != nil {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid user data"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "username and password are required"})
		return
	}
	existing, err := c.UserRepo.FindByUsername(req.Username)
	if err != nil {
		slog.Error("Failed to look up user", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create user"})
		return
	}
	if existing != nil {
		util.WriteJSONResponse(w, http.StatusConflict, models.ErrorResponse{Error: "username already exists"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create user"})
		return
	}
	user := &internal.User{
		Username: req.Username,
		Password: string(hash),
		ApiKey:   sql.NullString{String: req.ApiKey, Valid: req.ApiKey != ""},
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	}
	if _, err := c.UserRepo.Save(user); err != nil {
		slog.Error("Failed to create user", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create user"})
		return
	}
	slog.Info("User created", "username", user.Username, "by", username(r))
	created := *user
	created.Password = ""
	util.WriteJSONResponse(w, http.StatusCreated, created)
}

func (c *UsersController) handleGetUserById(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid user ID"})
		return
	}
	user, err := c.UserRepo.FindById(id)
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get user"})
		return
	}
	if user == nil {
		util.WriteJSONResponse(w, http.StatusNotFound, models.ErrorResponse{Error: "User not found"})
		return
	}
	user.Password = ""
	util.WriteJSONResponse(w, http.StatusOK, user)
}

func (c *UsersController) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid user ID"})
		return
	}
	if err := c.UserRepo.DeleteById(id); err != nil {
		slog.Error("Failed to delete user", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to delete user"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

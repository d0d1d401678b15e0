package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ltmoamin/RentalCar/internal/auth"
	"github.com/ltmoamin/RentalCar/internal/models"
)

type AdminHandler struct {
	authService *auth.AuthService
}

func NewAdminHandler(authService *auth.AuthService) *AdminHandler {
	return &AdminHandler{authService: authService}
}

type AddUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type AddUserResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Email   string `json:"email,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	name := req.Name
	if name == "" {
		name = req.Email
	}

	role := models.RoleUser
	if req.Role == string(models.RoleAdmin) {
		role = models.RoleAdmin
	}

	creds, err := h.authService.AddUser(req.Email, name, req.Password, role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		Success: true,
		UserID:  creds.ID,
		Email:   creds.Email,
	})
}

package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ltmoamin/RentalCar/internal/api"
	"github.com/ltmoamin/RentalCar/internal/config"
)

// AddUser provisions a user through the admin listener of a running
// server instance.
func AddUser(email, name, password, role string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.AddUserRequest{
		Email:    email,
		Name:     name,
		Password: password,
		Role:     role,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Email:   %s\n", result.Email)
	fmt.Printf("User ID: %s\n", result.UserID)
	return nil
}

package controllers

import (
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// AuthController guards the API with a single shared key stored as a bcrypt
// hash. Without a hash the API is open.
type AuthController struct {
	apiKeyHash []byte
}

func NewAuthController(apiKeyHash string) AuthController {
	if apiKeyHash == "" {
		slog.Warn("RPA_API_KEY_HASH is not set, the HTTP API accepts unauthenticated requests")
		return AuthController{}
	}
	return AuthController{apiKeyHash: []byte(apiKeyHash)}
}

func (a AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(a.apiKeyHash) == 0 {
			next(w, r)
			return
		}
		apiKey := r.Header.Get(apiKeyHeader)
		if apiKey == "" {
			writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "missing "+apiKeyHeader+" header")
			return
		}
		if err := bcrypt.CompareHashAndPassword(a.apiKeyHash, []byte(apiKey)); err != nil {
			slog.Warn("Rejected API request with invalid key", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		next(w, r)
	}
}

// HashAPIKey produces the value for RPA_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("api key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

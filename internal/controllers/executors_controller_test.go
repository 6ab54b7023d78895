package controllers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorsController_GetExecutors(t *testing.T) {
	var gotLimit int
	store := &MockExecutorStore{GetExecutorsByLastActiveFunc: func(limit int) ([]*domain.Executor, error) {
		gotLimit = limit
		return []*domain.Executor{{ID: 1, Name: "executor1"}}, nil
	}}
	c := NewExecutorsController(NewAuthController(""), store)

	w := serve(c.handleGetExecutors, http.MethodGet, "/api/executors", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, gotLimit)

	var executors []models.ExecutorApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &executors))
	require.Len(t, executors, 1)
	assert.Equal(t, "executor1", executors[0].Name)

	w = serve(c.handleGetExecutors, http.MethodGet, "/api/executors?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_RequireKey(t *testing.T) {
	hash, err := HashAPIKey("k")
	require.NoError(t, err)
	store := &MockExecutorStore{GetExecutorsByLastActiveFunc: func(int) ([]*domain.Executor, error) { return nil, nil }}
	mux := http.NewServeMux()
	NewExecutorsController(NewAuthController(hash), store).RegisterRoutes(mux)

	w := serve(mux.ServeHTTP, http.MethodGet, "/api/executors", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(mux.ServeHTTP, http.MethodPost, "/api/executors", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

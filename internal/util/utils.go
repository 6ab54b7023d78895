package util

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// MaxBodyBytes limits request bodies read by the API.
const MaxBodyBytes = 1 << 20

// ErrEmptyBody is returned by DecodeJSONBody when the request has no body.
var ErrEmptyBody = errors.New("request body is empty")

// ReadBody reads at most MaxBodyBytes of the request body.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body error: %w", err)
	}
	return body, nil
}

func DecodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var data T
	body, err := ReadBody(w, r)
	if err != nil {
		return data, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return data, ErrEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		return data, fmt.Errorf("json unmarshal error: %w", err)
	}
	return data, nil
}

func DecodeJSONBodyResponse[T any](r *http.Response) (T, error) {
	defer r.Body.Close()
	var data T
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return data, fmt.Errorf("read body error: %w", err)
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return data, fmt.Errorf("json unmarshal error (status %d): %w", r.StatusCode, err)
	}
	return data, nil
}

func WriteJSONResponse[T any](w http.ResponseWriter, status int, data T) {
	writeJSON(w, "application/json", status, data)
}

// WriteProblemResponse writes an RFC 7807 body.
func WriteProblemResponse[T any](w http.ResponseWriter, status int, problem T) {
	writeJSON(w, "application/problem+json", status, problem)
}

func writeJSON(w http.ResponseWriter, contentType string, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

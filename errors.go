/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// The four failure classes every gateway action can report. Channel-level
// delivery failures never surface here; those are recovered by detaching
// the channel.
var (
	errNotFound      = errors.New("not found")
	errAuthorization = errors.New("access denied")
	errCapacity      = errors.New("no free seats")
	errMalformed     = errors.New("unable to process request")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errAuthorization):
		return http.StatusForbidden
	case errors.Is(err, errCapacity):
		return http.StatusConflict
	case errors.Is(err, errMalformed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func respondJSON(cfg *Config, w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	securityHeaders(cfg, w)
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps a taxonomy error onto its HTTP status. message may be
// empty, in which case the error text itself is used.
func respondError(cfg *Config, w http.ResponseWriter, err error, message string) {
	if message == "" {
		message = err.Error()
	}

	respondJSON(cfg, w, statusFor(err), errorResponse{Message: message})
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

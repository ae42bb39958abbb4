// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/callstream/internal/channel"
	"github.com/tomtom215/callstream/internal/livefeed"
	"github.com/tomtom215/callstream/internal/playback"
	"github.com/tomtom215/callstream/internal/subscription"
)

// Error codes for API responses
const (
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeTooManyRequests     = "TOO_MANY_REQUESTS"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeStoreError          = "STORE_ERROR"
	ErrCodeExternalServiceFail = "EXTERNAL_SERVICE_FAILED"
)

// classify maps a domain error to a status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, livefeed.ErrUnknownCall):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, playback.ErrNotPlayable):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, subscription.ErrDenied):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, channel.ErrTransport):
		return http.StatusBadGateway, ErrCodeExternalServiceFail
	case errors.Is(err, subscription.ErrStore):
		return http.StatusInternalServerError, ErrCodeStoreError
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

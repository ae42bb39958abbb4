// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/callstream/internal/validation"
)

// maxBodyBytes bounds request bodies; every body here is a few bytes.
const maxBodyBytes = 4 << 10

// VolumeRequest is the body of PUT /player/volume. Out-of-range values are
// clamped by the player.
type VolumeRequest struct {
	Volume *int `json:"volume" validate:"required"`
}

// TalkgroupParam is the validated {id} of a talkgroup route.
type TalkgroupParam struct {
	ID int64 `validate:"gt=0"`
}

// decodeAndValidate reads a JSON body into v and validates it. On failure
// it has already responded.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", err)
		return false
	}
	return validateRequest(w, r, v)
}

func validateRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	err := validation.ValidateStruct(v)
	if err == nil {
		return true
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, verr.Error(), nil)
		return false
	}
	respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "validation failed", err)
	return false
}

// talkgroupParam parses the {id} route parameter.
func talkgroupParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "talkgroup id must be an integer", nil)
		return 0, false
	}
	if !validateRequest(w, r, &TalkgroupParam{ID: id}) {
		return 0, false
	}
	return id, true
}

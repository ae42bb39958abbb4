// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package validation

import (
	"errors"
	"strings"
	"testing"
)

type volumeRequest struct {
	Volume *int `validate:"required,min=0,max=100"`
}

type transportRequest struct {
	Kind string `validate:"oneof=websocket nats"`
	URL  string `validate:"required,url"`
}

func intPtr(v int) *int { return &v }

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   interface{}
		wantErr bool
		wantTag string
	}{
		{"volume in range", &volumeRequest{Volume: intPtr(40)}, false, ""},
		{"volume zero", &volumeRequest{Volume: intPtr(0)}, false, ""},
		{"volume missing", &volumeRequest{}, true, "required"},
		{"volume too high", &volumeRequest{Volume: intPtr(101)}, true, "max"},
		{"volume negative", &volumeRequest{Volume: intPtr(-1)}, true, "min"},
		{"transport ok", &transportRequest{Kind: "nats", URL: "nats://localhost:4222"}, false, ""},
		{"transport bad kind", &transportRequest{Kind: "grpc", URL: "http://x"}, true, "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateStruct(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}

			var vErr *Error
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if vErr.Fields[0].Tag != tt.wantTag {
				t.Errorf("tag = %q, want %q", vErr.Fields[0].Tag, tt.wantTag)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&transportRequest{Kind: "grpc"})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "must be one of: websocket nats") {
		t.Errorf("missing oneof message: %s", msg)
	}
	if !strings.Contains(msg, "is required") {
		t.Errorf("missing required message: %s", msg)
	}
}

func TestGetValidatorSingleton(t *testing.T) {
	t.Parallel()

	if GetValidator() != GetValidator() {
		t.Error("expected the same validator instance")
	}
}

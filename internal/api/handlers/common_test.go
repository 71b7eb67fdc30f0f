package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sitesafe/ptwcore/internal/requirements"
	"github.com/sitesafe/ptwcore/internal/service"
)

func TestServiceErrorCategories(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name: "unmet requirements",
			err: &service.RequirementsError{Action: "activation", Unmet: []requirements.Unmet{
				{Key: "isolation", Message: "required points not verified"},
			}},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "requirements_error",
		},
		{
			name:       "extension limit",
			err:        &service.ExtensionLimitError{Max: 2},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "extension_limit_exceeded",
		},
		{
			name:       "version conflict",
			err:        &service.VersionConflictError{ServerVersion: 4, Fields: []string{"status"}},
			wantStatus: http.StatusConflict,
			wantError:  "version_conflict",
		},
		{
			name:       "not found",
			err:        service.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			respondServiceError(c, tc.err)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != tc.wantError {
				t.Errorf("error = %q, want %q", body.Error, tc.wantError)
			}
		})
	}
}

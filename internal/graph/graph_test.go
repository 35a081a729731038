package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch-go/internal/auth"
)

// staticTokens hands out one access token for any user.
type staticTokens struct{ token string }

func (s staticTokens) EnsureValid(context.Context, string, time.Duration) (*auth.TokenRecord, error) {
	return &auth.TokenRecord{AccessToken: s.token, TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func TestClient_Photo(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
		wantErr     error
		anyErr      bool
	}{
		{
			name:        "jpeg photo",
			status:      http.StatusOK,
			contentType: "image/jpeg",
			body:        "abc",
			want:        "data:image/jpeg;base64,YWJj",
		},
		{
			name:    "no photo",
			status:  http.StatusNotFound,
			wantErr: ErrNoPhoto,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(auth.NewClient(staticTokens{token: "AT1"}, server.Client()), server.URL+"/")
			got, err := client.Photo(context.Background(), "alice")

			assert.Equal(t, "/v1.0/me/photo/$value", gotPath)
			assert.Equal(t, "Bearer AT1", gotAuth)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

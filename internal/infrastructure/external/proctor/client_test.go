package proctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/shared"
	"github.com/caretrack/competency-hub/pkg/amx"
)

const testAPIKey = "cHJvdmlkZXItc2hhcmVkLXNlY3JldA=="

func testCredential() agency.ProviderCredential {
	return agency.ProviderCredential{AppID: "app-1", APIKey: testAPIKey}
}

func TestFetchStatusSignsRequest(t *testing.T) {
	var gotAuth string
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{
			"courseid":              r.URL.Query().Get("courseid"),
			"activityid":            r.URL.Query().Get("activityid"),
			"participantidentifier": r.URL.Query().Get("participantidentifier"),
		}
		_, _ = w.Write([]byte(`{"Status": "Valid", "Sessions": []}`))
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL))
	raw, err := client.FetchStatus(context.Background(), testCredential(), "exam-7", 42, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Valid", raw)

	assert.Equal(t, "exam-7", gotQuery["courseid"])
	assert.Equal(t, "42", gotQuery["activityid"])
	assert.Equal(t, "user-1", gotQuery["participantidentifier"])

	header, err := amx.ParseHeader(gotAuth)
	require.NoError(t, err)
	assert.Equal(t, "app-1", header.AppID)

	uri := server.URL + "?activityid=42&courseid=exam-7&participantidentifier=user-1"
	assert.True(t, amx.Verify("app-1", testAPIKey, http.MethodGet, uri,
		header.Timestamp, header.Nonce, header.Signature))
}

func TestFetchStatusSessionResolution(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no sessions falls back to top level",
			body: `{"Status": "Valid", "Sessions": []}`,
			want: "Valid",
		},
		{
			name: "latest session wins",
			body: `{"Status": "Valid", "Sessions": [
				{"Start": "2026-01-01T10:00:00Z", "End": "2026-01-01T11:00:00Z", "Status": "Valid"},
				{"Start": "2026-01-02T10:00:00Z", "End": "2026-01-02T11:00:00Z", "Status": "Invalid"}
			]}`,
			want: "Invalid",
		},
		{
			name: "override supersedes session status",
			body: `{"Status": "Valid", "Sessions": [
				{"Start": "2026-01-02T10:00:00Z", "End": "2026-01-02T11:00:00Z", "Status": "Invalid",
				 "Override_Date": "2026-01-03T09:00:00Z", "Override_Status": "Valid"}
			]}`,
			want: "Valid",
		},
		{
			name: "override on stale session is ignored",
			body: `{"Status": "Valid", "Sessions": [
				{"Start": "2026-01-01T10:00:00Z", "End": "2026-01-01T11:00:00Z", "Status": "Valid",
				 "Override_Date": "2026-01-03T09:00:00Z", "Override_Status": "Invalid"},
				{"Start": "2026-01-02T10:00:00Z", "End": "2026-01-02T11:00:00Z", "Status": "Valid"}
			]}`,
			want: "Valid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(DefaultClientConfig(server.URL))
			raw, err := client.FetchStatus(context.Background(), testCredential(), "exam-1", 1, "user-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, raw)
		})
	}
}

func TestFetchStatusClientError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL))
	_, err := client.FetchStatus(context.Background(), testCredential(), "exam-1", 1, "user-1")
	assert.ErrorIs(t, err, shared.ErrProctorInvalidResponse)
	assert.Equal(t, 1, calls, "4xx must not be retried")
}

func TestFetchStatusRetriesServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"Status": "Valid"}`))
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL))
	raw, err := client.FetchStatus(context.Background(), testCredential(), "exam-1", 1, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Valid", raw)
	assert.Equal(t, 3, calls)
}

func TestFetchStatusMissingCredential(t *testing.T) {
	client := NewClient(DefaultClientConfig("http://provider.invalid"))
	_, err := client.FetchStatus(context.Background(), agency.ProviderCredential{}, "exam-1", 1, "user-1")
	assert.ErrorIs(t, err, shared.ErrCredentialMissing)
}

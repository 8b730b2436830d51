package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatchSkipsWhenTokenMissing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := New(srv.URL, 2*time.Second, nil)
	d.lookupEnv = func(string) (string, bool) { return "", false }

	resp, err := d.Dispatch(context.Background(), Descriptor{GroupName: "g", ProjectName: "p"}, nil, nil)
	require.NoError(t, err)
	require.True(t, resp.Skipped)
	require.False(t, resp.OK)
	require.False(t, called)
}

func TestDispatchEscapesSubgroupPath(t *testing.T) {
	var gotPath string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(srv.URL, 2*time.Second, nil)
	d.lookupEnv = func(key string) (string, bool) {
		if key == "g_sub_sub2_proj" {
			return "tok", true
		}
		return "", false
	}

	resp, err := d.Dispatch(context.Background(), Descriptor{GroupName: "g", ProjectName: "sub/sub2/proj"}, map[string]any{}, map[string]any{})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Contains(t, gotPath, "g%2Fsub%2Fsub2%2Fproj")
	require.Equal(t, "tok", body["token"])
	require.Equal(t, "main", body["ref"])
}

func TestDispatchUserRefOverridesDefault(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(srv.URL, 2*time.Second, nil)
	d.lookupEnv = func(string) (string, bool) { return "tok", true }

	_, err := d.Dispatch(context.Background(), Descriptor{GroupName: "g", ProjectName: "p", DefaultRef: "develop"}, map[string]any{"ref": "feature-x"}, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "feature-x", body["ref"])
}

func TestDispatchOmitsPayloadAndVariablesWhenRequested(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(srv.URL, 2*time.Second, nil)
	d.lookupEnv = func(string) (string, bool) { return "tok", true }

	_, err := d.Dispatch(context.Background(), Descriptor{GroupName: "g", ProjectName: "p", OmitPayload: true, OmitUserInputs: true}, map[string]any{"a": "b"}, map[string]any{"x": 1})
	require.NoError(t, err)
	require.NotContains(t, body, "port_payload")
	require.NotContains(t, body, "variables")
}

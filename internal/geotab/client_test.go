package geotab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleet-etl/pkg/config"
	"github.com/sirupsen/logrus"
)

type rpcRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// rpcServer is a scripted JSON-RPC endpoint that records every request
type rpcServer struct {
	t        *testing.T
	handler  func(req rpcRequest) interface{}
	requests []rpcRequest
	srv      *httptest.Server
}

func newRPCServer(t *testing.T, handler func(req rpcRequest) interface{}) *rpcServer {
	s := &rpcServer{t: t, handler: handler}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/apiv1", r.URL.Path)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.requests = append(s.requests, req)

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(s.handler(req)))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func newTestClient(server string) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewClient(&config.GeotabConfig{
		Server:   server,
		Database: "fleetdb",
		Username: "svc@example.com",
		Password: "secret",
		Timeout:  5 * time.Second,
	}, logger)
}

func authResult(path string) map[string]interface{} {
	return map[string]interface{}{
		"result": map[string]interface{}{
			"credentials": map[string]interface{}{
				"database":  "fleetdb",
				"userName":  "svc@example.com",
				"sessionId": "session-1",
			},
			"path": path,
		},
	}
}

func TestClientAuthenticatesLazilyAndFetchesTrips(t *testing.T) {
	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stop := from.Add(30 * time.Minute)

	server := newRPCServer(t, func(req rpcRequest) interface{} {
		switch req.Method {
		case "Authenticate":
			assert.Equal(t, "fleetdb", req.Params["database"])
			assert.Equal(t, "svc@example.com", req.Params["userName"])
			return authResult("ThisServer")
		case "Get":
			assert.Equal(t, "Trip", req.Params["typeName"])
			assert.Equal(t, float64(500), req.Params["resultsLimit"])

			creds, ok := req.Params["credentials"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "session-1", creds["sessionId"])

			search, ok := req.Params["search"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, from.Format(time.RFC3339), search["fromDate"])

			return map[string]interface{}{
				"result": []map[string]interface{}{
					{"id": "trip-1", "stop": stop.Format(time.RFC3339Nano), "distance": 12345.6},
				},
			}
		default:
			t.Fatalf("unexpected method %q", req.Method)
			return nil
		}
	})

	client := newTestClient(server.srv.URL)
	trips, err := client.GetTrips(context.Background(), from, 500)
	require.NoError(t, err)

	require.Len(t, trips, 1)
	assert.Equal(t, "trip-1", trips[0].ID)
	require.NotNil(t, trips[0].Stop)
	assert.True(t, trips[0].Stop.Equal(stop))
	require.NotNil(t, trips[0].Distance)
	assert.Equal(t, 12345.6, *trips[0].Distance)
	assert.NotEmpty(t, trips[0].Raw)

	// Lazy auth: exactly one Authenticate before the Get
	require.Len(t, server.requests, 2)
	assert.Equal(t, "Authenticate", server.requests[0].Method)
	assert.Equal(t, "Get", server.requests[1].Method)
}

func TestClientReauthenticatesOnExpiredSession(t *testing.T) {
	authCalls := 0
	getCalls := 0

	server := newRPCServer(t, func(req rpcRequest) interface{} {
		switch req.Method {
		case "Authenticate":
			authCalls++
			return authResult("ThisServer")
		case "Get":
			getCalls++
			if getCalls == 1 {
				return map[string]interface{}{
					"error": map[string]interface{}{
						"message": "session expired",
						"errors": []map[string]interface{}{
							{"name": "InvalidUserException", "message": "session expired"},
						},
					},
				}
			}
			return map[string]interface{}{
				"result": []map[string]interface{}{{"id": "device-1", "name": "Truck 7"}},
			}
		default:
			t.Fatalf("unexpected method %q", req.Method)
			return nil
		}
	})

	client := newTestClient(server.srv.URL)
	devices, err := client.GetDevices(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, authCalls)
	assert.Equal(t, 2, getCalls)
	require.Len(t, devices, 1)
	assert.Equal(t, "device-1", devices[0].ID)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		if req.Method == "Authenticate" {
			return authResult("ThisServer")
		}
		return map[string]interface{}{
			"error": map[string]interface{}{
				"message": "boom",
				"errors": []map[string]interface{}{
					{"name": "DbUnavailableException", "message": "database offline"},
				},
			},
		}
	})

	client := newTestClient(server.srv.URL)
	_, err := client.GetZones(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DbUnavailableException")
	assert.Contains(t, err.Error(), "database offline")
}

func TestClientAuthenticateFailure(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"error": map[string]interface{}{
				"message": "bad credentials",
			},
		}
	})

	client := newTestClient(server.srv.URL)
	_, err := client.GetUsers(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestClientSessionCachedAcrossCalls(t *testing.T) {
	authCalls := 0
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		if req.Method == "Authenticate" {
			authCalls++
			return authResult("ThisServer")
		}
		return map[string]interface{}{"result": []map[string]interface{}{}}
	})

	client := newTestClient(server.srv.URL)
	ctx := context.Background()

	_, err := client.GetRules(ctx)
	require.NoError(t, err)
	_, err = client.GetZones(ctx)
	require.NoError(t, err)
	_, err = client.GetFaults(ctx, time.Now().UTC(), 500)
	require.NoError(t, err)

	assert.Equal(t, 1, authCalls)
}

func TestFaultSeverityPrefersEffectiveStatus(t *testing.T) {
	f := &Fault{FaultState: "Active"}
	assert.Equal(t, "Active", f.Severity())
	assert.True(t, f.IsActive())

	f.FaultStates = &FaultStates{EffectiveStatus: "Cleared"}
	assert.Equal(t, "Cleared", f.Severity())

	inactive := &Fault{FaultState: "Inactive"}
	assert.False(t, inactive.IsActive())
}

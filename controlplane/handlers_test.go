// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/controlplane/deployment"
	"axonflow/controlplane/tier"
)

type serviceFixture struct {
	*routerFixture
	server *httptest.Server
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	rf := newRouterFixture(t)
	svc := NewService(rf.router, rf.store)

	r := mux.NewRouter()
	svc.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &serviceFixture{routerFixture: rf, server: srv}
}

func (f *serviceFixture) do(t *testing.T, method, path, userID string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	decoded := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHandleHealth(t *testing.T) {
	f := newServiceFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleSubmit_Accepted(t *testing.T) {
	f := newServiceFixture(t)
	f.subscribe("user-1", tier.Personal)

	resp, body := f.do(t, http.MethodPost, "/api/v1/deployments", "user-1", platformRequest())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, body["deployment_id"])
	assert.Equal(t, string(deployment.StatusCreating), body["status"])
}

func TestHandleSubmit_DenialMapsToTaxonomy(t *testing.T) {
	f := newServiceFixture(t)
	// Freemium caller asking for bedrock.

	resp, body := f.do(t, http.MethodPost, "/api/v1/deployments", "user-1", platformRequest())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, CodeProviderNotAllowed, errObj["code"])
	assert.NotEmpty(t, errObj["hint"])
}

func TestHandleSubmit_MissingWorkloadName(t *testing.T) {
	f := newServiceFixture(t)
	req := platformRequest()
	req.WorkloadName = ""

	resp, _ := f.do(t, http.MethodPost, "/api/v1/deployments", "user-1", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGet_OwnershipChecks(t *testing.T) {
	f := newServiceFixture(t)
	rec := deployment.NewRecord("dep-1", "agent-1", "user-1", "personal")
	require.NoError(t, f.store.Create(rec))

	resp, body := f.do(t, http.MethodGet, "/api/v1/deployments/dep-1", "user-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dep-1", body["id"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/deployments/dep-1", "intruder", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/deployments/dep-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/deployments/missing", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleLogs(t *testing.T) {
	f := newServiceFixture(t)
	rec := deployment.NewRecord("dep-1", "agent-1", "user-1", "personal")
	rec.AppendLog(deployment.LogLevelInfo, "first entry", "test")
	require.NoError(t, f.store.Create(rec))

	resp, body := f.do(t, http.MethodGet, "/api/v1/deployments/dep-1/logs", "user-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	logs, ok := body["logs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, logs, 2) // creation entry + appended entry
}

func TestHandleList(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.store.Create(deployment.NewRecord("dep-1", "agent-1", "user-1", "personal")))
	require.NoError(t, f.store.Create(deployment.NewRecord("dep-2", "agent-1", "user-2", "personal")))

	resp, body := f.do(t, http.MethodGet, "/api/v1/deployments", "user-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	list, ok := body["deployments"].([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)
}

func TestHandleCancel(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.store.Create(deployment.NewRecord("dep-1", "agent-1", "user-1", "personal")))

	resp, body := f.do(t, http.MethodPost, "/api/v1/deployments/dep-1/cancel", "user-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(deployment.StatusCancelled), body["status"])

	// Cancelling again is an invalid transition.
	resp, errBody := f.do(t, http.MethodPost, "/api/v1/deployments/dep-1/cancel", "user-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errObj := errBody["error"].(map[string]interface{})
	assert.Equal(t, CodeInvalidTransition, errObj["code"])
}

func TestHandleDelete(t *testing.T) {
	f := newServiceFixture(t)
	rec := deployment.NewRecord("dep-1", "agent-1", "user-1", "personal")
	require.NoError(t, rec.Transition(deployment.StatusBuilding))
	require.NoError(t, rec.Transition(deployment.StatusDeploying))
	require.NoError(t, rec.Transition(deployment.StatusActive))
	require.NoError(t, f.store.Create(rec))

	resp, body := f.do(t, http.MethodDelete, "/api/v1/deployments/dep-1", "user-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(deployment.StatusDeleted), body["status"])

	// A CREATING record cannot be torn down directly.
	require.NoError(t, f.store.Create(deployment.NewRecord("dep-2", "agent-1", "user-1", "personal")))
	resp, _ = f.do(t, http.MethodDelete, "/api/v1/deployments/dep-2", "user-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

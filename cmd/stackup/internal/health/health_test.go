// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"testing"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/runtime"
	"github.com/AleutianAI/stackup/cmd/stackup/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ndjson = `{"Name":"n8n","Service":"n8n","State":"running","Status":"Up 2 minutes","Health":""}
{"Name":"localai-searxng-1","Service":"searxng","State":"exited","Status":"Exited (1) 5 seconds ago","Health":""}
{"Name":"qdrant","Service":"qdrant","State":"running","Status":"Up 2 minutes (unhealthy)","Health":"unhealthy"}
{"Name":"localai-minio-1","Service":"minio","State":"running","Status":"Up 3 seconds (health: starting)","Health":"starting"}
`

const jsonArray = `[{"Name":"localai-n8n-import-1","Service":"","State":"","Status":"Exited (0) 1 minute ago"},
{"Name":"localai-postgres-1","Service":"postgres","State":"running","Status":"Up 1 minute (healthy)","Health":"healthy"}]`

func byService(statuses []ServiceStatus) map[string]ServiceStatus {
	out := make(map[string]ServiceStatus, len(statuses))
	for _, s := range statuses {
		out[s.Service] = s
	}
	return out
}

func TestParse_NDJSON(t *testing.T) {
	statuses, err := Parse(ndjson, "localai")
	require.NoError(t, err)
	require.Len(t, statuses, 4)

	// Sorted by service.
	assert.Equal(t, []string{"minio", "n8n", "qdrant", "searxng"},
		[]string{statuses[0].Service, statuses[1].Service, statuses[2].Service, statuses[3].Service})

	m := byService(statuses)
	assert.Equal(t, StateRunning, m["n8n"].State)
	assert.Equal(t, HealthUnknown, m["n8n"].Health)
	assert.True(t, m["n8n"].Ready())

	assert.Equal(t, StateExited, m["searxng"].State)
	assert.False(t, m["searxng"].Ready())

	assert.Equal(t, HealthUnhealthy, m["qdrant"].Health)
	assert.False(t, m["qdrant"].Ready())

	assert.Equal(t, HealthStarting, m["minio"].Health)
	assert.False(t, m["minio"].Ready())
}

func TestParse_Array(t *testing.T) {
	statuses, err := Parse(jsonArray, "localai")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	m := byService(statuses)
	assert.Equal(t, StateExited, m["n8n-import"].State)
	assert.True(t, m["n8n-import"].Completed)
	assert.Equal(t, "localai-n8n-import-1", m["n8n-import"].Container)
	assert.Equal(t, HealthHealthy, m["postgres"].Health)
	assert.True(t, m["postgres"].Ready())
}

func TestParse_Empty(t *testing.T) {
	statuses, err := Parse("  \n", "localai")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not json", "localai")
	assert.Error(t, err)
	_, err = Parse("[{", "localai")
	assert.Error(t, err)
}

func TestParse_DeadIsExited(t *testing.T) {
	statuses, err := Parse(`{"Name":"x","Service":"x","State":"dead","Status":"Dead"}`, "")
	require.NoError(t, err)
	assert.Equal(t, StateExited, statuses[0].State)
}

func TestServiceFromContainer(t *testing.T) {
	assert.Equal(t, "n8n-import", serviceFromContainer("localai-n8n-import-1", "localai"))
	assert.Equal(t, "n8n", serviceFromContainer("n8n", "localai"))
	assert.Equal(t, "ollama-cpu", serviceFromContainer("ollama-cpu", ""))
}

func TestSummarizeAndAllReady(t *testing.T) {
	statuses, err := Parse(ndjson, "localai")
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 4, Running: 3, Exited: 1, Unhealthy: 1}, Summarize(statuses))
	assert.False(t, AllReady(statuses))
	assert.False(t, AllReady(nil))
	assert.True(t, AllReady([]ServiceStatus{{State: StateRunning, Health: HealthHealthy}}))
}

func TestParse_ExitCodeField(t *testing.T) {
	statuses, err := Parse(`{"Name":"a","Service":"a","State":"exited","Status":"Exited (0) 5 seconds ago","ExitCode":0}
{"Name":"b","Service":"b","State":"exited","Status":"Exited (137) 5 seconds ago","ExitCode":137}
{"Name":"c","Service":"c","State":"exited","Status":"Exited (1) 5 seconds ago"}`, "")
	require.NoError(t, err)

	m := byService(statuses)
	assert.True(t, m["a"].Completed)
	assert.False(t, m["b"].Completed)
	assert.False(t, m["c"].Completed)
	assert.Equal(t, Summary{Total: 3, Exited: 3, Completed: 1}, Summarize(statuses))
}

func TestAllReady_SkipsCompletedJobs(t *testing.T) {
	statuses, err := Parse(jsonArray, "localai")
	require.NoError(t, err)
	assert.True(t, AllReady(statuses))

	// A failed job still blocks readiness.
	statuses[0].Completed = false
	assert.False(t, AllReady(statuses))
}

func TestReporter_Report(t *testing.T) {
	gw := &runtime.MockGateway{Handler: func(argv []string) (string, string, int) {
		return ndjson, "", 0
	}}
	r, err := NewReporter(gw, nil)
	require.NoError(t, err)

	s := stack.Stack{Name: "localai", Project: "localai", Dir: "/srv", BaseFile: "docker-compose.yml"}
	statuses, err := r.Report(context.Background(), s.Deploy(stack.ModePrivate, "cpu"))
	require.NoError(t, err)
	assert.Len(t, statuses, 4)
	assert.Equal(t,
		[]string{"docker compose -p localai --profile cpu -f docker-compose.yml ps -a --format json"},
		gw.Lines())
}

func TestReporter_Failure(t *testing.T) {
	gw := &runtime.MockGateway{Handler: func(argv []string) (string, string, int) {
		return "", "unknown flag: --format", 1
	}}
	r, err := NewReporter(gw, nil)
	require.NoError(t, err)

	_, err = r.Report(context.Background(), stack.Stack{Name: "localai", Project: "localai", BaseFile: "a.yml"}.Deploy(stack.ModePrivate, ""))
	assert.ErrorIs(t, err, ErrReport)
}

func TestNewReporter_NilGateway(t *testing.T) {
	_, err := NewReporter(nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justKMM/supply-chainer/pkg/archive"
	"github.com/justKMM/supply-chainer/pkg/config"
	"github.com/justKMM/supply-chainer/pkg/reputation"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"supplychainer"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	started := 0
	orig := startServer
	startServer = func(io.Writer, io.Writer) int { started++; return 0 }
	t.Cleanup(func() { startServer = orig })

	code, _, _ := run()
	assert.Equal(t, 0, code)
	code, _, _ = run("serve")
	assert.Equal(t, 0, code)
	assert.Equal(t, 2, started)

	code, out, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "USAGE")
	assert.Contains(t, out, "verify")

	code, out, _ = run("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "supplychainer "+version)

	code, _, errOut := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")
}

func sampleBundle(t *testing.T) *archive.Bundle {
	t.Helper()
	l := reputation.NewLedger()
	for _, agent := range []string{"brembo-01", "pirelli-01"} {
		rec := reputation.NewTransactionRecord()
		rec.AgentID = agent
		rec.QuantityOrdered = 10
		rec.QuantityDelivered = 10
		_, err := l.RecordTransaction(rec)
		require.NoError(t, err)
	}
	b, err := archive.NewBundle(l.Snapshot())
	require.NoError(t, err)
	return b
}

func TestVerify_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	b := sampleBundle(t)
	require.NoError(t, archive.WriteFile(path, b))

	code, out, _ := run("verify", "--bundle", path, "--json")
	require.Equal(t, 0, code)
	var report archive.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, b.BundleID, report.BundleID)
	assert.Equal(t, 10, report.Attestations)

	code, out, _ = run("verify", "--bundle", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "PASSED")
}

func TestVerify_TamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	b := sampleBundle(t)
	b.Chains[0].Attestations[2].Score = 0.01
	require.NoError(t, archive.WriteFile(path, b))

	code, out, _ := run("verify", "--bundle", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "bundle hash")
}

func TestVerify_Archive(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "archive.db")
	store, err := archive.Open(context.Background(), archive.DriverSQLite, dsn)
	require.NoError(t, err)
	b := sampleBundle(t)
	require.NoError(t, store.Save(context.Background(), b))
	require.NoError(t, store.Close())

	code, out, errOut := run("verify", "--driver", "sqlite", "--dsn", dsn, "--id", b.BundleID)
	assert.Equal(t, 0, code, errOut)
	assert.Contains(t, out, b.BundleID)

	code, _, errOut = run("verify", "--driver", "sqlite", "--dsn", dsn, "--id", "bundle-missing")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "not found")
}

func TestVerify_Usage(t *testing.T) {
	code, _, errOut := run("verify")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "--bundle or --driver is required")

	code, _, errOut = run("verify", "--driver", "sqlite")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "--dsn and --id")

	code, _, _ = run("verify", "--bundle", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 2, code)
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	code, out, _ := run("health", "--addr", healthy.URL)
	assert.Equal(t, 0, code)
	assert.Equal(t, "OK\n", out)

	code, _, errOut := run("health", "--addr", sick.URL)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "status 503")

	code, _, _ = run("health", "--bogus")
	assert.Equal(t, 2, code)
}

func TestBuildApp(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.Driver = archive.DriverSQLite
	cfg.Archive.DSN = filepath.Join(t.TempDir(), "archive.db")
	cfg.JWTSecret = "test-secret"

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.close(context.Background())) }()

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildApp_BadRule(t *testing.T) {
	cfg := config.Default()
	cfg.Escalation.Rule = "risk >"

	_, err := buildApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escalation rule")
}

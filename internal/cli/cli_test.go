package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicectl/internal/config"
	"github.com/dkeye/voicectl/internal/devserver"
	"github.com/dkeye/voicectl/internal/domain"
)

func writeConfig(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.test.yaml")
	body := fmt.Sprintf("backend_url: %s\nlog_level: error\nstore:\n  driver: file\n  path: %s\n", backendURL, filepath.Join(dir, "store"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginWhoamiLogout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := devserver.New(devserver.Config{Secret: "s"})
	ts := httptest.NewServer(srv.Router(ctx))
	defer ts.Close()
	cfgPath := writeConfig(t, ts.URL)

	_, err := execute(t, "whoami", "--config", cfgPath)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = execute(t, "login", "--config", cfgPath, "--email", "ops@example.com", "--code", "000000")
	require.ErrorIs(t, err, domain.ErrAuthFailed)

	out, err := execute(t, "login", "--config", cfgPath, "--email", "ops@example.com", "--code", "123456")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as ops@example.com")

	out, err = execute(t, "whoami", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ops@example.com")

	out, err = execute(t, "logout", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	_, err = execute(t, "whoami", "--config", cfgPath)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestNewBlobStore(t *testing.T) {
	s, closer, err := newBlobStore(config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Nil(t, closer)

	_, _, err = newBlobStore(config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	err := explain(domain.ErrCredentialExpired)
	assert.ErrorIs(t, err, domain.ErrCredentialExpired)
	assert.Contains(t, err.Error(), "voicectl login")

	assert.Equal(t, assert.AnError, explain(assert.AnError))
}

func TestCaptureFrom(t *testing.T) {
	fs := afero.NewMemMapFs()
	assert.Nil(t, captureFrom(fs, ""))

	capture := captureFrom(fs, "/missing.ogg")
	require.NotNil(t, capture)
	_, err := capture()
	assert.Error(t, err)
}

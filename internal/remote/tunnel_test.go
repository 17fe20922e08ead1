package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	bodies map[string][]byte
	err    error
}

func (f fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.bodies[url]; ok {
		return b, nil
	}
	return nil, errors.New("not found: " + url)
}

func TestEnsureBinaryDownloadsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	dl := fakeDownloader{bodies: map[string][]byte{
		"https://example.com/cloudflared": []byte("fake binary bytes"),
	}}
	tun, err := NewTunnel(dir, dl)
	require.NoError(t, err)

	require.NoError(t, tun.EnsureBinary(context.Background(), "https://example.com/cloudflared"))
	data, err := os.ReadFile(tun.BinaryPath())
	require.NoError(t, err)
	require.Equal(t, "fake binary bytes", string(data))
}

func TestEnsureBinarySkipsDownloadWhenPresent(t *testing.T) {
	dir := t.TempDir()
	tun, err := NewTunnel(dir, fakeDownloader{err: errors.New("should not be called")})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tun.BinaryPath(), []byte("already here"), 0o755))

	require.NoError(t, tun.EnsureBinary(context.Background(), "https://example.com/cloudflared"))
	data, err := os.ReadFile(tun.BinaryPath())
	require.NoError(t, err)
	require.Equal(t, "already here", string(data))
}

func TestEnsureBinaryAbortsOnChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	dl := fakeDownloader{bodies: map[string][]byte{
		"https://example.com/cloudflared":        []byte("fake binary bytes"),
		"https://example.com/cloudflared.sha256": []byte("0000000000000000000000000000000000000000000000000000000000000000  cloudflared\n"),
	}}
	tun, err := NewTunnel(dir, dl)
	require.NoError(t, err)

	err = tun.EnsureBinary(context.Background(), "https://example.com/cloudflared")
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")
	_, statErr := os.Stat(tun.BinaryPath())
	require.True(t, os.IsNotExist(statErr))
}

func writeFakeCloudflared(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, binaryName())
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestStartFindsURLThenStopGracefullyStops(t *testing.T) {
	dir := t.TempDir()
	writeFakeCloudflared(t, dir, "#!/bin/sh\n"+
		"trap 'exit 0' INT TERM\n"+
		"echo https://example-tunnel.trycloudflare.com\n"+
		"sleep 30\n")
	tun, err := NewTunnel(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tun.Start(ctx, 8080))

	status := tun.Status()
	require.Equal(t, TunnelRunning, status.State)
	require.Equal(t, "https://example-tunnel.trycloudflare.com", status.URL)

	require.NoError(t, tun.Stop())
	require.Equal(t, TunnelStopped, tun.Status().State)
}

func TestStartFailsWhenProcessExitsWithoutURL(t *testing.T) {
	dir := t.TempDir()
	writeFakeCloudflared(t, dir, "#!/bin/sh\nexit 1\n")
	tun, err := NewTunnel(dir, nil)
	require.NoError(t, err)

	err = tun.Start(context.Background(), 8080)
	require.Error(t, err)
	require.Equal(t, TunnelStopped, tun.Status().State)
}

func TestStopOnNeverStartedTunnelIsNoop(t *testing.T) {
	tun, err := NewTunnel(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, tun.Stop())
}

func TestQRDataRequiresRunningTunnel(t *testing.T) {
	tun, err := NewTunnel(t.TempDir(), nil)
	require.NoError(t, err)
	_, ok := tun.QRData()
	require.False(t, ok)
	_, ok = tun.QRDataWithToken("tok")
	require.False(t, ok)
}

func TestQRDataWithTokenEmbedsToken(t *testing.T) {
	dir := t.TempDir()
	writeFakeCloudflared(t, dir, "#!/bin/sh\n"+
		"trap 'exit 0' INT TERM\n"+
		"echo https://example-tunnel.trycloudflare.com\n"+
		"sleep 30\n")
	tun, err := NewTunnel(dir, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tun.Start(ctx, 8080))
	defer tun.Stop()

	payload, ok := tun.QRData()
	require.True(t, ok)
	require.Equal(t, "https://example-tunnel.trycloudflare.com", payload.URL)
	require.Contains(t, payload.QRContent, "trycloudflare.com")

	withToken, ok := tun.QRDataWithToken("secret-tok")
	require.True(t, ok)
	require.Contains(t, withToken.URL, "?token=secret-tok")
}

func TestSetNamedTunnelName(t *testing.T) {
	tun, err := NewTunnel(t.TempDir(), nil)
	require.NoError(t, err)
	require.Equal(t, "", tun.NamedTunnelName())
	tun.SetNamedTunnelName("my-desk")
	require.Equal(t, "my-desk", tun.NamedTunnelName())
}

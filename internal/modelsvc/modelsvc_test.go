package modelsvc

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	listOutput   string
	streamOutput string
	streamErr    error
}

func (f fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return []byte(f.listOutput), nil
}

type fakeReadCloser struct{ io.Reader }

func (fakeReadCloser) Close() error { return nil }

func (f fakeRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	return fakeReadCloser{strings.NewReader(f.streamOutput)}, func() error { return f.streamErr }, nil
}

func TestListParsesJoinedSizeForm(t *testing.T) {
	r := fakeRunner{listOutput: "NAME          ID              SIZE      MODIFIED\n" +
		"llama3:8b     abc123          4.7GB     2 days ago\n"}
	models, err := List(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "llama3:8b", models[0].Name)
	require.Equal(t, int64(4_700_000_000), models[0].SizeBytes)
}

func TestListParsesSplitSizeForm(t *testing.T) {
	r := fakeRunner{listOutput: "NAME          ID              SIZE         MODIFIED\n" +
		"mistral:7b    def456          4.1  GB        3 weeks ago\n"}
	models, err := List(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, int64(4_100_000_000), models[0].SizeBytes)
}

func TestListTreatsBinaryUnitsAsDecimal(t *testing.T) {
	r := fakeRunner{listOutput: "NAME          ID              SIZE      MODIFIED\n" +
		"gemma:2b      ghi789          1.5GiB    1 day ago\n"}
	models, err := List(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, int64(1_500_000_000), models[0].SizeBytes)
}

func TestListSkipsBlankLines(t *testing.T) {
	r := fakeRunner{listOutput: "NAME  ID  SIZE  MODIFIED\n\nllama3:8b  abc  4.7GB  today\n\n"}
	models, err := List(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, models, 1)
}

func TestPullStreamsCleanedProgressThenDone(t *testing.T) {
	r := fakeRunner{streamOutput: "pulling manifest\nverifying sha256 digest\ndownloading 42%\n"}
	events, err := Pull(context.Background(), r, "llama3")
	require.NoError(t, err)

	var got []Progress
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	require.Equal(t, 42, got[0].Percent)
	require.True(t, got[1].Done)
}

func TestPullSurfacesProcessFailure(t *testing.T) {
	r := fakeRunner{streamOutput: "", streamErr: context.DeadlineExceeded}
	events, err := Pull(context.Background(), r, "llama3")
	require.NoError(t, err)

	var last Progress
	for ev := range events {
		last = ev
	}
	require.Error(t, last.Err)
}

func TestCleanLineStripsAnsiAndSpinner(t *testing.T) {
	require.Equal(t, "downloading", cleanLine("\x1b[?25l⠋downloading\x1b[K"))
}

package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "taskr.abc.>", SubjectForTask("abc"))
	assert.Equal(t, "taskr.abc.step", SubjectForEvent("abc", EventTypeStep))
	assert.Equal(t, "abc", TaskIDFromSubject("taskr.abc.task"))
	assert.Equal(t, "", TaskIDFromSubject("other.abc.task"))
	assert.Equal(t, "", TaskIDFromSubject("taskr.abc"))
}

func TestEmbeddedStream(t *testing.T) {
	ctx := context.Background()
	ns, err := StartEmbeddedNATS(t.TempDir())
	require.NoError(t, err)

	nc, err := ConnectInProcess(ns)
	require.NoError(t, err)
	defer func() { _ = Shutdown(nc, ns) }()

	js, err := CreateJetStream(nc)
	require.NoError(t, err)

	stream, err := SetupStream(ctx, js)
	require.NoError(t, err)

	for _, id := range []string{"one", "two"} {
		_, err := js.Publish(ctx, SubjectForEvent(id, EventTypeTask), []byte("{}"))
		require.NoError(t, err)
		_, err = js.Publish(ctx, SubjectForEvent(id, EventTypeStep), []byte("{}"))
		require.NoError(t, err)
	}

	subjects, err := TaskSubjects(ctx, stream)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"taskr.one.task", "taskr.two.task"}, subjects)
}

func TestOpenAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	conn, err := Open(ctx, dir)
	require.NoError(t, err)
	_, err = conn.JS.Publish(ctx, SubjectForEvent("kept", EventTypeTask), []byte("{}"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	// File storage survives a restart
	conn, err = Open(ctx, dir)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	subjects, err := TaskSubjects(ctx, conn.Stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"taskr.kept.task"}, subjects)
}

func TestShutdownNil(t *testing.T) {
	assert.NoError(t, Shutdown(nil, nil))
}

package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchFiresOnManifestWrite(t *testing.T) {
	dir := t.TempDir()

	changed := make(chan struct{}, 8)
	stop, err := Watch(dir, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	_, err = Write(dir, 1, 3, []string{"default"}, "sig-watch", []byte("dictionary-bytes"), time.Now())
	require.NoError(t, err)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was never invoked after a manifest write")
	}
}

func TestWatchStopSucceedsWhenCalledOnce(t *testing.T) {
	dir := t.TempDir()
	stop, err := Watch(dir, func() {})
	require.NoError(t, err)
	require.NoError(t, stop())
}

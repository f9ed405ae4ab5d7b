package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrameEligible(t *testing.T) {
	t.Parallel()

	require.True(t, frameEligible("http://example.com/frame"))
	require.True(t, frameEligible("https://example.com/frame"))
	require.False(t, frameEligible("about:blank"))
	require.False(t, frameEligible("data:text/html,<html></html>"))
	require.False(t, frameEligible("javascript:void(0)"))
	require.False(t, frameEligible(""))
}

func TestScrollWaitCapped(t *testing.T) {
	t.Parallel()

	require.Equal(t, 120*time.Millisecond, scrollWait(800, 800))
	require.Equal(t, time.Second, scrollWait(100000, 800))
	require.Equal(t, time.Second, scrollWait(500, 0))
}

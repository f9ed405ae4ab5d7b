package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "preservation", map[string]string{"guid": "AAAA-BBBB"})
	require.NoError(t, err)
	require.Equal(t, "mem-1", id)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "preservation", msgs[0].Topic)
}

func TestForTopicFilters(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "preservation", "a")
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), "audit", "b")
	require.NoError(t, err)

	require.Len(t, p.ForTopic("preservation"), 1)
	require.Empty(t, p.ForTopic("missing"))
}

func TestFailWithInjectsErrors(t *testing.T) {
	t.Parallel()

	p := New()
	boom := errors.New("broker unavailable")
	p.FailWith(boom)

	_, err := p.Publish(context.Background(), "preservation", "a")
	require.ErrorIs(t, err, boom)
	require.Empty(t, p.Messages())

	p.FailWith(nil)
	_, err = p.Publish(context.Background(), "preservation", "a")
	require.NoError(t, err)
	require.Len(t, p.Messages(), 1)
}

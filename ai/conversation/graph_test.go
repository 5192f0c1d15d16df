package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/banter/chat"
)

// fakeGateway serves a single channel from an in-memory message list and
// counts the calls the builder issues.
type fakeGateway struct {
	msgs  map[int64]*chat.Message
	order []int64 // ascending channel order

	fetchCalls   int
	historyCalls int
	names        map[int64]string
	failHistory  bool
}

func newFakeGateway(msgs ...*chat.Message) *fakeGateway {
	g := &fakeGateway{msgs: map[int64]*chat.Message{}, names: map[int64]string{}}
	for _, m := range msgs {
		g.msgs[m.ID] = m
		g.order = append(g.order, m.ID)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })
	return g
}

func (g *fakeGateway) FetchMessage(_ context.Context, _ int64, messageID int64) (*chat.Message, error) {
	g.fetchCalls++
	m, ok := g.msgs[messageID]
	if !ok {
		return nil, errors.New("message not found")
	}
	return m, nil
}

func (g *fakeGateway) FetchHistory(_ context.Context, _ int64, beforeID int64, limit int) ([]*chat.Message, error) {
	g.historyCalls++
	if g.failHistory {
		return nil, errors.New("gateway unavailable")
	}
	var out []*chat.Message
	for i := len(g.order) - 1; i >= 0 && len(out) < limit; i-- {
		if g.order[i] < beforeID {
			out = append(out, g.msgs[g.order[i]])
		}
	}
	return out, nil
}

func (g *fakeGateway) SendMessage(_ context.Context, _ int64, _ string, _ int64) (*chat.Message, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) ResolveDisplayName(_ context.Context, _ int64, userID int64) (string, error) {
	name, ok := g.names[userID]
	if !ok {
		return "", errors.New("unknown user")
	}
	return name, nil
}

func linearChannel(n int, spacing time.Duration) []*chat.Message {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]*chat.Message, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, &chat.Message{
			ID:        int64(i),
			GuildID:   1,
			ChannelID: 1,
			AuthorID:  int64(100 + i%3),
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * spacing),
		})
	}
	return msgs
}

func messageIDs(msgs []ConversationMessage) []int64 {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	return ids
}

func TestBuild_LinearChainUsesTwoHistoryCalls(t *testing.T) {
	gw := newFakeGateway(linearChannel(200, time.Minute)...)
	b := NewBuilder(gw, BuilderConfig{MinLinear: 10, MaxTotal: 200, TimeThreshold: 300 * time.Minute})

	out := b.Build(context.Background(), gw.msgs[200])

	require.Len(t, out, 200)
	for i, m := range out {
		assert.Equal(t, int64(i+1), m.MessageID, "ascending timestamp order")
	}
	assert.Equal(t, 2, gw.historyCalls, "coalesced cache must serve the walk from two pages")
	assert.Equal(t, 0, gw.fetchCalls)
}

func TestBuild_SealedTemporalWalk(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := newFakeGateway(
		&chat.Message{ID: 1, ChannelID: 1, CreatedAt: base},
		&chat.Message{ID: 2, ChannelID: 1, CreatedAt: base.Add(5 * time.Minute)},
		&chat.Message{ID: 3, ChannelID: 1, CreatedAt: base.Add(time.Hour)},
	)
	b := NewBuilder(gw, BuilderConfig{MinLinear: 1, MaxTotal: 10, TimeThreshold: 10 * time.Minute})

	out := b.Build(context.Background(), gw.msgs[3])

	assert.Equal(t, []int64{3}, messageIDs(out), "gap of 55 minutes exceeds the threshold")
}

func TestBuild_ReplyBridgesAcrossTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	replyTo := int64(1)
	gw := newFakeGateway(
		&chat.Message{ID: 1, ChannelID: 1, CreatedAt: base},
		&chat.Message{ID: 2, ChannelID: 1, CreatedAt: base.Add(2 * time.Hour), ReplyToID: &replyTo},
	)
	b := NewBuilder(gw, BuilderConfig{MinLinear: 1, MaxTotal: 10, TimeThreshold: 10 * time.Minute})

	out := b.Build(context.Background(), gw.msgs[2])

	assert.Equal(t, []int64{1, 2}, messageIDs(out), "reply edge overrides the temporal seal")
}

func TestBuild_DeduplicatesAcrossBothWalks(t *testing.T) {
	// m3 replies to m1 while the temporal walk also reaches m1.
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	replyTo := int64(1)
	gw := newFakeGateway(
		&chat.Message{ID: 1, ChannelID: 1, CreatedAt: base},
		&chat.Message{ID: 2, ChannelID: 1, CreatedAt: base.Add(time.Minute)},
		&chat.Message{ID: 3, ChannelID: 1, CreatedAt: base.Add(2 * time.Minute), ReplyToID: &replyTo},
	)
	b := NewBuilder(gw, BuilderConfig{MinLinear: 1, MaxTotal: 10, TimeThreshold: 10 * time.Minute})

	out := b.Build(context.Background(), gw.msgs[3])

	assert.Equal(t, []int64{1, 2, 3}, messageIDs(out))
}

func TestBuild_MaxTotalCapsAssembly(t *testing.T) {
	gw := newFakeGateway(linearChannel(50, time.Minute)...)
	b := NewBuilder(gw, BuilderConfig{MinLinear: 5, MaxTotal: 20, TimeThreshold: time.Hour})

	out := b.Build(context.Background(), gw.msgs[50])

	assert.Len(t, out, 20)
}

func TestBuild_HistoryFailureDegradesToTrigger(t *testing.T) {
	gw := newFakeGateway(linearChannel(5, time.Minute)...)
	gw.failHistory = true
	b := NewBuilder(gw, BuilderConfig{MinLinear: 3, MaxTotal: 10, TimeThreshold: time.Hour})

	out := b.Build(context.Background(), gw.msgs[5])

	assert.Equal(t, []int64{5}, messageIDs(out))
}

func TestBuild_MissingReplyTargetIsAbsent(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deleted := int64(99)
	gw := newFakeGateway(
		&chat.Message{ID: 2, ChannelID: 1, CreatedAt: base.Add(time.Minute), ReplyToID: &deleted},
	)
	b := NewBuilder(gw, BuilderConfig{MinLinear: 1, MaxTotal: 10, TimeThreshold: 10 * time.Minute})

	out := b.Build(context.Background(), gw.msgs[2])

	assert.Equal(t, []int64{2}, messageIDs(out))
}

func TestBuild_TimestampTieBreaksByID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := newFakeGateway(
		&chat.Message{ID: 10, ChannelID: 1, CreatedAt: ts},
		&chat.Message{ID: 11, ChannelID: 1, CreatedAt: ts},
		&chat.Message{ID: 12, ChannelID: 1, CreatedAt: ts},
	)
	b := NewBuilder(gw, BuilderConfig{MinLinear: 3, MaxTotal: 10, TimeThreshold: time.Hour})

	out := b.Build(context.Background(), gw.msgs[12])

	assert.Equal(t, []int64{10, 11, 12}, messageIDs(out))
}

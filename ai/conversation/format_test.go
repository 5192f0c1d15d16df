package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat_CanonicalShape(t *testing.T) {
	gw := newFakeGateway()
	gw.names[101] = "alice"
	f := NewFormatter(gw)

	replyTo := int64(1)
	out := f.Format(context.Background(), 1, []ConversationMessage{
		{MessageID: 1, AuthorID: 101, Content: "hello", Timestamp: "2026-03-01 12:00:00"},
		{MessageID: 2, AuthorID: 101, Content: "again", Timestamp: "2026-03-01 12:01:00", ReplyToID: &replyTo},
	})

	want := "<conversation_history>\n" +
		"<message>\n<id>1</id>\n<timestamp>2026-03-01 12:00:00</timestamp>\n<author>alice</author>\n<content>hello</content>\n</message>\n" +
		"<message>\n<id>2</id>\n<reply_to>1</reply_to>\n<timestamp>2026-03-01 12:01:00</timestamp>\n<author>alice</author>\n<content>again</content>\n</message>\n" +
		"</conversation_history>"
	assert.Equal(t, want, out)
}

func TestFormat_SubstitutesMentionTokens(t *testing.T) {
	gw := newFakeGateway()
	gw.names[101] = "alice"
	gw.names[102] = "bob"
	f := NewFormatter(gw)

	out := f.Format(context.Background(), 1, []ConversationMessage{
		{MessageID: 1, AuthorID: 101, Content: "hey <@102> and <@!102>, ask <@103>", Timestamp: "t"},
	})

	assert.Contains(t, out, "<content>hey bob and bob, ask User(ID:103)</content>")
}

func TestDisplayName_CachesResolution(t *testing.T) {
	gw := newFakeGateway()
	gw.names[101] = "alice"
	f := NewFormatter(gw)

	assert.Equal(t, "alice", f.DisplayName(context.Background(), 1, 101))
	delete(gw.names, 101) // later resolutions must come from the cache
	assert.Equal(t, "alice", f.DisplayName(context.Background(), 1, 101))
}

func TestDisplayName_FallsBackOnFailure(t *testing.T) {
	f := NewFormatter(newFakeGateway())
	assert.Equal(t, "User(ID:7)", f.DisplayName(context.Background(), 1, 7))
}

func TestDisplayName_ArticleSentinel(t *testing.T) {
	f := NewFormatter(newFakeGateway())
	assert.Equal(t, "Article", f.DisplayName(context.Background(), 1, -1))
}

package conversation

import (
	"context"

	"github.com/hrygo/banter/chat"
)

// historyPageSize is how many predecessors one bulk history call requests.
// Fetching full pages regardless of immediate need is what lets a linear
// walk over hundreds of messages run on a handful of network calls.
const historyPageSize = 100

// fetcher coalesces gateway reads for one assembly run. It memoizes every
// fetched message by id and the id-to-predecessor relation derived from each
// bulk history response, so single-step temporal queries are usually free.
type fetcher struct {
	gw        chat.Gateway
	channelID int64

	byID   map[int64]*chat.Message
	prevID map[int64]int64
	// noPrev marks ids whose predecessor is known to not exist (channel
	// start reached by a short history page).
	noPrev map[int64]bool
}

func newFetcher(gw chat.Gateway, channelID int64) *fetcher {
	return &fetcher{
		gw:        gw,
		channelID: channelID,
		byID:      make(map[int64]*chat.Message),
		prevID:    make(map[int64]int64),
		noPrev:    make(map[int64]bool),
	}
}

// prime seeds the memo with an already-known message.
func (f *fetcher) prime(m *chat.Message) {
	f.byID[m.ID] = m
}

// message returns the message with the given id, fetching it on a miss.
func (f *fetcher) message(ctx context.Context, id int64) (*chat.Message, error) {
	if m, ok := f.byID[id]; ok {
		return m, nil
	}
	m, err := f.gw.FetchMessage(ctx, f.channelID, id)
	if err != nil {
		return nil, err
	}
	f.byID[m.ID] = m
	return m, nil
}

// previous returns the immediate channel predecessor of id, or nil when the
// channel starts there. A miss triggers one full-page history fetch whose
// entire chain is absorbed into the memo.
func (f *fetcher) previous(ctx context.Context, id int64) (*chat.Message, error) {
	if f.noPrev[id] {
		return nil, nil
	}
	if pid, ok := f.prevID[id]; ok {
		return f.byID[pid], nil
	}

	batch, err := f.gw.FetchHistory(ctx, f.channelID, id, historyPageSize)
	if err != nil {
		return nil, err
	}
	f.absorb(id, batch)

	if f.noPrev[id] {
		return nil, nil
	}
	return f.byID[f.prevID[id]], nil
}

// absorb records the predecessor chain of a newest-first history page.
func (f *fetcher) absorb(beforeID int64, batch []*chat.Message) {
	cur := beforeID
	for _, m := range batch {
		f.byID[m.ID] = m
		f.prevID[cur] = m.ID
		cur = m.ID
	}
	if len(batch) < historyPageSize {
		f.noPrev[cur] = true
	}
}

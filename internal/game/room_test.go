// internal/game/room_test.go
package game

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster collects deliveries instead of writing them to connections.
type mockBroadcaster struct {
	mu           sync.Mutex
	playerEvents map[uuid.UUID][]models.OutboundMessage
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{playerEvents: make(map[uuid.UUID][]models.OutboundMessage)}
}

func (mb *mockBroadcaster) send(playerID uuid.UUID, msg models.OutboundMessage) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], msg)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents = make(map[uuid.UUID][]models.OutboundMessage)
}

func (mb *mockBroadcaster) total() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, evs := range mb.playerEvents {
		n += len(evs)
	}
	return n
}

func (mb *mockBroadcaster) ofType(playerID uuid.UUID, msgType string) []models.OutboundMessage {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []models.OutboundMessage
	for _, ev := range mb.playerEvents[playerID] {
		if ev.Type == msgType {
			out = append(out, ev)
		}
	}
	return out
}

func (mb *mockBroadcaster) last(playerID uuid.UUID, msgType string) *models.OutboundMessage {
	evs := mb.ofType(playerID, msgType)
	if len(evs) == 0 {
		return nil
	}
	return &evs[len(evs)-1]
}

// senderFunc adapts a function to Sender.
type senderFunc func(models.OutboundMessage) bool

func (f senderFunc) Send(msg models.OutboundMessage) bool { return f(msg) }

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testOptions() Options {
	o := DefaultOptions()
	o.Seed = 7
	return o
}

// setupTestRoom creates a running room with numPlayers joined, in roster order.
func setupTestRoom(t *testing.T, numPlayers int, opts *Options) (*Room, []uuid.UUID, *mockBroadcaster) {
	t.Helper()
	o := testOptions()
	if opts != nil {
		o = *opts
	}
	mb := newMockBroadcaster()
	r := NewRoom("Test Room", o, mb.send, nil, testLogger())
	t.Cleanup(r.Stop)

	ids := make([]uuid.UUID, numPlayers)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, r.Join(context.Background(), ids[i], fmt.Sprintf("player%d", i+1)))
	}
	return r, ids, mb
}

func setupStartedRoom(t *testing.T, numPlayers int, opts *Options) (*Room, []uuid.UUID, *mockBroadcaster) {
	t.Helper()
	r, ids, mb := setupTestRoom(t, numPlayers, opts)
	require.NoError(t, r.StartGame(context.Background(), ids[0]))
	return r, ids, mb
}

func firstCard(t *testing.T, r *Room, id uuid.UUID) models.CardID {
	t.Helper()
	hand, err := r.Hand(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, hand)
	return hand[0]
}

// playToVoting submits the story and every decoy. It returns the story card and decoys by player.
func playToVoting(t *testing.T, r *Room, teller uuid.UUID, ids []uuid.UUID) (models.CardID, map[uuid.UUID]models.CardID) {
	t.Helper()
	ctx := context.Background()
	story := firstCard(t, r, teller)
	require.NoError(t, r.SubmitStory(ctx, teller, "a quiet lighthouse", story))

	decoys := make(map[uuid.UUID]models.CardID)
	for _, id := range ids {
		if id == teller {
			continue
		}
		card := firstCard(t, r, id)
		require.NoError(t, r.SubmitStoryCard(ctx, id, card))
		decoys[id] = card
	}
	return story, decoys
}

func mustState(t *testing.T, r *Room, viewer uuid.UUID) models.RoomState {
	t.Helper()
	st, err := r.State(context.Background(), viewer)
	require.NoError(t, err)
	return st
}

func TestJoinBroadcastsState(t *testing.T) {
	r, ids, mb := setupTestRoom(t, 2, nil)

	join := mb.last(ids[0], models.EventJoinRoom)
	require.NotNil(t, join)
	assert.Equal(t, models.JoinRoomResult{RoomName: "Test Room", PlayerName: "player1", Success: true}, join.Payload)

	upd := mb.last(ids[0], models.EventRoomStateUpdated)
	require.NotNil(t, upd)
	st := upd.Payload.(models.RoomStateUpdated).State
	assert.Len(t, st.Players, 2, "first player must learn about the second join")
	assert.Equal(t, models.GameWaiting, st.GameState)
	assert.Equal(t, models.TurnWaiting, st.TurnState)

	summary, err := r.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Players)
	assert.Equal(t, 2, summary.Connected)
}

func TestJoinValidatesName(t *testing.T) {
	r, _, _ := setupTestRoom(t, 0, nil)
	err := r.Join(context.Background(), uuid.New(), "   ")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestJoinRoomFull(t *testing.T) {
	opts := testOptions()
	opts.MaxPlayers = 2
	r, _, _ := setupTestRoom(t, 2, &opts)

	err := r.Join(context.Background(), uuid.New(), "late")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRejectedMidGameButMembersRejoin(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 3, nil)

	err := r.Join(ctx, uuid.New(), "stranger")
	assert.ErrorIs(t, err, ErrGameAlreadyStarted)

	mb.clear()
	require.NoError(t, r.Join(ctx, ids[1], ""))
	assert.NotNil(t, mb.last(ids[1], models.EventJoinRoom))
	dealt := mb.last(ids[1], models.EventCardsDealt)
	require.NotNil(t, dealt)
	assert.Len(t, dealt.Payload.(models.CardsDealt).Cards, 6)
	assert.Equal(t, "player2", mustState(t, r, ids[1]).Players[1].Name, "empty name keeps the current one")
}

func TestStartGameRequiresMinPlayers(t *testing.T) {
	r, ids, _ := setupTestRoom(t, 1, nil)
	err := r.StartGame(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.GameWaiting, mustState(t, r, ids[0]).GameState)
}

func TestStartGameRequiresMembership(t *testing.T) {
	r, _, _ := setupTestRoom(t, 2, nil)
	err := r.StartGame(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPlayerNotInRoom)
}

func TestStartGameRequireReady(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.RequireReady = true
	r, ids, _ := setupTestRoom(t, 2, &opts)

	require.NoError(t, r.MarkReady(ctx, ids[0]))
	assert.ErrorIs(t, r.StartGame(ctx, ids[0]), ErrInvalidTransition)

	require.NoError(t, r.MarkReady(ctx, ids[1]))
	require.NoError(t, r.StartGame(ctx, ids[0]))
	assert.Equal(t, models.GamePlaying, mustState(t, r, ids[0]).GameState)
}

func TestStartGameDealsDisjointHands(t *testing.T) {
	r, ids, mb := setupStartedRoom(t, 5, nil)

	seen := make(map[models.CardID]uuid.UUID)
	for _, id := range ids {
		hand, err := r.Hand(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, hand, 6)
		for _, card := range hand {
			owner, dup := seen[card]
			assert.False(t, dup, "card %d held by %s and %s", card, owner, id)
			seen[card] = id
		}

		dealt := mb.last(id, models.EventCardsDealt)
		require.NotNil(t, dealt)
		assert.ElementsMatch(t, hand, dealt.Payload.(models.CardsDealt).Cards, "each player is sent only their own hand")
	}

	st := mustState(t, r, ids[0])
	assert.Equal(t, models.GamePlaying, st.GameState)
	assert.Equal(t, models.TurnWaitingForStory, st.TurnState)
	assert.Equal(t, 1, st.TurnNumber)
	require.NotNil(t, st.StoryPlayerID)
	assert.Equal(t, ids[0], *st.StoryPlayerID)
	assert.Equal(t, models.StatusStoryTelling, st.Players[0].Status)
	assert.Equal(t, models.StatusPickingCard, st.Players[1].Status)
}

func TestStartGameTwiceIsNoop(t *testing.T) {
	r, ids, mb := setupStartedRoom(t, 3, nil)
	before, err := r.Hand(context.Background(), ids[1])
	require.NoError(t, err)

	mb.clear()
	require.NoError(t, r.StartGame(context.Background(), ids[2]))
	assert.Equal(t, 0, mb.total(), "a no-op start must not broadcast")

	after, err := r.Hand(context.Background(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, mustState(t, r, ids[0]).TurnNumber)
}

func TestStartGameWithTooSmallDeck(t *testing.T) {
	opts := testOptions()
	opts.DeckSize = 10
	r, ids, _ := setupTestRoom(t, 2, &opts)

	err := r.StartGame(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, models.GameWaiting, mustState(t, r, ids[0]).GameState)
	hand, err := r.Hand(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Empty(t, hand, "a rejected start must not deal")
}

func TestSubmitStoryRejections(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 3, nil)
	teller := ids[0]
	card := firstCard(t, r, teller)
	otherCard := firstCard(t, r, ids[1])

	mb.clear()
	assert.ErrorIs(t, r.SubmitStory(ctx, ids[1], "story", otherCard), ErrInvalidTransition, "only the storyteller")
	assert.ErrorIs(t, r.SubmitStory(ctx, teller, "story", otherCard), ErrInvalidTransition, "card not in hand")
	assert.ErrorIs(t, r.SubmitStory(ctx, teller, "  ", card), ErrInvalidPayload)
	assert.Equal(t, 0, mb.total(), "rejected actions never broadcast")

	require.NoError(t, r.SubmitStory(ctx, teller, "story", card))
	second := firstCard(t, r, teller)
	assert.ErrorIs(t, r.SubmitStory(ctx, teller, "again", second), ErrInvalidTransition, "only once per turn")

	st := mustState(t, r, teller)
	assert.Equal(t, models.TurnGuessing, st.TurnState)
	assert.Equal(t, "story", st.Story)
	assert.Equal(t, card, st.StoryCard, "storyteller sees their own card")
	assert.Equal(t, models.StatusStorySubmitted, st.Players[0].Status)
	assert.Zero(t, mustState(t, r, ids[1]).StoryCard, "others do not")

	hand, err := r.Hand(ctx, teller)
	require.NoError(t, err)
	assert.Len(t, hand, 5)
	assert.NotContains(t, hand, card)
}

func TestSubmitStoryCardRejections(t *testing.T) {
	ctx := context.Background()
	r, ids, _ := setupStartedRoom(t, 3, nil)
	teller := ids[0]

	early := firstCard(t, r, ids[1])
	assert.ErrorIs(t, r.SubmitStoryCard(ctx, ids[1], early), ErrInvalidTransition, "no decoys before the story")

	require.NoError(t, r.SubmitStory(ctx, teller, "story", firstCard(t, r, teller)))

	assert.ErrorIs(t, r.SubmitStoryCard(ctx, teller, firstCard(t, r, teller)), ErrInvalidTransition, "storyteller cannot play a decoy")
	assert.ErrorIs(t, r.SubmitStoryCard(ctx, ids[1], firstCard(t, r, ids[2])), ErrInvalidTransition, "card not in hand")

	card := firstCard(t, r, ids[1])
	require.NoError(t, r.SubmitStoryCard(ctx, ids[1], card))
	assert.ErrorIs(t, r.SubmitStoryCard(ctx, ids[1], firstCard(t, r, ids[1])), ErrInvalidTransition, "one decoy per turn")

	st := mustState(t, r, ids[1])
	assert.Equal(t, models.TurnGuessing, st.TurnState, "still waiting for the third player")
	assert.Equal(t, card, st.SubmittedCard)
	assert.Empty(t, st.CardsSubmitted, "decoys stay hidden from other guessers")
	assert.Equal(t, []models.CardID{card}, mustState(t, r, teller).CardsSubmitted, "storyteller watches decoys arrive")
}

func TestVotingStartsWhenAllDecoysIn(t *testing.T) {
	r, ids, _ := setupStartedRoom(t, 4, nil)
	story, decoys := playToVoting(t, r, ids[0], ids)

	st := mustState(t, r, ids[0])
	assert.Equal(t, models.TurnVoting, st.TurnState)
	assert.Len(t, st.CardsSubmitted, 4)
	assert.Contains(t, st.CardsSubmitted, story)
	for _, p := range st.Players {
		assert.Equal(t, models.StatusVoting, p.Status)
	}

	voter := mustState(t, r, ids[1])
	assert.Len(t, voter.CardsSubmitted, 3, "voters do not see their own card")
	assert.NotContains(t, voter.CardsSubmitted, decoys[ids[1]])
	assert.Zero(t, voter.StoryCard)
}

func TestVoteRejections(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 3, nil)
	story, decoys := playToVoting(t, r, ids[0], ids)

	mb.clear()
	assert.ErrorIs(t, r.Vote(ctx, ids[0], decoys[ids[1]]), ErrInvalidTransition, "storyteller does not vote")
	assert.ErrorIs(t, r.Vote(ctx, ids[1], decoys[ids[1]]), ErrInvalidTransition, "no voting for your own card")
	assert.ErrorIs(t, r.Vote(ctx, ids[1], models.CardID(999)), ErrInvalidTransition, "card must be on the table")
	assert.Equal(t, 0, mb.total())

	require.NoError(t, r.Vote(ctx, ids[1], story))
	assert.ErrorIs(t, r.Vote(ctx, ids[1], decoys[ids[2]]), ErrInvalidTransition, "one vote per turn")

	st := mustState(t, r, ids[1])
	assert.Equal(t, story, st.VotedForCard)
	assert.Equal(t, models.StatusVoteSubmitted, st.Players[1].Status)
}

func TestFullTurnScoresAndAnnounces(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 4, nil)
	story, decoys := playToVoting(t, r, ids[0], ids)

	// One correct guess: partial.
	require.NoError(t, r.Vote(ctx, ids[1], story))
	require.NoError(t, r.Vote(ctx, ids[2], decoys[ids[1]]))
	require.NoError(t, r.Vote(ctx, ids[3], decoys[ids[1]]))

	st := mustState(t, r, ids[2])
	assert.Equal(t, models.TurnFinished, st.TurnState)
	assert.Equal(t, story, st.StoryCard, "story card is revealed once the turn is over")
	assert.Equal(t, models.ResultStoryGuessed, st.TurnResult)
	require.Len(t, st.Scores, 1)

	points := map[uuid.UUID]int{}
	for _, p := range st.Players {
		points[p.ID] = p.Points
		assert.Equal(t, models.StatusFinished, p.Status)
	}
	assert.Equal(t, 3, points[ids[0]])
	assert.Equal(t, 3+2, points[ids[1]])
	assert.Equal(t, 0, points[ids[2]])
	assert.Equal(t, 0, points[ids[3]])

	entry, ok := st.Scores[0].Entry(ids[1])
	require.True(t, ok)
	assert.Equal(t, 0, entry.ScoreBefore)
	assert.Equal(t, 5, entry.Delta)
	assert.Equal(t, decoys[ids[1]], entry.SubmittedCard)
	assert.Equal(t, story, entry.VotedFor)
	assert.ElementsMatch(t, []uuid.UUID{ids[2], ids[3]}, entry.VotesFrom)

	for _, id := range ids {
		ended := mb.last(id, models.EventRoundEnded)
		require.NotNil(t, ended, "every member hears the round result")
		re := ended.Payload.(models.RoundEnded)
		assert.Equal(t, story, re.StoryCard)
		assert.Equal(t, "player1", re.StoryPlayerName)
		assert.Len(t, re.Votes, 3)
		assert.Len(t, re.CardsSubmitted, 4)
	}
}

func TestTurnStateSequenceAndRotation(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 3, nil)

	for turn := 0; turn < 3; turn++ {
		teller := ids[turn%len(ids)]
		st := mustState(t, r, teller)
		require.NotNil(t, st.StoryPlayerID)
		assert.Equal(t, teller, *st.StoryPlayerID, "storyteller rotates in roster order")
		assert.Equal(t, turn+1, st.TurnNumber)

		story, _ := playToVoting(t, r, teller, ids)
		for _, id := range ids {
			if id != teller {
				require.NoError(t, r.Vote(ctx, id, story))
			}
		}
		require.NoError(t, r.AdvanceTurn(ctx, ids[1]))
	}

	var seen []models.TurnState
	for _, ev := range mb.ofType(ids[2], models.EventRoomStateUpdated) {
		ts := ev.Payload.(models.RoomStateUpdated).State.TurnState
		if len(seen) == 0 || seen[len(seen)-1] != ts {
			seen = append(seen, ts)
		}
	}
	cycle := []models.TurnState{models.TurnWaitingForStory, models.TurnGuessing, models.TurnVoting, models.TurnFinished}
	expected := []models.TurnState{models.TurnWaiting}
	for i := 0; i < 3; i++ {
		expected = append(expected, cycle...)
	}
	expected = append(expected, models.TurnWaitingForStory)
	assert.Equal(t, expected, seen)
}

func TestAdvanceTurnRefillsAndReleases(t *testing.T) {
	ctx := context.Background()
	r, ids, _ := setupStartedRoom(t, 3, nil)
	story, _ := playToVoting(t, r, ids[0], ids)

	assert.ErrorIs(t, r.AdvanceTurn(ctx, ids[0]), ErrInvalidTransition, "turn not finished yet")

	require.NoError(t, r.Vote(ctx, ids[1], story))
	require.NoError(t, r.Vote(ctx, ids[2], story))
	require.NoError(t, r.AdvanceTurn(ctx, ids[2]))

	held := map[models.CardID]bool{}
	for _, id := range ids {
		hand, err := r.Hand(ctx, id)
		require.NoError(t, err)
		assert.Len(t, hand, 6)
		for _, c := range hand {
			assert.False(t, held[c])
			held[c] = true
		}
	}

	var issued, available int
	require.NoError(t, r.do(ctx, "inspect", func() error {
		issued, available = r.pool.Issued(), r.pool.Available()
		return nil
	}))
	assert.Equal(t, 18, issued, "table cards went back to the pool")
	assert.Equal(t, 84-18, available)

	st := mustState(t, r, ids[1])
	assert.Equal(t, 2, st.TurnNumber)
	assert.Empty(t, st.Story)
	assert.Empty(t, st.CardsSubmitted)
	assert.Equal(t, models.StatusStoryTelling, st.Players[1].Status)
}

func TestAutoAdvance(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.AutoAdvance = true
	r, ids, mb := setupStartedRoom(t, 3, &opts)
	story, _ := playToVoting(t, r, ids[0], ids)
	require.NoError(t, r.Vote(ctx, ids[1], story))
	require.NoError(t, r.Vote(ctx, ids[2], story))

	assert.NotNil(t, mb.last(ids[0], models.EventRoundEnded))
	st := mustState(t, r, ids[0])
	assert.Equal(t, 2, st.TurnNumber)
	assert.Equal(t, models.TurnWaitingForStory, st.TurnState)
}

func TestGameEndsAtMaxScore(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.MaxScore = 2
	r, ids, _ := setupStartedRoom(t, 3, &opts)
	story, _ := playToVoting(t, r, ids[0], ids)
	require.NoError(t, r.Vote(ctx, ids[1], story))
	require.NoError(t, r.Vote(ctx, ids[2], story))

	require.NoError(t, r.AdvanceTurn(ctx, ids[0]))
	st := mustState(t, r, ids[0])
	assert.Equal(t, models.GameFinished, st.GameState)
	assert.Equal(t, 1, st.TurnNumber)

	assert.ErrorIs(t, r.AdvanceTurn(ctx, ids[0]), ErrInvalidTransition, "no transitions after game end")
	hand, err := r.Hand(ctx, ids[1])
	require.NoError(t, err)
	assert.Empty(t, hand, "hands go back to the pool at game end")
}

func TestGameEndsAtMaxTurns(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.MaxTurns = 1
	opts.MaxScore = 0
	r, ids, _ := setupStartedRoom(t, 2, &opts)
	story, _ := playToVoting(t, r, ids[0], ids)
	require.NoError(t, r.Vote(ctx, ids[1], story))

	require.NoError(t, r.AdvanceTurn(ctx, ids[1]))
	assert.Equal(t, models.GameFinished, mustState(t, r, ids[0]).GameState)
}

func TestPoolExhaustionEndsGame(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 3, nil)
	story, _ := playToVoting(t, r, ids[0], ids)
	require.NoError(t, r.Vote(ctx, ids[1], story))
	require.NoError(t, r.Vote(ctx, ids[2], story))

	// Empty the pool and lose one held card, so the released table cannot cover the refill.
	require.NoError(t, r.do(ctx, "drain", func() error {
		_, err := r.pool.Draw(r.pool.Available())
		p := r.players[1]
		p.Hand = p.Hand[:len(p.Hand)-1]
		return err
	}))

	mb.clear()
	require.NoError(t, r.AdvanceTurn(ctx, ids[0]))
	for _, id := range ids {
		ev := mb.last(id, models.EventError)
		require.NotNil(t, ev, "every member is told the deck ran out")
		assert.Equal(t, "pool_exhausted", ev.Payload.(models.ErrorPayload).Type)
	}
	st := mustState(t, r, ids[0])
	assert.Equal(t, models.GameFinished, st.GameState)
	assert.Equal(t, 1, st.TurnNumber)
}

func TestRestartGame(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.MaxTurns = 1
	r, ids, _ := setupStartedRoom(t, 2, &opts)

	assert.ErrorIs(t, r.RestartGame(ctx, ids[0]), ErrInvalidTransition, "cannot restart a running game")

	story, _ := playToVoting(t, r, ids[0], ids)
	require.NoError(t, r.Vote(ctx, ids[1], story))
	require.NoError(t, r.AdvanceTurn(ctx, ids[0]))
	require.NoError(t, r.RestartGame(ctx, ids[1]))

	st := mustState(t, r, ids[0])
	assert.Equal(t, models.GameWaiting, st.GameState)
	assert.Equal(t, models.TurnWaiting, st.TurnState)
	assert.Equal(t, 0, st.TurnNumber)
	assert.Empty(t, st.Scores)
	assert.Nil(t, st.StoryPlayerID)
	for _, p := range st.Players {
		assert.Zero(t, p.Points)
		assert.Equal(t, models.StatusUnknown, p.Status)
	}

	require.NoError(t, r.StartGame(ctx, ids[0]))
	assert.Equal(t, 1, mustState(t, r, ids[0]).TurnNumber)
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupTestRoom(t, 3, nil)

	require.NoError(t, r.Leave(ctx, ids[2]))
	assert.NotNil(t, mb.last(ids[2], models.EventLeaveRoom))
	assert.Len(t, mustState(t, r, ids[0]).Players, 2)
	assert.ErrorIs(t, r.Leave(ctx, ids[2]), ErrPlayerNotInRoom)

	require.NoError(t, r.StartGame(ctx, ids[0]))
	assert.ErrorIs(t, r.Leave(ctx, ids[1]), ErrInvalidTransition, "no leaving mid-game")
}

func TestUpdateNameAndReady(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupTestRoom(t, 2, nil)

	require.NoError(t, r.UpdateName(ctx, ids[0], "  Ada  "))
	ev := mb.last(ids[0], models.EventNameUpdated)
	require.NotNil(t, ev)
	assert.Equal(t, models.NameUpdated{Name: "Ada"}, ev.Payload)
	assert.ErrorIs(t, r.UpdateName(ctx, ids[0], ""), ErrInvalidPayload)

	require.NoError(t, r.MarkReady(ctx, ids[1]))
	st := mustState(t, r, ids[1])
	assert.Equal(t, "Ada", st.Players[0].Name)
	assert.True(t, st.Players[1].Ready)
	assert.False(t, st.Players[0].Ready)
}

func TestSetConnectedBroadcastsOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupTestRoom(t, 2, nil)

	mb.clear()
	require.NoError(t, r.SetConnected(ctx, ids[1], true))
	assert.Equal(t, 0, mb.total())

	require.NoError(t, r.SetConnected(ctx, ids[1], false))
	upd := mb.last(ids[0], models.EventRoomStateUpdated)
	require.NotNil(t, upd)
	assert.False(t, upd.Payload.(models.RoomStateUpdated).State.Players[1].Connected)
}

func TestSyncMatchesContinuousObserver(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 3, nil)
	playToVoting(t, r, ids[0], ids)

	var got []models.OutboundMessage
	conn := senderFunc(func(msg models.OutboundMessage) bool {
		got = append(got, msg)
		return true
	})
	require.NoError(t, r.Sync(ctx, ids[1], conn))
	require.Len(t, got, 2)

	live := mb.last(ids[1], models.EventRoomStateUpdated)
	require.NotNil(t, live)
	assert.Equal(t, live.Payload, got[0].Payload, "reconnect snapshot equals what a connected player last saw")
	assert.Equal(t, models.EventCardsDealt, got[1].Type)

	assert.ErrorIs(t, r.Sync(ctx, uuid.New(), conn), ErrPlayerNotInRoom)
}

func TestScoresIndependentOfVoteOrder(t *testing.T) {
	ctx := context.Background()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}

	play := func(order []int) models.TurnScore {
		mb := newMockBroadcaster()
		r := NewRoom("order", testOptions(), mb.send, nil, testLogger())
		defer r.Stop()
		for i, id := range ids {
			require.NoError(t, r.Join(ctx, id, fmt.Sprintf("p%d", i)))
		}
		require.NoError(t, r.StartGame(ctx, ids[0]))
		story, decoys := playToVoting(t, r, ids[0], ids)
		choice := map[uuid.UUID]models.CardID{
			ids[1]: story,
			ids[2]: decoys[ids[3]],
			ids[3]: decoys[ids[1]],
		}
		for _, i := range order {
			require.NoError(t, r.Vote(ctx, ids[i], choice[ids[i]]))
		}
		st := mustState(t, r, ids[0])
		require.Len(t, st.Scores, 1)
		return st.Scores[0]
	}

	a := play([]int{1, 2, 3})
	b := play([]int{3, 1, 2})
	c := play([]int{2, 3, 1})
	for _, id := range ids {
		ea, _ := a.Entry(id)
		eb, _ := b.Entry(id)
		ec, _ := c.Entry(id)
		assert.Equal(t, ea.Delta, eb.Delta)
		assert.Equal(t, ea.Delta, ec.Delta)
	}
}

func TestConcurrentVotesProduceOneOutcome(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 6, nil)
	story, _ := playToVoting(t, r, ids[0], ids)

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*2)
	for _, id := range ids[1:] {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				errs <- r.Vote(ctx, id, story)
			}(id)
		}
	}
	wg.Wait()
	close(errs)

	accepted, rejected := 0, 0
	for err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition)
			rejected++
		}
	}
	assert.Equal(t, 5, accepted, "exactly one vote per voter is accepted")
	assert.Equal(t, 5, rejected)

	assert.Len(t, mb.ofType(ids[0], models.EventRoundEnded), 1, "the turn is scored once")
	st := mustState(t, r, ids[0])
	for _, p := range st.Players {
		if p.ID == ids[0] {
			assert.Equal(t, 0, p.Points)
		} else {
			assert.Equal(t, 2, p.Points)
		}
	}
}

func TestPanicMarksRoomFailed(t *testing.T) {
	ctx := context.Background()
	r, ids, _ := setupTestRoom(t, 2, nil)

	err := r.do(ctx, "boom", func() error { panic("corrupt roster") })
	assert.ErrorIs(t, err, ErrRoomFailed)
	assert.True(t, r.Failed())

	assert.ErrorIs(t, r.StartGame(ctx, ids[0]), ErrRoomFailed)
}

func TestStoppedRoomRejectsActions(t *testing.T) {
	r, ids, _ := setupTestRoom(t, 1, nil)
	r.Stop()
	assert.ErrorIs(t, r.MarkReady(context.Background(), ids[0]), ErrRoomNotFound)
}

func TestCanJoinLeavesRoomUntouched(t *testing.T) {
	ctx := context.Background()
	r, ids, mb := setupStartedRoom(t, 2, nil)
	mb.clear()

	assert.ErrorIs(t, r.CanJoin(ctx, uuid.New(), "zed"), ErrGameAlreadyStarted)
	assert.ErrorIs(t, r.CanJoin(ctx, uuid.New(), " "), ErrInvalidPayload)
	assert.NoError(t, r.CanJoin(ctx, ids[0], ""), "members may rejoin mid-game")
	assert.Zero(t, mb.total())

	name, err := r.MemberName(ctx, ids[1])
	require.NoError(t, err)
	assert.NotEmpty(t, name)
	_, err = r.MemberName(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPlayerNotInRoom)
}

func TestQueuedTaskOutlivesCancelledCaller(t *testing.T) {
	r, _, _ := setupTestRoom(t, 1, nil)
	started, release := make(chan struct{}), make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- r.do(context.Background(), "block", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	joined := make(chan error, 1)
	late := uuid.New()
	go func() { joined <- r.Join(ctx, late, "late") }()
	require.Eventually(t, func() bool { return len(r.tasks) == 1 }, time.Second, time.Millisecond)
	cancel()
	close(release)

	require.NoError(t, <-blocked)
	assert.NoError(t, <-joined, "a queued join reports its real outcome")
	name, err := r.MemberName(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, "late", name)
}

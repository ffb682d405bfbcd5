// internal/game/turn.go
package game

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
)

// startGame deals full hands and opens turn 1. A room that is already playing is left as is.
func (r *Room) startGame(id uuid.UUID) error {
	if _, err := r.member(id); err != nil {
		return err
	}
	switch r.gameState {
	case models.GamePlaying:
		return nil
	case models.GameFinished:
		return fmt.Errorf("%w: game is finished, restart it first", ErrInvalidTransition)
	}
	if len(r.players) < r.opts.MinPlayers {
		return fmt.Errorf("%w: need at least %d players, have %d", ErrInvalidTransition, r.opts.MinPlayers, len(r.players))
	}
	if r.opts.RequireReady {
		for _, p := range r.players {
			if !p.Ready {
				return fmt.Errorf("%w: %s is not ready", ErrInvalidTransition, p.Name)
			}
		}
	}
	if err := r.refillHands(uuid.Nil); err != nil {
		return err
	}

	r.gameState = models.GamePlaying
	r.turnNumber = 1
	r.beginTurn(0)

	r.record(id, models.ActionStartGame, map[string]interface{}{"players": len(r.players)})
	r.touch()
	return nil
}

// beginTurn hands out roles for a new turn with the storyteller at roster index idx.
func (r *Room) beginTurn(idx int) {
	r.clearTurn()
	r.storyPlayerID = r.players[idx].ID
	for _, p := range r.players {
		if p.ID == r.storyPlayerID {
			p.Status = models.StatusStoryTelling
		} else {
			p.Status = models.StatusPickingCard
		}
	}
	r.turnState = models.TurnWaitingForStory
}

// refillHands tops every hand except skip's up to the hand size. Nothing is drawn unless
// every hand can be filled.
func (r *Room) refillHands(skip uuid.UUID) error {
	need := 0
	for _, p := range r.players {
		if p.ID != skip && len(p.Hand) < r.opts.HandSize {
			need += r.opts.HandSize - len(p.Hand)
		}
	}
	if need == 0 {
		return nil
	}
	if avail := r.pool.Available(); avail < need {
		return fmt.Errorf("%w: %d cards needed to refill hands, %d left", ErrPoolExhausted, need, avail)
	}

	for _, p := range r.players {
		if p.ID == skip || len(p.Hand) >= r.opts.HandSize {
			continue
		}
		drawn, err := r.pool.Draw(r.opts.HandSize - len(p.Hand))
		if err != nil {
			// Availability was checked above; the pool is corrupt.
			panic(fmt.Sprintf("refill after availability check: %v", err))
		}
		p.Hand = append(p.Hand, drawn...)
		r.queueHand(p)
	}
	return nil
}

func (r *Room) submitStory(id uuid.UUID, story string, card models.CardID) error {
	p, err := r.member(id)
	if err != nil {
		return err
	}
	if r.gameState != models.GamePlaying || r.turnState != models.TurnWaitingForStory {
		return fmt.Errorf("%w: no story expected while %s", ErrInvalidTransition, r.turnState)
	}
	if id != r.storyPlayerID {
		return fmt.Errorf("%w: only the storyteller can submit the story", ErrInvalidTransition)
	}
	story = strings.TrimSpace(story)
	if story == "" {
		return fmt.Errorf("%w: story is required", ErrInvalidPayload)
	}
	if !p.hasCard(card) {
		return fmt.Errorf("%w: card %d is not in your hand", ErrInvalidTransition, card)
	}

	p.removeCard(card)
	p.Status = models.StatusStorySubmitted
	r.story = story
	r.storyCard = card
	r.turnState = models.TurnGuessing
	r.record(id, models.ActionSubmitStory, map[string]interface{}{"story": story, "card": card})
	r.queueHand(p)
	r.touch()

	if err := r.refillHands(id); err != nil {
		r.endOnExhaustion(err)
		return nil
	}
	r.maybeStartVoting()
	return nil
}

func (r *Room) submitStoryCard(id uuid.UUID, card models.CardID) error {
	p, err := r.member(id)
	if err != nil {
		return err
	}
	if r.gameState != models.GamePlaying || r.turnState != models.TurnGuessing {
		return fmt.Errorf("%w: no cards expected while %s", ErrInvalidTransition, r.turnState)
	}
	if id == r.storyPlayerID {
		return fmt.Errorf("%w: the storyteller already played a card", ErrInvalidTransition)
	}
	if _, done := r.submitted[id]; done {
		return fmt.Errorf("%w: card already submitted this turn", ErrInvalidTransition)
	}
	if !p.hasCard(card) {
		return fmt.Errorf("%w: card %d is not in your hand", ErrInvalidTransition, card)
	}
	if _, taken := r.submittedBy[card]; taken || card == r.storyCard {
		return fmt.Errorf("%w: card %d is already on the table", ErrInvalidTransition, card)
	}

	p.removeCard(card)
	p.Status = models.StatusSubmittedCard
	r.submitted[id] = card
	r.submittedBy[card] = id
	r.record(id, models.ActionSubmitCard, map[string]interface{}{"card": card})
	r.queueHand(p)
	r.touch()

	r.maybeStartVoting()
	return nil
}

// maybeStartVoting opens the vote once every non-storyteller has played a card.
func (r *Room) maybeStartVoting() {
	if r.turnState != models.TurnGuessing || len(r.submitted) < len(r.players)-1 {
		return
	}

	r.votePool = make([]models.CardID, 0, len(r.submitted)+1)
	r.votePool = append(r.votePool, r.storyCard)
	for _, p := range r.players {
		if card, ok := r.submitted[p.ID]; ok {
			r.votePool = append(r.votePool, card)
		}
	}
	r.rng.Shuffle(len(r.votePool), func(i, j int) {
		r.votePool[i], r.votePool[j] = r.votePool[j], r.votePool[i]
	})

	for _, p := range r.players {
		p.Status = models.StatusVoting
	}
	r.turnState = models.TurnVoting
	r.touch()

	r.maybeFinishVoting()
}

func (r *Room) vote(id uuid.UUID, card models.CardID) error {
	p, err := r.member(id)
	if err != nil {
		return err
	}
	if r.gameState != models.GamePlaying || r.turnState != models.TurnVoting {
		return fmt.Errorf("%w: no votes expected while %s", ErrInvalidTransition, r.turnState)
	}
	if id == r.storyPlayerID {
		return fmt.Errorf("%w: the storyteller does not vote", ErrInvalidTransition)
	}
	if _, done := r.votes[id]; done {
		return fmt.Errorf("%w: already voted this turn", ErrInvalidTransition)
	}
	if !slices.Contains(r.votePool, card) {
		return fmt.Errorf("%w: card %d is not on the table", ErrInvalidTransition, card)
	}
	if r.submittedBy[card] == id {
		return fmt.Errorf("%w: cannot vote for your own card", ErrInvalidTransition)
	}

	r.votes[id] = card
	p.Status = models.StatusVoteSubmitted
	r.record(id, models.ActionVote, map[string]interface{}{"card": card})
	r.touch()

	r.maybeFinishVoting()
	return nil
}

func (r *Room) maybeFinishVoting() {
	if r.turnState != models.TurnVoting || len(r.votes) < len(r.players)-1 {
		return
	}
	r.finishTurn()
}

// finishTurn scores the turn, appends it to the score log and announces the round.
func (r *Room) finishTurn() {
	deltas, result := scoreTurn(tally{
		storyteller: r.storyPlayerID,
		players:     r.playerIDs(),
		storyCard:   r.storyCard,
		submitted:   r.submitted,
		votes:       r.votes,
	})

	votesFrom := make(map[models.CardID][]uuid.UUID)
	for _, p := range r.players {
		if card, ok := r.votes[p.ID]; ok {
			votesFrom[card] = append(votesFrom[card], p.ID)
		}
	}

	ts := models.TurnScore{Turn: r.turnNumber, StoryCard: r.storyCard, Result: result}
	logDeltas := make(map[string]interface{}, len(r.players))
	var teller *Player
	for _, p := range r.players {
		played := r.submitted[p.ID]
		if p.ID == r.storyPlayerID {
			played = r.storyCard
			teller = p
		}
		entry := models.ScoreEntry{
			PlayerID:        p.ID,
			PlayerName:      p.Name,
			ScoreBefore:     p.Points,
			Delta:           deltas[p.ID],
			WasStoryTelling: p.ID == r.storyPlayerID,
			SubmittedCard:   played,
			VotedFor:        r.votes[p.ID],
			VotesFrom:       append([]uuid.UUID{}, votesFrom[played]...),
		}
		p.Points += entry.Delta
		entry.Score = p.Points
		p.Status = models.StatusFinished
		ts.Entries = append(ts.Entries, entry)
		logDeltas[p.ID.String()] = entry.Delta
	}
	r.scoreLog = append(r.scoreLog, ts)
	r.turnState = models.TurnFinished

	r.queueAll(models.EventRoundEnded, r.roundEnded(ts, teller))
	r.record(r.storyPlayerID, models.ActionTurnScored, map[string]interface{}{
		"turn":   r.turnNumber,
		"result": result,
		"deltas": logDeltas,
	})
	r.touch()

	if r.opts.AutoAdvance {
		r.advance(r.storyPlayerID)
	}
}

func (r *Room) roundEnded(ts models.TurnScore, teller *Player) models.RoundEnded {
	out := models.RoundEnded{
		Turn:      ts.Turn,
		StoryCard: r.storyCard,
		Result:    ts.Result,
		Scores:    ts.Entries,
	}
	if teller != nil {
		out.StoryPlayerName = teller.Name
	}
	received := make(map[models.CardID]int)
	for _, p := range r.players {
		if card, ok := r.votes[p.ID]; ok {
			received[card]++
			out.Votes = append(out.Votes, models.VoteView{VoterID: p.ID, VoterName: p.Name, CardID: card})
		}
	}
	for _, p := range r.players {
		card, ok := r.submitted[p.ID]
		isStory := p.ID == r.storyPlayerID
		if isStory {
			card, ok = r.storyCard, true
		}
		if !ok {
			continue
		}
		out.CardsSubmitted = append(out.CardsSubmitted, models.SubmissionView{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			CardID:     card,
			IsStory:    isStory,
			Votes:      received[card],
		})
	}
	return out
}

// advanceTurn moves a finished turn on to the next storyteller.
func (r *Room) advanceTurn(id uuid.UUID) error {
	if _, err := r.member(id); err != nil {
		return err
	}
	if r.gameState != models.GamePlaying || r.turnState != models.TurnFinished {
		return fmt.Errorf("%w: the turn is not finished", ErrInvalidTransition)
	}
	r.advance(id)
	return nil
}

func (r *Room) advance(actor uuid.UUID) {
	r.releaseTable()

	if reason, over := r.gameOver(); over {
		r.finishGame(actor, reason)
		return
	}
	if err := r.refillHands(uuid.Nil); err != nil {
		r.endOnExhaustion(err)
		return
	}

	next := (r.storytellerIndex() + 1) % len(r.players)
	r.turnNumber++
	r.beginTurn(next)
	r.record(actor, models.ActionAdvanceTurn, map[string]interface{}{"turn": r.turnNumber, "storyteller": r.storyPlayerID})
	r.touch()
}

// releaseTable returns the story card and the decoys of the current turn to the pool.
func (r *Room) releaseTable() {
	if r.storyCard != 0 {
		r.pool.Release(r.storyCard)
	}
	for _, card := range r.submitted {
		r.pool.Release(card)
	}
}

func (r *Room) gameOver() (string, bool) {
	if r.opts.MaxTurns > 0 && r.turnNumber >= r.opts.MaxTurns {
		return "max_turns", true
	}
	if r.opts.MaxScore > 0 {
		for _, p := range r.players {
			if p.Points >= r.opts.MaxScore {
				return "max_score", true
			}
		}
	}
	return "", false
}

// endOnExhaustion ends the game when the deck can no longer serve the table and tells every member why.
func (r *Room) endOnExhaustion(err error) {
	r.logger.Warnf("Ending game at turn %d: %v", r.turnNumber, err)
	msg := ErrorMessage(err)
	r.queueAll(msg.Type, msg.Payload)
	r.releaseTable()
	r.finishGame(uuid.Nil, "pool_exhausted")
}

func (r *Room) finishGame(actor uuid.UUID, reason string) {
	scores := make(map[string]interface{}, len(r.players))
	for _, p := range r.players {
		r.pool.Release(p.Hand...)
		p.Hand = nil
		p.Status = models.StatusFinished
		r.queueHand(p)
		scores[p.ID.String()] = p.Points
	}
	r.gameState = models.GameFinished
	r.turnState = models.TurnFinished

	r.record(actor, models.ActionGameEnd, map[string]interface{}{
		"reason": reason,
		"turns":  r.turnNumber,
		"scores": scores,
	})
	r.logger.Infof("Game finished after %d turns (%s)", r.turnNumber, reason)
	r.touch()
}

// restartGame returns a finished room to the waiting state with a fresh deck.
func (r *Room) restartGame(id uuid.UUID) error {
	if _, err := r.member(id); err != nil {
		return err
	}
	if r.gameState != models.GameFinished {
		return fmt.Errorf("%w: only a finished game can be restarted", ErrInvalidTransition)
	}

	r.pool.Reset()
	for _, p := range r.players {
		p.Hand = nil
		p.Points = 0
		p.Ready = false
		p.Status = models.StatusUnknown
		r.queueHand(p)
	}
	r.clearTurn()
	r.gameState = models.GameWaiting
	r.turnState = models.TurnWaiting
	r.turnNumber = 0
	r.storyPlayerID = uuid.Nil
	r.scoreLog = nil

	r.record(id, models.ActionRestartGame, nil)
	r.touch()
	return nil
}

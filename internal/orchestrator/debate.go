package orchestrator

import (
	"context"

	"github.com/google/uuid"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/recovery"
	"github.com/rostrum-oss/rostrum/internal/state"
)

// DefaultConsensusThreshold is the confidence both sides must reach for
// the default consensus rule.
const DefaultConsensusThreshold = 0.75

// DefaultDebateRounds bounds a session that doesn't set its own limit.
const DefaultDebateRounds = 3

// Turn is one agent's contribution to a debate.
type Turn struct {
	AgentID    string   `json:"agent_id"`
	Round      int      `json:"round"`
	Statement  string   `json:"statement"`
	Evidence   []string `json:"evidence,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Debater argues one side of a topic. Argue sees the transcript so far
// and returns the side's next turn.
type Debater interface {
	Argue(ctx context.Context, topic string, transcript []Turn) (Turn, error)
}

// ConsensusFunc judges whether the transcript has reached consensus. It
// runs at each round boundary.
type ConsensusFunc func(transcript []Turn) bool

// DebateSession describes a structured two-sided debate. Proponent and
// Opponent alternate turns, proponent first, for at most Rounds rounds.
type DebateSession struct {
	ID        string
	Topic     string
	Rounds    int
	Proponent Debater
	Opponent  Debater

	// Consensus overrides the default rule, which requires the latest
	// confidence of both sides to reach Threshold.
	Consensus ConsensusFunc
	Threshold float64
}

// DebateOutcome reports how a session ended.
type DebateOutcome struct {
	SessionID  string
	Status     state.DebateStatus
	Rounds     int
	Transcript []Turn
}

// RunDebate moderates the session: each round the proponent argues, then
// the opponent, every turn is announced on the bus, and the consensus
// rule is checked at the round boundary. A session that exhausts its
// rounds without consensus fails. Argue errors go through the recovery
// policy before they end the debate.
func (o *Orchestrator) RunDebate(ctx context.Context, s *DebateSession) (DebateOutcome, error) {
	out := DebateOutcome{}
	if s == nil {
		return out, rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"debate session is nil")
	}
	if s.Topic == "" {
		return out, rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"debate topic is required")
	}
	if s.Proponent == nil || s.Opponent == nil {
		return out, rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"debate needs both a proponent and an opponent")
	}

	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}
	out.SessionID = id
	rounds := s.Rounds
	if rounds <= 0 {
		rounds = DefaultDebateRounds
	}
	consensus := s.Consensus
	if consensus == nil {
		threshold := s.Threshold
		if threshold <= 0 {
			threshold = DefaultConsensusThreshold
		}
		consensus = bothConfident(threshold)
	}

	if _, err := o.manager.CreateCheckpoint(ctx); err != nil {
		o.logger.Warn("pre-debate checkpoint failed", "debate_id", id, "error", err)
	}

	if err := o.tracker.SetDebateState(id, state.DebateInProgress, map[string]interface{}{
		"topic":  s.Topic,
		"rounds": rounds,
	}); err != nil {
		return out, err
	}

	trace := o.trace.WithDebate(id)
	rctx := recovery.Context{
		ErrorID:   trace.ErrorID(),
		Component: "orchestrator",
		Operation: "run_debate",
	}

	var transcript []Turn
	for round := 1; round <= rounds; round++ {
		for _, side := range []Debater{s.Proponent, s.Opponent} {
			if err := ctx.Err(); err != nil {
				return o.endDebate(id, out, transcript, round-1, state.DebateTerminated, nil), err
			}
			if st, _ := o.tracker.GetDebateState(id); st != state.DebateInProgress {
				// Stopped from outside between turns.
				out.Status = st
				out.Rounds = round - 1
				out.Transcript = transcript
				return out, rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeDebateStopped,
					"debate %s was stopped", id)
			}

			turn, err := o.argue(ctx, side, s.Topic, transcript, rctx)
			if err != nil {
				return o.endDebate(id, out, transcript, round, state.DebateFailed,
					map[string]interface{}{"error": err.Error()}), err
			}
			turn.Round = round
			transcript = append(transcript, turn)
			o.publishTurn(id, turn)
		}

		o.bus.Publish(debateEvent(event.RoundCompleted, id, map[string]interface{}{
			"round": round,
			"turns": len(transcript),
		}))

		if consensus(transcript) {
			out.Status = state.DebateConsensus
			out.Rounds = round
			out.Transcript = transcript
			if err := o.tracker.SetDebateState(id, state.DebateConsensus, map[string]interface{}{
				"rounds": round,
			}); err != nil {
				return out, err
			}
			o.logger.Info("debate reached consensus", "debate_id", id, "rounds", round)
			return out, nil
		}
	}

	cause := rostrumErrors.Newf(rostrumErrors.KindAgent, rostrumErrors.CodeNoConsensus,
		"debate %s ended without consensus after %d rounds", id, rounds)
	return o.endDebate(id, out, transcript, rounds, state.DebateFailed,
		map[string]interface{}{"error": cause.Error()}), cause
}

// StopDebate terminates a session from outside. The moderation loop
// notices before the next turn.
func (o *Orchestrator) StopDebate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.tracker.SetDebateState(id, state.DebateTerminated, nil)
}

// DebateStatus reports a session's lifecycle state.
func (o *Orchestrator) DebateStatus(id string) (state.DebateStatus, bool) {
	return o.tracker.GetDebateState(id)
}

// argue invokes one side with the recovery policy around it, mirroring
// what the executor middleware does for tasks.
func (o *Orchestrator) argue(ctx context.Context, side Debater, topic string, transcript []Turn, rctx recovery.Context) (Turn, error) {
	for {
		turn, err := side.Argue(ctx, topic, transcript)
		if err == nil {
			return turn, nil
		}
		if herr := o.manager.Handle(ctx, err, rctx); herr != nil {
			return Turn{}, herr
		}
	}
}

// endDebate records a terminal transition and fills in the outcome.
func (o *Orchestrator) endDebate(id string, out DebateOutcome, transcript []Turn, rounds int, st state.DebateStatus, detail map[string]interface{}) DebateOutcome {
	out.Status = st
	out.Rounds = rounds
	out.Transcript = transcript
	if err := o.tracker.SetDebateState(id, st, detail); err != nil {
		o.logger.Error("debate state update failed", "debate_id", id, "error", err)
	}
	return out
}

// publishTurn announces one argument, plus its evidence when present.
func (o *Orchestrator) publishTurn(id string, turn Turn) {
	o.bus.Publish(debateEvent(event.ArgumentSubmitted, id, map[string]interface{}{
		"agent_id":   turn.AgentID,
		"round":      turn.Round,
		"statement":  turn.Statement,
		"confidence": turn.Confidence,
	}))
	if len(turn.Evidence) > 0 {
		o.bus.Publish(debateEvent(event.EvidencePresented, id, map[string]interface{}{
			"agent_id": turn.AgentID,
			"round":    turn.Round,
			"evidence": turn.Evidence,
		}))
	}
}

func debateEvent(t event.EventType, debateID string, data map[string]interface{}) event.Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["debate_id"] = debateID
	ev := event.New(t, data)
	if agent, ok := data["agent_id"].(string); ok {
		ev.AgentID = agent
	}
	return ev
}

// bothConfident is the default consensus rule: the most recent turn of
// each side must carry at least the threshold confidence.
func bothConfident(threshold float64) ConsensusFunc {
	return func(transcript []Turn) bool {
		latest := make(map[string]float64)
		for _, t := range transcript {
			latest[t.AgentID] = t.Confidence
		}
		if len(latest) < 2 {
			return false
		}
		for _, c := range latest {
			if c < threshold {
				return false
			}
		}
		return true
	}
}

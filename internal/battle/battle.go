// Package battle keeps active PK battles and aggregates gift coins into
// their scores.
package battle

import (
	"crypto/rand"
	"errors"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
)

var (
	ErrBattleNotFound  = errors.New("battle not found")
	ErrSelfBattle      = errors.New("cannot battle yourself")
	ErrAlreadyInBattle = errors.New("streamer already in a battle")
	ErrNotParticipant  = errors.New("streamer is not a battle participant")
	ErrInvalidPoints   = errors.New("gift points must be positive")
	ErrScoreOverflow   = errors.New("gift would overflow the battle score")
)

// Battle is shared by both participants; the directory indexes the same
// pointer under SideA and SideB.
type Battle struct {
	ID        string // ULID, sorts by start time
	SideA     string
	SideB     string
	ScoreA    int64
	ScoreB    int64
	StartedAt time.Time
}

// Opponent returns the other participant of id.
func (b *Battle) Opponent(id string) string {
	if id == b.SideA {
		return b.SideB
	}
	return b.SideA
}

// State returns a copy safe to use outside the owning lock.
func (b *Battle) State() domain.BattleState {
	return domain.BattleState{
		ID:        b.ID,
		StreamerA: b.SideA,
		ScoreA:    b.ScoreA,
		StreamerB: b.SideB,
		ScoreB:    b.ScoreB,
		StartedAt: b.StartedAt,
	}
}

// Directory indexes battles by participant. Not safe for concurrent use.
type Directory struct {
	battles map[string]*Battle
}

func NewDirectory() *Directory {
	return &Directory{battles: make(map[string]*Battle)}
}

// Accept starts a battle between requester (side A) and accepter (side B).
func (d *Directory) Accept(requester, accepter string, now time.Time) (*Battle, error) {
	if requester == accepter {
		return nil, ErrSelfBattle
	}
	if _, ok := d.battles[requester]; ok {
		return nil, ErrAlreadyInBattle
	}
	if _, ok := d.battles[accepter]; ok {
		return nil, ErrAlreadyInBattle
	}

	b := &Battle{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		SideA:     requester,
		SideB:     accepter,
		StartedAt: now,
	}
	d.battles[requester] = b
	d.battles[accepter] = b
	return b, nil
}

// ApplyGift adds coins to the side whose id matches target exactly. A gift
// that would overflow the score is rejected and leaves it unchanged.
func (d *Directory) ApplyGift(target string, coins int64) (domain.BattleState, error) {
	if coins <= 0 {
		return domain.BattleState{}, ErrInvalidPoints
	}
	b, ok := d.battles[target]
	if !ok {
		return domain.BattleState{}, ErrBattleNotFound
	}

	var score *int64
	switch target {
	case b.SideA:
		score = &b.ScoreA
	case b.SideB:
		score = &b.ScoreB
	default:
		return domain.BattleState{}, ErrNotParticipant
	}
	if *score > math.MaxInt64-coins {
		return domain.BattleState{}, ErrScoreOverflow
	}
	*score += coins
	return b.State(), nil
}

// Lookup returns the battle id participates in.
func (d *Directory) Lookup(id string) (*Battle, bool) {
	b, ok := d.battles[id]
	return b, ok
}

// Opponent returns the opponent of id, or "" when id is not battling.
func (d *Directory) Opponent(id string) string {
	b, ok := d.battles[id]
	if !ok {
		return ""
	}
	return b.Opponent(id)
}

// Teardown removes the battle id participates in, from both sides.
func (d *Directory) Teardown(id string) (*Battle, bool) {
	b, ok := d.battles[id]
	if !ok {
		return nil, false
	}
	delete(d.battles, b.SideA)
	delete(d.battles, b.SideB)
	return b, true
}

// Count returns the number of distinct active battles.
func (d *Directory) Count() int {
	return len(d.battles) / 2
}

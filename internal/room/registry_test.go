package room

import (
	"errors"
	"sync"
	"testing"

	"github.com/park285/chess-arena-server/internal/game"
)

func headsCoin() bool { return true }

func TestJoinAssignsRandomThenRemainingColor(t *testing.T) {
	reg := NewRegistry()

	err := reg.WithRoom("r1", func(r *Room) error {
		p1, err := r.Join("c1", "alice", "", headsCoin)
		if err != nil {
			t.Fatalf("first join: %v", err)
		}
		if p1.Color != game.White {
			t.Fatalf("first seat color = %s, want white from heads coin", p1.Color)
		}

		p2, err := r.Join("c2", "bob", "random", headsCoin)
		if err != nil {
			t.Fatalf("second join: %v", err)
		}
		if p2.Color != game.Black {
			t.Fatalf("second seat color = %s, want the free color", p2.Color)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRoom: %v", err)
	}
}

func TestJoinDuplicateUserRejected(t *testing.T) {
	reg := NewRegistry()

	_ = reg.WithRoom("r1", func(r *Room) error {
		if _, err := r.Join("c1", "alice", "white", headsCoin); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, err := r.Join("c2", "alice", "black", headsCoin); !errors.Is(err, ErrAlreadyJoined) {
			t.Fatalf("expected ErrAlreadyJoined, got %v", err)
		}
		if r.Size() != 1 {
			t.Fatalf("membership mutated: size=%d", r.Size())
		}
		return nil
	})
}

func TestJoinExplicitColorTakenRejected(t *testing.T) {
	reg := NewRegistry()

	_ = reg.WithRoom("r1", func(r *Room) error {
		if _, err := r.Join("c1", "alice", "white", headsCoin); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, err := r.Join("c2", "bob", "white", headsCoin); !errors.Is(err, ErrColorTaken) {
			t.Fatalf("expected ErrColorTaken, got %v", err)
		}
		return nil
	})
}

func TestJoinFullRoomRejected(t *testing.T) {
	reg := NewRegistry()

	_ = reg.WithRoom("r1", func(r *Room) error {
		if _, err := r.Join("c1", "alice", "white", headsCoin); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, err := r.Join("c2", "bob", "black", headsCoin); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, err := r.Join("c3", "carol", "", headsCoin); !errors.Is(err, ErrRoomFull) {
			t.Fatalf("expected ErrRoomFull, got %v", err)
		}
		return nil
	})
}

func TestEmptyRoomIsDeleted(t *testing.T) {
	reg := NewRegistry()

	_ = reg.WithRoom("r1", func(r *Room) error {
		if _, err := r.Join("c1", "alice", "white", headsCoin); err != nil {
			t.Fatalf("join: %v", err)
		}
		return nil
	})
	if !reg.Exists("r1") {
		t.Fatal("occupied room missing from registry")
	}

	_ = reg.WithRoom("r1", func(r *Room) error {
		if p := r.RemoveConn("c1"); p == nil || p.UserID != "alice" {
			t.Fatalf("RemoveConn returned %+v", p)
		}
		return nil
	})
	if reg.Exists("r1") {
		t.Fatal("empty room still in registry")
	}
}

func TestLookupRoomWithoutJoinLeavesNoResidue(t *testing.T) {
	reg := NewRegistry()

	_ = reg.WithRoom("ghost", func(r *Room) error { return nil })
	if reg.Exists("ghost") {
		t.Fatal("zero-member room persisted")
	}
}

func TestConcurrentJoinsAdmitExactlyTwo(t *testing.T) {
	reg := NewRegistry()

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = reg.WithRoom("r1", func(r *Room) error {
				_, err := r.Join(
					"conn"+string(rune('a'+n)),
					"user"+string(rune('a'+n)),
					"random",
					Coin,
				)
				if err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	if admitted != MaxParticipants {
		t.Fatalf("admitted %d participants, want %d", admitted, MaxParticipants)
	}

	_ = reg.WithRoom("r1", func(r *Room) error {
		if r.Size() != MaxParticipants {
			t.Fatalf("room size = %d", r.Size())
		}
		if r.ByColor(game.White) == nil || r.ByColor(game.Black) == nil {
			t.Fatal("colors not distinct after concurrent joins")
		}
		return nil
	})
}

func TestSnapshotReportsMembership(t *testing.T) {
	reg := NewRegistry()

	_ = reg.WithRoom("r1", func(r *Room) error {
		_, err := r.Join("c1", "alice", "white", headsCoin)
		return err
	})

	snap := reg.Snapshot()
	if len(snap) != 1 || len(snap["r1"]) != 1 || snap["r1"][0].UserID != "alice" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

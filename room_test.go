package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return newRegistry(&Config{}, cryptoSource{})
}

func TestCreateRoom(t *testing.T) {
	reg := newTestRegistry()

	room := reg.CreateRoom()

	require.Len(t, room.code, codeLength)
	for _, c := range room.code {
		require.Contains(t, codeAlphabet, string(c))
	}

	require.NotEmpty(t, room.hostToken)
	require.NotEmpty(t, room.scenario)
	require.NotEmpty(t, room.bunker)
	require.Zero(t, room.revealStage)

	for i, slot := range room.slots {
		require.Equal(t, i, slot.Index)
		require.NotEmpty(t, slot.Profile.Traits)
		require.False(t, slot.occupied())
	}

	found, ok := reg.Lookup(room.code)
	require.True(t, ok)
	require.Same(t, room, found)

	found, ok = reg.FindByHostToken(room.hostToken)
	require.True(t, ok)
	require.Same(t, room, found)

	_, ok = reg.FindByHostToken("bogus")
	require.False(t, ok)
}

func TestJoinAllocatesLowestSlot(t *testing.T) {
	reg := newTestRegistry()
	room := reg.CreateRoom()

	room.mu.Lock()
	defer room.mu.Unlock()

	for i := 0; i < maxPlayers; i++ {
		slot, err := room.joinLocked("survivor")
		require.NoError(t, err)
		require.Equal(t, i, slot.Index)
		require.NotEmpty(t, slot.Occupant.Token)
	}

	_, err := room.joinLocked("too late")
	require.ErrorIs(t, err, errCapacity)
}

func TestJoinNameFallback(t *testing.T) {
	reg := newTestRegistry()
	room := reg.CreateRoom()

	room.mu.Lock()
	defer room.mu.Unlock()

	slot, err := room.joinLocked("   ")
	require.NoError(t, err)
	require.Equal(t, "Player 1", slot.Occupant.Name)

	slot, err = room.joinLocked("  Ada  ")
	require.NoError(t, err)
	require.Equal(t, "Ada", slot.Occupant.Name)
}

func TestLeaveFreesSlotForReuse(t *testing.T) {
	reg := newTestRegistry()
	room := reg.CreateRoom()

	room.mu.Lock()
	first, err := room.joinLocked("first")
	require.NoError(t, err)
	_, err = room.joinLocked("second")
	require.NoError(t, err)

	oldToken := first.Occupant.Token
	oldProfile := first.Profile

	room.vacateLocked(first)
	require.False(t, first.occupied())
	require.Nil(t, room.slotByTokenLocked(oldToken))

	// The freed seat is the lowest vacant index again, and it keeps the
	// profile generated at room creation.
	reused, err := room.joinLocked("third")
	require.NoError(t, err)
	require.Equal(t, 0, reused.Index)
	require.Equal(t, oldProfile, reused.Profile)
	require.NotEqual(t, oldToken, reused.Occupant.Token)
	room.mu.Unlock()

	_, ok := reg.FindByPlayerToken(oldToken)
	require.False(t, ok)

	room.mu.Lock()
	token := reused.Occupant.Token
	room.mu.Unlock()

	found, ok := reg.FindByPlayerToken(token)
	require.True(t, ok)
	require.Same(t, room, found)
}

func TestRevealStageBounds(t *testing.T) {
	reg := newTestRegistry()
	room := reg.CreateRoom()

	room.mu.Lock()
	defer room.mu.Unlock()

	actions := []string{
		"advance", "advance", "reset", "advance", "advance", "advance",
		"advance", "advance", "advance", "advance", "advance", "advance",
		"advance", "reset", "advance",
	}

	for _, action := range actions {
		switch action {
		case "advance":
			room.advanceLocked()
		case "reset":
			room.resetLocked()
		}

		require.GreaterOrEqual(t, room.revealStage, 0)
		require.LessOrEqual(t, room.revealStage, len(traitSequence))
	}
}

func TestRevealAdvanceIdempotentAtEnd(t *testing.T) {
	reg := newTestRegistry()
	room := reg.CreateRoom()

	room.mu.Lock()
	defer room.mu.Unlock()

	for range traitSequence {
		_, moved, err := room.advanceLocked()
		require.NoError(t, err)
		require.True(t, moved)
	}

	stage, moved, err := room.advanceLocked()
	require.NoError(t, err)
	require.False(t, moved)
	require.Equal(t, len(traitSequence), stage)

	stage, err = room.resetLocked()
	require.NoError(t, err)
	require.Zero(t, stage)
}

func TestConcurrentJoinsLastSlot(t *testing.T) {
	reg := newTestRegistry()
	room := reg.CreateRoom()

	room.mu.Lock()
	for i := 0; i < maxPlayers-1; i++ {
		_, err := room.joinLocked("filler")
		require.NoError(t, err)
	}
	room.mu.Unlock()

	results := make(chan error, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			room.mu.Lock()
			_, err := room.joinLocked("racer")
			room.mu.Unlock()

			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, errCapacity)
			failures++
		}
	}

	require.Equal(t, 1, successes)
	require.Equal(t, 1, failures)

	// No double assignment: tokens are distinct across occupied seats.
	room.mu.Lock()
	defer room.mu.Unlock()

	seen := make(map[string]bool)
	for _, slot := range room.slots {
		require.True(t, slot.occupied())
		require.False(t, seen[slot.Occupant.Token])
		seen[slot.Occupant.Token] = true
	}
}

func TestVisibilityScoping(t *testing.T) {
	reg := newTestRegistry()
	room := reg.CreateRoom()

	room.mu.Lock()
	defer room.mu.Unlock()

	slot, err := room.joinLocked("Ada")
	require.NoError(t, err)

	for stage := 0; stage <= len(traitSequence); stage++ {
		room.revealStage = stage

		ps := room.playerStateLocked(slot)
		require.Len(t, ps.Profile.Traits, stage)
		for i, key := range traitSequence {
			if i < stage {
				require.Equal(t, slot.Profile.Traits[key], ps.Profile.Traits[key])
			}
		}

		// The host sees every trait of every seat at every stage.
		hs := room.hostStateLocked()
		require.Len(t, hs.Players, maxPlayers)
		for _, player := range hs.Players {
			require.Len(t, player.Profile.Traits, len(traitSequence))
		}
	}
}

func TestCloseRoomPurgesRegistry(t *testing.T) {
	cfg := &Config{}
	reg := newRegistry(cfg, cryptoSource{})
	room := reg.CreateRoom()

	room.mu.Lock()
	slot, err := room.joinLocked("Ada")
	require.NoError(t, err)
	playerToken := slot.Occupant.Token
	room.mu.Unlock()

	reg.closeRoom(cfg, room, "closed")

	_, ok := reg.Lookup(room.code)
	require.False(t, ok)

	_, ok = reg.FindByHostToken(room.hostToken)
	require.False(t, ok)

	_, ok = reg.FindByPlayerToken(playerToken)
	require.False(t, ok)
}

// A handler can resolve a room just before teardown; once closeRoom has
// run, every mutation through that stale handle must fail.
func TestClosedRoomRejectsMutations(t *testing.T) {
	cfg := &Config{}
	reg := newRegistry(cfg, cryptoSource{})
	room := reg.CreateRoom()

	room.mu.Lock()
	slot, err := room.joinLocked("Ada")
	require.NoError(t, err)
	playerToken := slot.Occupant.Token
	room.mu.Unlock()

	reg.closeRoom(cfg, room, "closed")

	room.mu.Lock()
	_, err = room.joinLocked("Grace")
	require.ErrorIs(t, err, errNotFound)

	_, moved, err := room.advanceLocked()
	require.ErrorIs(t, err, errNotFound)
	require.False(t, moved)

	_, err = room.resetLocked()
	require.ErrorIs(t, err, errNotFound)
	room.mu.Unlock()

	require.False(t, attachHost(room, room.hostToken, newClient(nil)))
	require.False(t, attachPlayer(room, playerToken, newClient(nil)))

	// Closing twice is a no-op.
	reg.closeRoom(cfg, room, "closed")
}

func TestReaperClosesIdleRooms(t *testing.T) {
	cfg := &Config{sessionTimeout: 50 * time.Millisecond}
	reg := newRegistry(cfg, cryptoSource{})

	room := reg.CreateRoom()

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup(room.code)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

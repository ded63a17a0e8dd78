/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxPlayers = 8

// Room codes avoid visually ambiguous characters (0/O, 1/I).
const (
	codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	codeLength   = 5
)

var catastrophePrompts = []string{
	"A slow-rolling solar storm has burned out every unshielded circuit on the surface.",
	"An engineered blight ate the world's grain in a single growing season.",
	"The supervolcano finally went; the ash winter is expected to last a decade.",
	"A containment failure at an orbital lab seeded the upper atmosphere with spores.",
	"The coasts are gone. The water is still rising.",
	"Nobody knows what came through the radio that night, but nobody who listened is well.",
}

var bunkerDetails = []string{
	"A decommissioned missile silo: deep, dry, and wired for a crew of twelve.",
	"A converted salt mine with its own aquifer and a freight elevator that mostly works.",
	"A cold-war civil defense shelter under a library, stocked in 1963 and never opened since.",
	"A private doomsday vault with hydroponics bays and one structurally questionable blast door.",
	"A subway maintenance hub sealed behind three flood gates.",
	"A wine cellar scaled up by a paranoid billionaire, power supplied by a buried turbine.",
}

// Occupant is the identity bound to a Slot once a player joins. A nil
// Occupant means the seat is vacant.
type Occupant struct {
	Name      string
	Token     string
	Connected bool
}

// Slot is a fixed seat in a Room. Its profile is generated at room creation
// and never regenerated, so a seat keeps its dossier across join/leave.
type Slot struct {
	Index    int
	Profile  Profile
	Occupant *Occupant

	// ch is the live update channel attached to this seat, nil when none.
	ch *client
}

func (s *Slot) occupied() bool {
	return s.Occupant != nil
}

// Room is one game session. All fields are guarded by mu; every mutation
// and every broadcast runs under it, so concurrent joins, reveals, and
// teardowns on the same room serialize.
type Room struct {
	mu sync.Mutex

	code      string
	scenario  string
	bunker    string
	hostToken string

	revealStage int
	slots       [maxPlayers]*Slot

	// host is the live update channel attached to the host, nil when none.
	host *client

	// closed is set by closeRoom under mu. A handler that resolved the room
	// before teardown must not mutate it afterward.
	closed bool

	lastActive time.Time
}

func (r *Room) touchLocked() {
	r.lastActive = time.Now()
}

// advanceLocked moves the reveal stage forward one trait. At the end of the
// sequence it is a no-op and reports moved=false so the caller can skip the
// broadcast. A torn-down room reports errNotFound instead.
func (r *Room) advanceLocked() (stage int, moved bool, err error) {
	if r.closed {
		return r.revealStage, false, errNotFound
	}

	if r.revealStage < len(traitSequence) {
		r.revealStage++
		moved = true
	}

	return r.revealStage, moved, nil
}

func (r *Room) resetLocked() (int, error) {
	if r.closed {
		return r.revealStage, errNotFound
	}

	r.revealStage = 0

	return r.revealStage, nil
}

// joinLocked binds a fresh token and name to the lowest-index vacant seat.
// A blank name falls back to a seat-numbered label.
func (r *Room) joinLocked(name string) (*Slot, error) {
	if r.closed {
		return nil, errNotFound
	}

	for _, slot := range r.slots {
		if slot.occupied() {
			continue
		}

		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Player %d", slot.Index+1)
		}

		slot.Occupant = &Occupant{
			Name:  name,
			Token: uuid.NewString(),
		}

		return slot, nil
	}

	return nil, errCapacity
}

// vacateLocked clears a seat's identity and detaches its channel, if any.
// The seat's profile stays put for the next occupant.
func (r *Room) vacateLocked(slot *Slot) {
	if slot.ch != nil {
		r.detachLocked(slot.ch)
	}
	slot.Occupant = nil
}

// slotByTokenLocked returns the seat bound to token, or nil.
func (r *Room) slotByTokenLocked(token string) *Slot {
	if token == "" {
		return nil
	}

	for _, slot := range r.slots {
		if slot.occupied() && slot.Occupant.Token == token {
			return slot
		}
	}

	return nil
}

// Registry owns the set of live rooms, keyed by code. It is handed to every
// handler; there is no package-level room table.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	oracle *Oracle
	rng    randSource

	idleTimeout time.Duration
}

func newRegistry(cfg *Config, rng randSource) *Registry {
	reg := &Registry{
		rooms:       make(map[string]*Room),
		oracle:      newOracle(rng),
		rng:         rng,
		idleTimeout: cfg.sessionTimeout,
	}

	if reg.idleTimeout > 0 {
		go reg.reaperLoop(cfg)
	}

	return reg
}

// newRoomCodeLocked generates a code and ensures it doesn't collide with a
// live room. Callers must hold reg.mu.
func (reg *Registry) newRoomCodeLocked() string {
	for {
		out := make([]byte, codeLength)
		for i := range out {
			out[i] = codeAlphabet[reg.rng.Intn(len(codeAlphabet))]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

// CreateRoom draws a scenario and shelter, pre-generates all eight seat
// profiles, and stores the new room. Every room starts at reveal stage 0.
func (reg *Registry) CreateRoom() *Room {
	room := &Room{
		scenario:   reg.oracle.pick(catastrophePrompts),
		bunker:     reg.oracle.pick(bunkerDetails),
		hostToken:  uuid.NewString(),
		lastActive: time.Now(),
	}

	for i := range room.slots {
		room.slots[i] = &Slot{
			Index:   i,
			Profile: reg.oracle.GenerateProfile(),
		}
	}

	reg.mu.Lock()
	room.code = reg.newRoomCodeLocked()
	reg.rooms[room.code] = room
	reg.mu.Unlock()

	return room
}

func (reg *Registry) Lookup(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[code]

	return room, ok
}

// FindByHostToken scans live rooms for the one owned by token. Linear scan;
// the registry holds at most a few thousand rooms.
func (reg *Registry) FindByHostToken(token string) (*Room, bool) {
	if token == "" {
		return nil, false
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, room := range reg.rooms {
		if room.hostToken == token {
			return room, true
		}
	}

	return nil, false
}

// FindByPlayerToken scans live rooms for the one holding token. The caller
// must re-check the token under the room lock before acting, since the seat
// can be vacated between the scan and the action.
func (reg *Registry) FindByPlayerToken(token string) (*Room, bool) {
	if token == "" {
		return nil, false
	}

	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		slot := room.slotByTokenLocked(token)
		room.mu.Unlock()

		if slot != nil {
			return room, true
		}
	}

	return nil, false
}

// Remove deletes a room from the registry. Channel teardown is the caller's
// job (see closeRoom), so a half-closed room is never left in the map.
func (reg *Registry) Remove(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.rooms, code)
}

// closeRoom tears down a room: every attached channel receives a terminal
// redirect and is closed, then the room is dropped from the registry.
func (reg *Registry) closeRoom(cfg *Config, room *Room, notice string) {
	room.mu.Lock()

	if room.closed {
		room.mu.Unlock()
		return
	}
	room.closed = true

	for _, slot := range room.slots {
		if slot.ch != nil {
			slot.ch.trySend(redirectEvent(notice))
			r := slot.ch
			slot.ch = nil
			if slot.occupied() {
				slot.Occupant.Connected = false
			}
			r.shutdown()
		}
	}

	if room.host != nil {
		room.host.trySend(redirectEvent(notice))
		h := room.host
		room.host = nil
		h.shutdown()
	}

	code := room.code
	room.mu.Unlock()

	reg.Remove(code)

	logf(cfg, "ROOMS: Closed room %s", code)
}

// reaperLoop periodically closes rooms that have seen no action or channel
// activity for longer than the idle timeout.
func (reg *Registry) reaperLoop(cfg *Config) {
	ticker := time.NewTicker(reg.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-reg.idleTimeout)

		reg.mu.Lock()
		stale := make([]*Room, 0)
		for _, room := range reg.rooms {
			room.mu.Lock()
			last := room.lastActive
			room.mu.Unlock()

			if last.Before(cutoff) {
				stale = append(stale, room)
			}
		}
		reg.mu.Unlock()

		for _, room := range stale {
			reg.closeRoom(cfg, room, "The session expired due to inactivity.")
		}
	}
}

// hostSlot is one seat as the host sees it: identity, presence, and the
// full dossier regardless of reveal stage.
type hostSlot struct {
	Slot      int     `json:"slot"`
	Name      string  `json:"name,omitempty"`
	Occupied  bool    `json:"occupied"`
	Connected bool    `json:"connected"`
	Profile   Profile `json:"profile"`
}

type hostState struct {
	Code          string     `json:"code"`
	Scenario      string     `json:"scenario"`
	Bunker        string     `json:"bunker"`
	RevealStage   int        `json:"revealStage"`
	TraitSequence []string   `json:"traitSequence"`
	Players       []hostSlot `json:"players"`
}

type playerState struct {
	Code          string   `json:"code"`
	Scenario      string   `json:"scenario"`
	Bunker        string   `json:"bunker"`
	RevealStage   int      `json:"revealStage"`
	TraitSequence []string `json:"traitSequence"`
	Slot          int      `json:"slot"`
	Name          string   `json:"name"`
	Profile       Profile  `json:"profile"`
}

// hostStateLocked builds the privileged snapshot. The host always sees every
// seat's full profile.
func (r *Room) hostStateLocked() hostState {
	players := make([]hostSlot, 0, maxPlayers)
	for _, slot := range r.slots {
		hs := hostSlot{
			Slot:    slot.Index,
			Profile: slot.Profile,
		}
		if slot.occupied() {
			hs.Name = slot.Occupant.Name
			hs.Occupied = true
			hs.Connected = slot.Occupant.Connected
		}
		players = append(players, hs)
	}

	return hostState{
		Code:          r.code,
		Scenario:      r.scenario,
		Bunker:        r.bunker,
		RevealStage:   r.revealStage,
		TraitSequence: traitSequence,
		Players:       players,
	}
}

// playerStateLocked builds the snapshot for one seat, with the dossier
// trimmed to the traits revealed so far.
func (r *Room) playerStateLocked(slot *Slot) playerState {
	state := playerState{
		Code:          r.code,
		Scenario:      r.scenario,
		Bunker:        r.bunker,
		RevealStage:   r.revealStage,
		TraitSequence: traitSequence,
		Slot:          slot.Index,
		Profile:       slot.Profile.visible(r.revealStage),
	}
	if slot.occupied() {
		state.Name = slot.Occupant.Name
	}

	return state
}

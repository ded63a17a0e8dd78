/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var validate = validator.New()

type hostActionRequest struct {
	HostToken string `json:"hostToken" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

type joinBody struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name"`
}

type leaveBody struct {
	Token string `json:"token" validate:"required"`
}

type createRoomSlot struct {
	Slot    int     `json:"slot"`
	Profile Profile `json:"profile"`
}

type createRoomResponse struct {
	Code          string           `json:"code"`
	HostToken     string           `json:"hostToken"`
	Scenario      string           `json:"scenario"`
	Bunker        string           `json:"bunker"`
	RevealStage   int              `json:"revealStage"`
	TraitSequence []string         `json:"traitSequence"`
	Players       []createRoomSlot `json:"players"`
}

type joinResponse struct {
	Token string `json:"token"`
	playerState
}

type stageResponse struct {
	RevealStage int `json:"revealStage"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// decodeBody parses and validates a JSON action payload. Anything
// unparseable or missing required fields is Malformed.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errMalformed
	}
	if err := validate.Struct(dst); err != nil {
		return errMalformed
	}

	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// hostRoom resolves a host action to its room, or reports an authorization
// failure. A wrong code and a wrong token are deliberately the same error.
func hostRoom(reg *Registry, body hostActionRequest) (*Room, error) {
	room, ok := reg.Lookup(normalizeCode(body.Code))
	if !ok || room.hostToken != body.HostToken {
		return nil, errAuthorization
	}

	return room, nil
}

func serveCreateRoom(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		room := reg.CreateRoom()

		room.mu.Lock()
		resp := createRoomResponse{
			Code:          room.code,
			HostToken:     room.hostToken,
			Scenario:      room.scenario,
			Bunker:        room.bunker,
			RevealStage:   room.revealStage,
			TraitSequence: traitSequence,
			Players:       make([]createRoomSlot, 0, maxPlayers),
		}
		for _, slot := range room.slots {
			resp.Players = append(resp.Players, createRoomSlot{
				Slot:    slot.Index,
				Profile: slot.Profile,
			})
		}
		room.mu.Unlock()

		logf(cfg, "ROOMS: Created room %s for %s", resp.Code, realIP(r))

		respondJSON(cfg, w, http.StatusOK, resp)
	}
}

func serveJoin(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body joinBody
		if err := decodeBody(r, &body); err != nil {
			respondError(cfg, w, err, "")
			return
		}

		room, ok := reg.Lookup(normalizeCode(body.Code))
		if !ok {
			respondError(cfg, w, errNotFound, "Room not found.")
			return
		}

		room.mu.Lock()
		slot, err := room.joinLocked(body.Name)
		if err != nil {
			room.mu.Unlock()
			respondError(cfg, w, err, "No free seats in the room.")
			return
		}

		resp := joinResponse{
			Token:       slot.Occupant.Token,
			playerState: room.playerStateLocked(slot),
		}
		room.touchLocked()
		room.broadcastLocked()
		room.mu.Unlock()

		logf(cfg, "ROOMS: Player %q took seat %d in %s", resp.Name, resp.Slot, resp.Code)

		respondJSON(cfg, w, http.StatusOK, resp)
	}
}

func serveLeave(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body leaveBody
		if err := decodeBody(r, &body); err != nil {
			respondError(cfg, w, err, "")
			return
		}

		// An unknown token means the seat is already free; leaving twice
		// is not an error.
		room, ok := reg.FindByPlayerToken(body.Token)
		if !ok {
			respondJSON(cfg, w, http.StatusOK, successResponse{Success: true})
			return
		}

		room.mu.Lock()
		if slot := room.slotByTokenLocked(body.Token); slot != nil && !room.closed {
			if slot.ch != nil {
				slot.ch.trySend(redirectEvent("You left the room."))
			}
			room.vacateLocked(slot)
			room.touchLocked()
			room.broadcastLocked()

			logf(cfg, "ROOMS: Seat %d vacated in %s", slot.Index, room.code)
		}
		room.mu.Unlock()

		respondJSON(cfg, w, http.StatusOK, successResponse{Success: true})
	}
}

func serveRevealNext(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body hostActionRequest
		if err := decodeBody(r, &body); err != nil {
			respondError(cfg, w, err, "")
			return
		}

		room, err := hostRoom(reg, body)
		if err != nil {
			respondError(cfg, w, err, "Access denied.")
			return
		}

		room.mu.Lock()
		stage, moved, err := room.advanceLocked()
		if err != nil {
			room.mu.Unlock()
			respondError(cfg, w, err, "Room not found.")
			return
		}
		room.touchLocked()
		if moved {
			room.broadcastLocked()
		}
		room.mu.Unlock()

		respondJSON(cfg, w, http.StatusOK, stageResponse{RevealStage: stage})
	}
}

func serveRevealReset(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body hostActionRequest
		if err := decodeBody(r, &body); err != nil {
			respondError(cfg, w, err, "")
			return
		}

		room, err := hostRoom(reg, body)
		if err != nil {
			respondError(cfg, w, err, "Access denied.")
			return
		}

		room.mu.Lock()
		stage, err := room.resetLocked()
		if err != nil {
			room.mu.Unlock()
			respondError(cfg, w, err, "Room not found.")
			return
		}
		room.touchLocked()
		room.broadcastLocked()
		room.mu.Unlock()

		respondJSON(cfg, w, http.StatusOK, stageResponse{RevealStage: stage})
	}
}

func serveCloseRoom(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body hostActionRequest
		if err := decodeBody(r, &body); err != nil {
			respondError(cfg, w, err, "")
			return
		}

		room, err := hostRoom(reg, body)
		if err != nil {
			respondError(cfg, w, err, "Access denied.")
			return
		}

		reg.closeRoom(cfg, room, "The session was ended by the host.")

		respondJSON(cfg, w, http.StatusOK, successResponse{Success: true})
	}
}

// qrHandler generates a PNG QR code pointing at the current room URL, for
// passing a join link around a physical table.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /room/:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerBunkerGame sets up the coordination API and the per-room client
// routes:
//   - /host/* and /player/* actions
//   - /room/:code        → HTML client
//   - /room/:code/ws     → live update channel
//   - /room/:code/qr     → PNG QR code for the room URL
func registerBunkerGame(cfg *Config, reg *Registry, mux *httprouter.Router) {
	mux.POST(cfg.prefix+"/host/create-room", serveCreateRoom(cfg, reg))
	mux.POST(cfg.prefix+"/host/reveal-next", serveRevealNext(cfg, reg))
	mux.POST(cfg.prefix+"/host/reset-reveal", serveRevealReset(cfg, reg))
	mux.POST(cfg.prefix+"/host/close-room", serveCloseRoom(cfg, reg))
	mux.POST(cfg.prefix+"/player/join", serveJoin(cfg, reg))
	mux.POST(cfg.prefix+"/player/leave", serveLeave(cfg, reg))

	mux.GET(cfg.prefix+"/room/:code", serveRoomPage(cfg))
	mux.GET(cfg.prefix+"/room/:code/ws", serveLiveChannel(cfg, reg))
	mux.GET(cfg.prefix+"/room/:code/qr", qrHandler)
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// The order traits are revealed in. A room's reveal stage counts how many
// of these are currently visible to players.
var traitSequence = []string{
	"profession",
	"skill",
	"personality",
	"health",
	"hobby",
	"baggage",
	"fear",
	"twist",
	"synthetic",
}

// randSource abstracts the random draws used for profile and room code
// generation, so tests can script deterministic sequences.
type randSource interface {
	// Intn returns a value in [0, n).
	Intn(n int) int
}

// cryptoSource draws from crypto/rand.
type cryptoSource struct{}

func (cryptoSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}

	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	return int(v.Int64())
}

// Profile is a survivor dossier. Traits are keyed by the entries of
// traitSequence; age and call sign are always visible.
type Profile struct {
	Traits   map[string]string `json:"traits"`
	Age      int               `json:"age"`
	CallSign string            `json:"callSign"`
}

// visible returns a copy of p with only the first `stage` traits of the
// reveal sequence present.
func (p Profile) visible(stage int) Profile {
	traits := make(map[string]string, stage)
	for i, key := range traitSequence {
		if i >= stage {
			break
		}
		traits[key] = p.Traits[key]
	}

	return Profile{
		Traits:   traits,
		Age:      p.Age,
		CallSign: p.CallSign,
	}
}

var archetypeSeeds = map[string][]string{
	"profession": {
		"Field medic",
		"Hydroponics engineer",
		"Radio operator",
		"Structural welder",
		"Seed archivist",
		"Diesel mechanic",
		"Cartographer",
		"Butcher",
		"Meteorologist",
		"Locksmith",
	},
	"skill": {
		"can distill drinking water from almost anything",
		"repairs electronics by touch in the dark",
		"navigates by the stars",
		"sets broken bones without flinching",
		"speaks four languages",
		"picks any mechanical lock",
		"keeps bees calm without smoke",
		"sews wounds and parachutes equally well",
	},
	"personality": {
		"calm until the food runs low",
		"compulsively honest",
		"paranoid list-maker",
		"charming and completely unreliable",
		"hoards small favors",
		"laughs at the wrong moments",
		"never forgets a slight",
		"quiet, watches the exits",
	},
	"health": {
		"perfect eyesight, weak knees",
		"mild asthma",
		"iron stomach",
		"chronic insomnia",
		"colorblind",
		"recovering from a broken arm",
		"allergic to penicillin",
		"unusually high pain tolerance",
	},
	"hobby": {
		"ham radio",
		"mushroom foraging",
		"chess by correspondence",
		"knife throwing",
		"pickling vegetables",
		"amateur taxidermy",
		"marathon running",
		"accordion",
	},
	"baggage": {
		"a suitcase of seeds nobody can identify",
		"three hundred cans of sardines",
		"a locked case and no key",
		"an heirloom rifle with six rounds",
		"a crate of medical textbooks",
		"a solar generator missing one cable",
		"a dog that growls at one specific person",
		"maps of a city that no longer exists",
	},
	"fear": {
		"enclosed spaces",
		"the dark",
		"running out of ammunition",
		"being the last one awake",
		"open water",
		"needles",
		"crowds",
		"silence",
	},
	"twist": {
		"once survived three weeks alone in a mine",
		"is not who their papers say they are",
		"knows the bunker's original blueprints",
		"has been here before",
		"made a promise to someone outside",
		"keeps a journal in cipher",
		"was supposed to be on the other list",
		"recognizes one of the others",
	},
}

var callSignAdjectives = []string{
	"Crystal",
	"Helios",
	"Azimuth",
	"Vector",
	"Fractal",
	"Nord",
	"Graphite",
	"Comet",
}

var storyPhrases = struct {
	openings   []string
	connectors []string
	endings    []string
}{
	openings: []string{
		"The dossier reads",
		"Neighbors describe them as someone who",
		"Intake notes say",
		"The evaluation concludes",
	},
	connectors: []string{
		"none of it has been verified",
		"the records disagree",
		"only half of it came up in the interview",
		"the rest was redacted",
	},
	endings: []string{
		"make of that what you will",
		"the committee approved them anyway",
		"shelter assignment was not contested",
		"further observation recommended",
	},
}

// Oracle generates survivor profiles from the archetype seed tables.
type Oracle struct {
	seeds map[string][]string
	rng   randSource
}

func newOracle(rng randSource) *Oracle {
	return &Oracle{
		seeds: archetypeSeeds,
		rng:   rng,
	}
}

func (o *Oracle) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[o.rng.Intn(len(options))]
}

// GenerateProfile draws one value per seeded trait, then derives the
// composed story, age, and call sign.
func (o *Oracle) GenerateProfile() Profile {
	traits := make(map[string]string, len(traitSequence))
	for _, key := range traitSequence {
		traits[key] = o.pick(o.seeds[key])
	}
	traits["synthetic"] = o.composeStory(traits)

	return Profile{
		Traits:   traits,
		Age:      18 + o.rng.Intn(32),
		CallSign: o.createCallSign(traits["profession"]),
	}
}

func (o *Oracle) createCallSign(profession string) string {
	noun, _, _ := strings.Cut(profession, " ")
	if noun == "" {
		noun = "Leader"
	}

	return o.pick(callSignAdjectives) + "-" + strings.ToUpper(noun)
}

// composeStory stitches a short narrative out of the already-drawn traits,
// shuffling the fragments so two similar profiles still read differently.
func (o *Oracle) composeStory(traits map[string]string) string {
	fragments := make([]string, 0, 4)
	for _, key := range []string{"skill", "personality", "baggage", "twist"} {
		if traits[key] != "" {
			fragments = append(fragments, traits[key])
		}
	}

	// Fisher-Yates, same as the lobby code shuffle.
	for i := len(fragments) - 1; i > 0; i-- {
		j := o.rng.Intn(i + 1)
		fragments[i], fragments[j] = fragments[j], fragments[i]
	}

	detail := strings.Join(fragments, ", ")
	if i := strings.LastIndex(detail, ", "); i >= 0 {
		detail = detail[:i] + " and " + detail[i+2:]
	}

	opening := o.pick(storyPhrases.openings)
	connector := o.pick(storyPhrases.connectors)
	ending := o.pick(storyPhrases.endings)

	return opening + ": " + detail + ", where " + connector + ", " + ending
}

// Package classify maps probe signals to a server software variant.
package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hashicorp/go-version"
	"github.com/woozymasta/seeker/internal/models"
)

// Signals are the parts of a probe response that drive classification.
type Signals struct {
	// Name is the raw version.name string
	Name string

	// Protocol is version.protocol
	Protocol int

	// IsModded is set when the response carries an "isModded" key (NeoForge)
	IsModded bool

	// HasForgeData is set when the response carries a "forgeData" block (Lex Forge)
	HasForgeData bool
}

// rule is one step of the precedence table. The first matching rule wins.
type rule struct {
	match func(Signals) (models.ServerType, bool)
	name  string
}

// brands maps the leading token of a non-vanilla version string to its variant.
// Matching is case-sensitive.
var brands = map[string]models.ServerType{
	"Paper":       models.TypePaper,
	"Velocity":    models.TypeVelocity,
	"BungeeCord":  models.TypeBungeeCord,
	"Spigot":      models.TypeSpigot,
	"CraftBukkit": models.TypeBukkit,
	"Folia":       models.TypeFolia,
	"Pufferfish":  models.TypePufferfish,
	"Purpur":      models.TypePurpur,
	"Waterfall":   models.TypeWaterfall,
	"Leaves":      models.TypeLeaves,
}

var rules = []rule{
	{name: "modded", match: func(s Signals) (models.ServerType, bool) {
		return models.TypeNeoForge, s.IsModded
	}},
	{name: "forge", match: func(s Signals) (models.ServerType, bool) {
		return models.TypeLexForge, s.HasForgeData
	}},
	{name: "vanilla", match: func(s Signals) (models.ServerType, bool) {
		r, _ := utf8.DecodeRuneInString(s.Name)
		return models.TypeJava, r != utf8.RuneError && unicode.IsDigit(r)
	}},
	{name: "brand", match: func(s Signals) (models.ServerType, bool) {
		t, ok := brands[Brand(s.Name)]
		return t, ok
	}},
}

// Classify applies the precedence table and falls back to JAVA.
func Classify(s Signals) models.Version {
	v := models.Version{
		Name:     s.Name,
		Protocol: s.Protocol,
		Type:     models.TypeJava,
	}

	for _, r := range rules {
		if t, ok := r.match(s); ok {
			v.Type = t
			break
		}
	}

	return v
}

// Brand returns the leading whitespace-delimited token of a version string.
func Brand(name string) string {
	if i := strings.IndexFunc(name, unicode.IsSpace); i >= 0 {
		return name[:i]
	}
	return name
}

// Release extracts the first token of a version string that parses as a version,
// e.g. "Paper 1.20.1" -> 1.20.1. It returns nil when there is none.
func Release(name string) *version.Version {
	for _, token := range strings.Fields(name) {
		token = strings.Trim(token, "()[],")
		if token == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(token)
		if !unicode.IsDigit(r) {
			continue
		}
		if v, err := version.NewVersion(token); err == nil {
			return v
		}
	}
	return nil
}

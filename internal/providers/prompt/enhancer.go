package prompt

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"assetforge/internal/domain"
)

type ExpandRequest struct {
	Prompt   string
	Provider domain.Provider
}

type ExpandResult struct {
	Prompt   string            `json:"prompt"`
	Metadata map[string]string `json:"metadata"`
	Provider string            `json:"-"`
}

// Expander turns a terse request into a generator-ready prompt.
type Expander interface {
	Expand(ctx context.Context, req ExpandRequest) (*ExpandResult, error)
}

type cannedDescription struct {
	noun        string
	description string
}

// cannedDescriptions are hand-written geometric descriptions for nouns that
// show up often.
var cannedDescriptions = []cannedDescription{
	{"bookshelf", "a tall rectangular wooden bookshelf with five evenly spaced horizontal shelves, straight vertical side panels, a flat top and a solid back board"},
	{"desk", "a rectangular wooden desk with a flat smooth top, four straight square legs and a single shallow drawer under the front edge"},
	{"chair", "a wooden chair with a square flat seat, four straight legs joined by thin stretchers and a vertical backrest with three slats"},
	{"table", "a rectangular wooden table with a thick flat top, rounded edges and four sturdy turned legs at the corners"},
	{"sword", "a straight double-edged steel sword with a long tapered blade, a cross-shaped guard, a leather-wrapped grip and a round pommel"},
	{"shield", "a round wooden shield with a raised central iron boss, a riveted metal rim and vertical planks visible on the face"},
	{"lamp", "a desk lamp with a round weighted metal base, a jointed slender arm and a cone-shaped shade pointing downward"},
	{"barrel", "a wooden barrel made of curved vertical staves bound by three iron hoops, with flat circular lids at top and bottom"},
	{"chest", "a rectangular wooden treasure chest with a curved hinged lid, iron corner brackets, metal bands and a front lock plate"},
	{"crate", "a cube-shaped wooden crate built from horizontal planks with diagonal cross braces on each side"},
	{"bed", "a single bed with a rectangular wooden frame, a thick mattress, a raised headboard and four short legs"},
	{"door", "a tall rectangular wooden door with four recessed panels, black iron hinges on one side and a round metal handle"},
	{"throne", "a large stone throne with a high straight back, wide flat armrests, a thick seat and a stepped base"},
	{"tree", "a tree with a thick straight trunk, rough bark, spreading branches and a dense rounded canopy of leaves"},
	{"rock", "a large irregular boulder with rough angular faces, visible cracks and a flattened base"},
}

const (
	modelTemplate  = "a detailed, realistic 3D model of %s"
	skyboxTemplate = "a seamless 360 degree panoramic skybox of %s, wide horizon, consistent lighting"
)

// StaticExpander is the rule-based expander used whenever the AI path fails.
// It never returns an error.
type StaticExpander struct{}

func NewStaticExpander() *StaticExpander {
	return &StaticExpander{}
}

func (s *StaticExpander) Expand(ctx context.Context, req ExpandRequest) (*ExpandResult, error) {
	subject := strings.Join(strings.Fields(req.Prompt), " ")
	if subject == "" {
		subject = "an object"
	}
	res := &ExpandResult{
		Metadata: map[string]string{},
		Provider: staticProviderName,
	}
	if req.Provider == domain.ProviderSkybox {
		res.Prompt = fmt.Sprintf(skyboxTemplate, subject)
		res.Metadata["rule"] = "skybox_template"
		return res, nil
	}
	if canned, ok := lookupCanned(subject); ok {
		res.Prompt = canned.description
		res.Metadata["rule"] = "canned_" + canned.noun
		res.Metadata["subject"] = cases.Title(language.Und).String(canned.noun)
		return res, nil
	}
	res.Prompt = fmt.Sprintf(modelTemplate, subject)
	res.Metadata["rule"] = "model_template"
	return res, nil
}

func lookupCanned(subject string) (cannedDescription, bool) {
	words := strings.FieldsFunc(strings.ToLower(subject), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	// English head nouns come last: "desk lamp" is a lamp.
	for i := len(words) - 1; i >= 0; i-- {
		w := words[i]
		for _, c := range cannedDescriptions {
			if w == c.noun || w == c.noun+"s" {
				return c, true
			}
		}
	}
	return cannedDescription{}, false
}

var _ Expander = (*StaticExpander)(nil)

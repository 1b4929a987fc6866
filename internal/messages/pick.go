package messages

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Pick draws one template uniformly at random from candidates. The draw is
// stateless: message content carries no ordering guarantees, so the random
// source is injected and trivially replaceable with a seeded one in tests.
func Pick(rng *rand.Rand, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return candidates[rng.Intn(len(candidates))]
}

// Expand substitutes the {project} and {minutes} placeholders in a template.
func Expand(template, project string, idleFor time.Duration) string {
	out := strings.ReplaceAll(template, "{project}", project)
	minutes := int(idleFor.Round(time.Minute) / time.Minute)
	if minutes < 1 && idleFor > 0 {
		minutes = 1
	}
	return strings.ReplaceAll(out, "{minutes}", fmt.Sprintf("%d", minutes))
}

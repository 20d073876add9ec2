package telemetry

import (
	"github.com/beevik/etree"
	"github.com/kursadbilgin/telemetry-engine/internal/domain"
)

func (st *parseState) collectOutcomes(p domain.Provider, container *etree.Element) {
	for _, el := range container.SelectElements(outcomeElement) {
		st.observeOutcome(p, childText(el, outcomeName), childText(el, outcomeCount))
	}
}

// observeOutcome merges one (name, count) pair into the provider's map,
// creating the map on first sight. A repeated name keeps the latest count.
func (st *parseState) observeOutcome(p domain.Provider, name, count *string) {
	counts, ok := st.details.outcomes[p]
	if !ok {
		if st.details.outcomes == nil {
			st.details.outcomes = make(map[domain.Provider]map[string]*int64)
		}
		counts = make(map[string]*int64)
		st.details.outcomes[p] = counts
	}

	if name == nil {
		st.warn(Diagnostic{Field: outcomeName, Provider: p, Err: errMissingOutcomeName})
		return
	}

	c := coerceInt(count)
	if c.err != nil {
		st.warn(Diagnostic{Field: outcomeCount, Provider: p, Outcome: *name, Value: *count, Err: c.err})
	}
	counts[*name] = c.value
}

func childText(el *etree.Element, tag string) *string {
	child := el.SelectElement(tag)
	if child == nil {
		return nil
	}
	text := elementText(child)
	return &text
}

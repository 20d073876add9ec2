package telemetry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
)

// Outcome is one named delivery result reported by a provider.
type Outcome struct {
	Name  string
	Count *int64
}

// Details is the parsed "Get Notification Message Telemetry" result. It is
// built once per parse and never mutated afterwards; accessors return copies.
type Details struct {
	notificationID   string
	location         string
	state            domain.State
	enqueueTime      *time.Time
	startTime        *time.Time
	endTime          *time.Time
	notificationBody string
	tags             []string
	targetPlatforms  []string
	outcomes         map[domain.Provider]map[string]*int64
	diagnostics      []Diagnostic
}

func (d *Details) NotificationID() string { return d.notificationID }
func (d *Details) Location() string { return d.location }
func (d *Details) State() domain.State { return d.state }
func (d *Details) NotificationBody() string { return d.notificationBody }
func (d *Details) EnqueueTime() *time.Time { return copyTime(d.enqueueTime) }
func (d *Details) StartTime() *time.Time { return copyTime(d.startTime) }
func (d *Details) EndTime() *time.Time { return copyTime(d.endTime) }
func (d *Details) Tags() []string { return copyStrings(d.tags) }
func (d *Details) TargetPlatforms() []string { return copyStrings(d.targetPlatforms) }

// Providers lists the providers that reported at least one outcome.
func (d *Details) Providers() []domain.Provider {
	var out []domain.Provider
	for _, p := range domain.Providers() {
		if _, ok := d.outcomes[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Outcomes returns the provider's outcomes sorted by name. The boolean is false
// when the provider reported nothing, which is distinct from an empty result.
func (d *Details) Outcomes(p domain.Provider) ([]Outcome, bool) {
	counts, ok := d.outcomes[p]
	if !ok {
		return nil, false
	}

	out := make([]Outcome, 0, len(counts))
	for name, count := range counts {
		out = append(out, Outcome{Name: name, Count: copyInt(count)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, true
}

// OutcomeCounts returns a copy of the provider's name to count map.
func (d *Details) OutcomeCounts(p domain.Provider) (map[string]*int64, bool) {
	counts, ok := d.outcomes[p]
	if !ok {
		return nil, false
	}

	out := make(map[string]*int64, len(counts))
	for name, count := range counts {
		out[name] = copyInt(count)
	}
	return out, true
}

func (d *Details) Diagnostics() []Diagnostic {
	if len(d.diagnostics) == 0 {
		return nil
	}
	out := make([]Diagnostic, len(d.diagnostics))
	copy(out, d.diagnostics)
	return out
}

type detailsJSON struct {
	NotificationID   string                                `json:"notificationId,omitempty"`
	Location         string                                `json:"location,omitempty"`
	State            string                                `json:"state,omitempty"`
	EnqueueTime      *time.Time                            `json:"enqueueTime,omitempty"`
	StartTime        *time.Time                            `json:"startTime,omitempty"`
	EndTime          *time.Time                            `json:"endTime,omitempty"`
	NotificationBody string                                `json:"notificationBody,omitempty"`
	Tags             []string                              `json:"tags"`
	TargetPlatforms  []string                              `json:"targetPlatforms"`
	OutcomeCounts    map[domain.Provider]map[string]*int64 `json:"outcomeCounts,omitempty"`
}

// MarshalJSON renders the record. Outcome maps encode with sorted keys.
func (d *Details) MarshalJSON() ([]byte, error) {
	view := detailsJSON{
		NotificationID:   d.notificationID,
		Location:         d.location,
		State:            d.state.String(),
		EnqueueTime:      d.enqueueTime,
		StartTime:        d.startTime,
		EndTime:          d.endTime,
		NotificationBody: d.notificationBody,
		Tags:             nonNil(d.tags),
		TargetPlatforms:  nonNil(d.targetPlatforms),
		OutcomeCounts:    d.outcomes,
	}
	return json.Marshal(view)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

package telemetry

import (
	"github.com/kursadbilgin/telemetry-engine/internal/domain"
)

const (
	rootElement    = "NotificationDetails"
	outcomeElement = "Outcome"
	outcomeName    = "Name"
	outcomeCount   = "Count"
)

// leafSetter receives the trimmed text of a bound leaf element.
type leafSetter func(st *parseState, text string)

// binding maps element names to record population actions. It is built once
// and only read afterwards, so a single instance serves concurrent parses.
type binding struct {
	leaves     map[string]leafSetter
	containers map[string]domain.Provider
}

var notificationDetailsBinding = newBinding()

func newBinding() *binding {
	b := &binding{
		leaves: map[string]leafSetter{
			"NotificationId": func(st *parseState, text string) {
				st.details.notificationID = text
			},
			"Location": func(st *parseState, text string) {
				st.details.location = text
			},
			"State": func(st *parseState, text string) {
				st.details.state = domain.State(text)
			},
			"EnqueueTime": func(st *parseState, text string) {
				st.details.enqueueTime = st.date("EnqueueTime", text)
			},
			"StartTime": func(st *parseState, text string) {
				st.details.startTime = st.date("StartTime", text)
			},
			"EndTime": func(st *parseState, text string) {
				st.details.endTime = st.date("EndTime", text)
			},
			"NotificationBody": func(st *parseState, text string) {
				st.details.notificationBody = text
			},
			"Tags": func(st *parseState, text string) {
				st.details.tags = splitList(text)
			},
			"TargetPlatforms": func(st *parseState, text string) {
				st.details.targetPlatforms = splitList(text)
			},
		},
		containers: make(map[string]domain.Provider),
	}

	for _, p := range domain.Providers() {
		b.containers[p.OutcomeContainer()] = p
	}

	return b
}

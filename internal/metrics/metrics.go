package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelMethod = "method"
	labelType   = "type"
	labelKind   = "kind"
	labelFrom   = "from"
	labelTo     = "to"
	labelState  = "state"
	labelFeed   = "feed"
	labelSource = "source"
	typeSuccess = "success"
	typeFailed  = "failed"
)

var (
	relayerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_requests",
		Help: "The total number of requests to the source and destination nodes (counter)",
	}, []string{labelType})

	requestTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_time",
		Help:    "A histogram of requests duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{labelMethod, labelType})

	relayerProofs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_proofs",
		Help: "The total number of receipt proofs (counter)",
	}, []string{labelType})

	proofTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proof_time",
		Help:    "A histogram of receipt proof generation duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{labelType})

	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_dispatches",
		Help: "The total number of redirect calls (counter)",
	}, []string{labelType, labelKind})

	dispatchTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_time",
		Help:    "A histogram of redirect call duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{labelType})

	actionDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "action_durations",
		Help:    "A histogram of source chain getters duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{labelMethod, labelType})

	messagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_created",
		Help: "The total number of relay messages created from deposit events (counter)",
	})

	messageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_message_transitions",
		Help: "The total number of relay message state transitions (counter)",
	}, []string{labelFrom, labelTo})

	messagesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_messages",
		Help: "The number of relay messages in the storage per state",
	}, []string{labelState})

	eventsObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_events_observed",
		Help: "The total number of deposit events received from the source chain (counter)",
	}, []string{labelSource})

	checkpointSlot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkpoint_slot",
		Help: "The highest finalized slot announced by the destination",
	})

	lastProcessedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "last_processed_block",
		Help: "The last source block fully ingested by the event watcher",
	})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_reconnects",
		Help: "The total number of subscription reconnects (counter)",
	}, []string{labelFeed})
)

func AddFailedRequest(method string, dur float64) {
	relayerRequests.With(prometheus.Labels{labelType: typeFailed}).Inc()
	requestTime.With(prometheus.Labels{
		labelMethod: method,
		labelType:   typeFailed,
	}).Observe(dur)
}

func AddSuccessRequest(method string, dur float64) {
	relayerRequests.With(prometheus.Labels{labelType: typeSuccess}).Inc()
	requestTime.With(prometheus.Labels{
		labelMethod: method,
		labelType:   typeSuccess,
	}).Observe(dur)
}

func AddFailedProof(dur float64) {
	relayerProofs.With(prometheus.Labels{labelType: typeFailed}).Inc()
	proofTime.With(prometheus.Labels{labelType: typeFailed}).Observe(dur)
}

func AddSuccessProof(dur float64) {
	relayerProofs.With(prometheus.Labels{labelType: typeSuccess}).Inc()
	proofTime.With(prometheus.Labels{labelType: typeSuccess}).Observe(dur)
}

func AddSuccessDispatch(dur float64) {
	dispatches.With(prometheus.Labels{labelType: typeSuccess, labelKind: ""}).Inc()
	dispatchTime.With(prometheus.Labels{labelType: typeSuccess}).Observe(dur)
}

func AddFailedDispatch(kind string, dur float64) {
	dispatches.With(prometheus.Labels{labelType: typeFailed, labelKind: kind}).Inc()
	dispatchTime.With(prometheus.Labels{labelType: typeFailed}).Observe(dur)
}

func RecordActionDuration(action string, success bool, dur float64) {
	typ := typeSuccess
	if !success {
		typ = typeFailed
	}
	actionDurations.With(prometheus.Labels{
		labelMethod: action,
		labelType:   typ,
	}).Observe(dur)
}

func IncMessagesCreated() {
	messagesCreated.Inc()
}

func IncMessageTransition(from, to string) {
	messageTransitions.With(prometheus.Labels{labelFrom: from, labelTo: to}).Inc()
}

func SetMessagesByState(state string, n int) {
	messagesByState.With(prometheus.Labels{labelState: state}).Set(float64(n))
}

func IncEventsObserved(source string) {
	eventsObserved.With(prometheus.Labels{labelSource: source}).Inc()
}

func SetCheckpointSlot(slot uint64) {
	checkpointSlot.Set(float64(slot))
}

func SetLastProcessedBlock(block uint64) {
	lastProcessedBlock.Set(float64(block))
}

func IncReconnects(feed string) {
	reconnects.With(prometheus.Labels{labelFeed: feed}).Inc()
}

package codec

type EnvelopeKind uint8

const (
	EnvelopeHeartbeat      EnvelopeKind = 0
	EnvelopeEvents         EnvelopeKind = 1
	EnvelopeFilteredEvents EnvelopeKind = 2
)

// MaxEnvelopeEvents bounds the event list of one envelope.
const MaxEnvelopeEvents = 1024

// Progress is the consensus header carried ahead of every event list.
type Progress struct {
	Height      uint64
	View        uint64
	Certificate []byte
	Proof       []byte
}

// Envelope is the outer engine → gateway message. Game, Paused and Reason are
// only meaningful on heartbeats, which report the health of one table; Filter
// is only present on filtered event lists.
//
// A RoundOpened event whose round is past PhaseOpen is a refresh of the round
// (totals, or the rng commitment published at lock), not a new round.
type Envelope struct {
	Kind     EnvelopeKind
	Progress Progress
	Game     GameType
	Paused   bool
	Reason   string
	Filter   Player
	Events   []Event
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	w := NewWriter(64)
	w.U8(uint8(env.Kind))
	w.U64(env.Progress.Height)
	w.U64(env.Progress.View)
	w.Blob(env.Progress.Certificate, MaxProofLen)
	w.Blob(env.Progress.Proof, MaxProofLen)
	switch env.Kind {
	case EnvelopeHeartbeat:
		w.GameType(env.Game)
		w.Bool(env.Paused)
		w.String(env.Reason, MaxMessageLen)
		if len(env.Events) != 0 {
			w.fail("heartbeat with %d events", len(env.Events))
		}
	case EnvelopeFilteredEvents:
		w.Player(env.Filter)
		w.events(env.Events)
	case EnvelopeEvents:
		w.events(env.Events)
	default:
		w.fail("envelope kind %d", env.Kind)
	}
	return w.Bytes()
}

func (w *Writer) events(evs []Event) {
	if len(evs) > MaxEnvelopeEvents {
		w.fail("%d events exceeds limit %d", len(evs), MaxEnvelopeEvents)
		return
	}
	w.Varint(uint64(len(evs)))
	for _, ev := range evs {
		w.Event(ev)
	}
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	r := NewReader(b)
	var env Envelope
	kind, err := r.U8()
	if err != nil {
		return env, err
	}
	env.Kind = EnvelopeKind(kind)
	if env.Progress.Height, err = r.U64(); err != nil {
		return env, err
	}
	if env.Progress.View, err = r.U64(); err != nil {
		return env, err
	}
	if env.Progress.Certificate, err = r.Blob(MaxProofLen); err != nil {
		return env, err
	}
	if env.Progress.Proof, err = r.Blob(MaxProofLen); err != nil {
		return env, err
	}
	switch env.Kind {
	case EnvelopeHeartbeat:
		if env.Game, err = r.GameType(); err != nil {
			return env, err
		}
		if env.Paused, err = r.Bool(); err != nil {
			return env, err
		}
		if env.Reason, err = r.String(MaxMessageLen); err != nil {
			return env, err
		}
	case EnvelopeFilteredEvents:
		if env.Filter, err = r.Player(); err != nil {
			return env, err
		}
		fallthrough
	case EnvelopeEvents:
		// The smallest event is a Finalized: tag, game type, round id.
		n, err := r.Len(MaxEnvelopeEvents, 10)
		if err != nil {
			return env, err
		}
		for i := 0; i < n; i++ {
			ev, err := r.Event()
			if err != nil {
				return env, err
			}
			env.Events = append(env.Events, ev)
		}
	default:
		return env, &DecodeError{Kind: KindUnknownTag, Offset: 0, Msg: "envelope kind " + itoa(kind)}
	}
	return env, r.Done()
}

package imap

import (
	"io"
	"sync"
	"time"

	"github.com/emersion/go-imap"
)

// part is one piece of a message that a FETCH may deliver separately.
type part uint8

const (
	partUID part = 1 << iota
	partFlags
	partDate
	partHeader
	partText
	partBody
	partLabels
)

// pendingMessage collects the pieces of one message until all requested
// parts arrived or the fetch ended.
type pendingMessage struct {
	seq          uint32
	uid          uint32
	flags        []string
	internalDate time.Time
	header       []byte
	text         []byte
	body         []byte
	labels       []string

	have   part
	done   chan struct{}
	closed bool
}

func (p *pendingMessage) received() bool {
	return p.have != 0
}

// accumulator merges FETCH responses by sequence number.
type accumulator struct {
	mu      sync.Mutex
	want    part
	pending map[uint32]*pendingMessage
}

func newAccumulator(start, end uint32, want part) *accumulator {
	a := &accumulator{
		want:    want,
		pending: make(map[uint32]*pendingMessage, start-end+1),
	}
	for seq := end; seq <= start; seq++ {
		a.pending[seq] = &pendingMessage{seq: seq, done: make(chan struct{})}
	}
	return a
}

// get returns the pending entry of seq, or nil when seq is outside the range.
func (a *accumulator) get(seq uint32) *pendingMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending[seq]
}

// add merges one FETCH response. Responses for sequence numbers outside the
// requested range are ignored.
func (a *accumulator) add(msg *imap.Message) {
	if msg == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[msg.SeqNum]
	if !ok || p.closed {
		return
	}

	if _, ok := msg.Items[imap.FetchUid]; ok || msg.Uid != 0 {
		p.uid = msg.Uid
		p.have |= partUID
	}
	if _, ok := msg.Items[imap.FetchFlags]; ok {
		p.flags = msg.Flags
		p.have |= partFlags
	}
	if _, ok := msg.Items[imap.FetchInternalDate]; ok {
		p.internalDate = msg.InternalDate
		p.have |= partDate
	}
	if raw, ok := msg.Items[labelsItem]; ok {
		p.labels = parseLabels(raw)
		p.have |= partLabels
	}

	for section, literal := range msg.Body {
		if section == nil || literal == nil {
			continue
		}
		data, err := io.ReadAll(literal)
		if err != nil {
			continue
		}
		switch {
		case section.Specifier == imap.HeaderSpecifier:
			p.header = data
			p.have |= partHeader
		case section.Specifier == imap.TextSpecifier:
			p.text = data
			p.have |= partText
		case section.Specifier == imap.EntireSpecifier && len(section.Path) == 0:
			p.body = data
			p.have |= partBody
		}
	}

	if p.have&a.want == a.want {
		p.closed = true
		close(p.done)
	}
}

// finish is the terminal end-of-fetch signal: every still-open entry completes
// with whatever arrived.
func (a *accumulator) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pending {
		if !p.closed {
			p.closed = true
			close(p.done)
		}
	}
}

// parseLabels accepts the shapes go-imap produces for an X-GM-LABELS list.
func parseLabels(raw interface{}) []string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	labels := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			labels = append(labels, v)
		case imap.RawString:
			labels = append(labels, string(v))
		case imap.Literal:
			if data, err := io.ReadAll(v); err == nil {
				labels = append(labels, string(data))
			}
		}
	}
	return labels
}

package imap

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/logging"
)

func testLog() *logrus.Entry {
	return logging.Component(logging.Discard(), "imap-test")
}

// fakeClient is an in-process Client. Messages are raw RFC 5322 strings
// indexed by sequence number (1-based).
type fakeClient struct {
	mu sync.Mutex

	mailboxes map[string][]string
	listing   []*imap.MailboxInfo
	listErr   error
	caps      map[string]bool
	labels    map[uint32][]string

	// splitResponses sends attributes and body sections as separate FETCH responses.
	splitResponses bool
	// omitFullBody drops BODY[] from responses.
	omitFullBody bool
	fetchErr     error
	// blockFetch makes Fetch wait until Terminate is called.
	blockFetch bool
	// fetchGate, when set, holds Fetch until it is closed. fetchStarted is
	// closed when the first Fetch reaches the gate.
	fetchGate    chan struct{}
	fetchStarted chan struct{}
	startedOnce  sync.Once

	selected   string
	fetchCalls int
	listCalls  int
	fetched    []*imap.SeqSet
	loggedOut  bool
	terminated chan struct{}
	termOnce   sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		mailboxes:  map[string][]string{"INBOX": nil},
		caps:       map[string]bool{},
		labels:     map[uint32][]string{},
		terminated: make(chan struct{}),
	}
}

func rawMessage(subject, from, to, body string, date time.Time) string {
	return "From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + date.Format(time.RFC1123Z) + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body + "\r\n"
}

func (f *fakeClient) addMessages(mailbox string, n int) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		f.mailboxes[mailbox] = append(f.mailboxes[mailbox], rawMessage(
			"Message "+strconv.Itoa(i), "sender@example.com", "me@example.com", "body "+strconv.Itoa(i), base.Add(time.Duration(i)*time.Hour)))
	}
}

func (f *fakeClient) Select(name string, _ bool) (*imap.MailboxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.mailboxes[name]
	if !ok {
		return nil, errors.New("NO no such mailbox")
	}
	f.selected = name
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(msgs)), UidValidity: 7}, nil
}

func (f *fakeClient) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)

	f.mu.Lock()
	f.fetchCalls++
	f.fetched = append(f.fetched, seqset)
	msgs := f.mailboxes[f.selected]
	block, fetchErr, gate := f.blockFetch, f.fetchErr, f.fetchGate
	f.mu.Unlock()

	if gate != nil {
		if f.fetchStarted != nil {
			f.startedOnce.Do(func() { close(f.fetchStarted) })
		}
		select {
		case <-gate:
		case <-f.terminated:
			return errors.New("connection closed")
		}
	}

	if block {
		<-f.terminated
		return errors.New("connection closed")
	}

	wantLabels := false
	for _, it := range items {
		if it == labelsItem {
			wantLabels = true
		}
	}

	for _, seq := range seqset.Set {
		for n := seq.Start; n <= seq.Stop; n++ {
			if n < 1 || int(n) > len(msgs) {
				continue
			}
			for _, m := range f.responses(n, msgs[n-1], wantLabels) {
				ch <- m
			}
		}
	}
	return fetchErr
}

func (f *fakeClient) responses(seq uint32, raw string, wantLabels bool) []*imap.Message {
	header, text := raw, ""
	if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		header, text = raw[:i+4], raw[i+4:]
	}

	attrs := imap.NewMessage(seq, []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate})
	attrs.Uid = 100 + seq
	attrs.Flags = []string{imap.SeenFlag}
	attrs.InternalDate = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if wantLabels {
		list := make([]interface{}, 0)
		for _, l := range f.labels[seq] {
			list = append(list, l)
		}
		attrs.Items[labelsItem] = list
	}

	sections := imap.NewMessage(seq, nil)
	sections.Body[&imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier, Fields: summaryHeaderFields}}] = bytes.NewBufferString(header)
	sections.Body[&imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier}}] = bytes.NewBufferString(text)
	if !f.omitFullBody {
		sections.Body[&imap.BodySectionName{}] = bytes.NewBufferString(raw)
	}

	if f.splitResponses {
		return []*imap.Message{attrs, sections}
	}

	for k, v := range sections.Body {
		attrs.Body[k] = v
	}
	return []*imap.Message{attrs}
}

func (f *fakeClient) List(_, _ string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	f.mu.Lock()
	f.listCalls++
	listing, err := f.listing, f.listErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	for _, m := range listing {
		ch <- m
	}
	return nil
}

func (f *fakeClient) Support(capability string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[capability], nil
}

func (f *fakeClient) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeClient) Terminate() error {
	f.termOnce.Do(func() { close(f.terminated) })
	return nil
}

func (f *fakeClient) wasTerminated() bool {
	select {
	case <-f.terminated:
		return true
	default:
		return false
	}
}

// readySession wraps a fake in a Ready session.
func readySession(c Client, host string, fetchTimeout time.Duration, release func()) *Session {
	s := newSession("user-1", host, fetchTimeout, testLog())
	s.attach(c, release)
	return s
}

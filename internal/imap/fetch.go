package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

const (
	gmailExtension = "X-GM-EXT-1"
	labelsItem     = imap.FetchItem("X-GM-LABELS")
)

var summaryHeaderFields = []string{"FROM", "TO", "CC", "SUBJECT", "DATE", "MESSAGE-ID"}

// PageRange computes the newest-first sequence range of a page.
// The range is [end, start]; sequence numbers never drop below 1.
func PageRange(total uint32, page, limit int) (start, end uint32, hasMore bool) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	s := int64(total) - int64(page-1)*int64(limit)
	if s < 1 {
		s = 1
	}
	e := s - int64(limit) + 1
	if e < 1 {
		e = 1
	}
	return uint32(s), uint32(e), e > 1
}

// PageCount is ceil(total/limit).
func PageCount(total uint32, limit int) int {
	if limit < 1 || total == 0 {
		return 0
	}
	return int((int64(total) + int64(limit) - 1) / int64(limit))
}

// Page is one fetched page of a mailbox.
type Page struct {
	Mailbox     string
	UIDValidity uint32
	Emails      []models.EmailSummary
	Pagination  models.Pagination
}

// FetchEngine fetches and normalizes pages of a selected mailbox.
type FetchEngine struct {
	log *logrus.Entry
}

func NewFetchEngine(log *logrus.Entry) *FetchEngine {
	return &FetchEngine{log: log}
}

// FetchPage selects mailbox read-only and fetches one page with a single
// range FETCH. Any stream failure aborts the whole page.
func (e *FetchEngine) FetchPage(ctx context.Context, c Client, mailbox string, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	status, err := c.Select(mailbox, true)
	if err != nil {
		return nil, mailerr.New(mailerr.KindMailboxNotFound, fmt.Sprintf("mailbox %q not found", mailbox), err)
	}

	total := status.Messages
	result := &Page{
		Mailbox:     mailbox,
		UIDValidity: status.UidValidity,
		Emails:      []models.EmailSummary{},
		Pagination: models.Pagination{
			Total:   int(total),
			Pages:   PageCount(total, limit),
			Current: page,
		},
	}
	if total == 0 {
		return result, nil
	}

	start, end, hasMore := PageRange(total, page, limit)
	result.Pagination.HasMore = hasMore

	items, want := e.fetchItems(c)
	acc := newAccumulator(start, end, want)

	// Normalize messages as they complete, newest first.
	normalized := make(chan []models.EmailSummary, 1)
	go func() {
		out := make([]models.EmailSummary, 0, start-end+1)
		for seq := start; seq >= end && seq > 0; seq-- {
			p := acc.get(seq)
			<-p.done
			if !p.received() {
				continue
			}
			out = append(out, normalize(p))
		}
		normalized <- out
	}()

	seqset := new(imap.SeqSet)
	seqset.AddRange(end, start)

	messages := make(chan *imap.Message, start-end+1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	for msg := range messages {
		acc.add(msg)
	}
	fetchErr := <-done
	acc.finish()
	emails := <-normalized

	if fetchErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, mailerr.New(mailerr.KindFetchStream, "failed to fetch messages", fetchErr)
	}

	e.log.WithFields(logrus.Fields{
		"mailbox": mailbox,
		"range":   seqset.String(),
		"count":   len(emails),
	}).Debug("page fetched")

	result.Emails = emails
	return result, nil
}

func (e *FetchEngine) fetchItems(c Client) ([]imap.FetchItem, part) {
	header := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier, Fields: summaryHeaderFields},
		Peek:         true,
	}
	text := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
	}
	full := &imap.BodySectionName{Peek: true}

	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		header.FetchItem(),
		text.FetchItem(),
		full.FetchItem(),
	}
	want := partUID | partFlags | partDate | partHeader | partText | partBody

	if ok, err := c.Support(gmailExtension); err == nil && ok {
		items = append(items, labelsItem)
		want |= partLabels
	}
	return items, want
}

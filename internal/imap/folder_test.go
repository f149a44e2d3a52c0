package imap

import (
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

func mailbox(name string, attrs ...string) *imap.MailboxInfo {
	return &imap.MailboxInfo{Name: name, Delimiter: "/", Attributes: attrs}
}

func TestMapFolder(t *testing.T) {
	mapper := NewFolderMapper(testLog())

	t.Run("inbox is always INBOX", func(t *testing.T) {
		s := readySession(newFakeClient(), "imap.example.com", time.Second, nil)

		for _, name := range []string{"inbox", "INBOX", " Inbox "} {
			path, err := mapper.MapFolder(name, s)
			require.NoError(t, err)
			assert.Equal(t, "INBOX", path)
		}
	})

	t.Run("special-use attributes win", func(t *testing.T) {
		c := newFakeClient()
		c.listing = []*imap.MailboxInfo{
			mailbox("INBOX"),
			mailbox("Gesendet", imap.SentAttr),
			mailbox("Papierkorb", imap.TrashAttr),
			mailbox("Alle", imap.AllAttr),
		}
		s := readySession(c, "imap.gmail.com", time.Second, nil)

		path, err := mapper.MapFolder("sent", s)
		require.NoError(t, err)
		assert.Equal(t, "Gesendet", path)

		path, err = mapper.MapFolder("deleted", s)
		require.NoError(t, err)
		assert.Equal(t, "Papierkorb", path)

		path, err = mapper.MapFolder("archive", s)
		require.NoError(t, err)
		assert.Equal(t, "Alle", path)

		assert.Equal(t, 1, c.listCalls)
	})

	t.Run("gmail provider table by host", func(t *testing.T) {
		c := newFakeClient()
		c.listing = []*imap.MailboxInfo{mailbox("INBOX")}
		s := readySession(c, "imap.gmail.com", time.Second, nil)

		path, err := mapper.MapFolder("Sent", s)
		require.NoError(t, err)
		assert.Equal(t, "[Gmail]/Sent Mail", path)

		path, err = mapper.MapFolder("starred", s)
		require.NoError(t, err)
		assert.Equal(t, "[Gmail]/Starred", path)
	})

	t.Run("gmail provider table by folder names", func(t *testing.T) {
		c := newFakeClient()
		c.listing = []*imap.MailboxInfo{mailbox("INBOX"), mailbox("[Gmail]/Spam")}
		s := readySession(c, "mail.internal.example", time.Second, nil)

		path, err := mapper.MapFolder("junk", s)
		require.NoError(t, err)
		assert.Equal(t, "[Gmail]/Spam", path)
	})

	t.Run("unknown names pass through", func(t *testing.T) {
		c := newFakeClient()
		c.listing = []*imap.MailboxInfo{mailbox("INBOX"), mailbox("Projects/Alpha")}
		s := readySession(c, "mail.example.com", time.Second, nil)

		path, err := mapper.MapFolder("projects/alpha", s)
		require.NoError(t, err)
		assert.Equal(t, "Projects/Alpha", path)

		path, err = mapper.MapFolder("Receipts", s)
		require.NoError(t, err)
		assert.Equal(t, "Receipts", path)
	})

	t.Run("listing failure falls back to static tables", func(t *testing.T) {
		c := newFakeClient()
		c.listErr = errors.New("BAD")
		s := readySession(c, "outlook.office365.com", time.Second, nil)

		path, err := mapper.MapFolder("trash", s)
		require.NoError(t, err)
		assert.Equal(t, "Deleted Items", path)

		path, err = mapper.MapFolder("sent", s)
		require.NoError(t, err)
		assert.Equal(t, "Sent Items", path)
		assert.Equal(t, 1, c.listCalls)
	})

	t.Run("empty name", func(t *testing.T) {
		s := readySession(newFakeClient(), "h", time.Second, nil)

		_, err := mapper.MapFolder("  ", s)
		assert.ErrorIs(t, err, mailerr.ErrMailboxNotFound)
	})
}

func TestFolders(t *testing.T) {
	c := newFakeClient()
	c.listing = []*imap.MailboxInfo{
		mailbox("INBOX"),
		mailbox("Sent", imap.SentAttr),
		mailbox("Drafts"),
	}
	s := readySession(c, "mail.example.com", time.Second, nil)

	folders := NewFolderMapper(testLog()).Folders(s)

	assert.Equal(t, []models.Folder{
		{Name: FolderInbox, Path: "INBOX", Source: SourceSpecialUse},
		{Name: FolderSent, Path: "Sent", Source: SourceSpecialUse},
		{Name: FolderDrafts, Path: "Drafts", Source: SourceVerbatim},
	}, folders)
}

func TestCanonicalFolder(t *testing.T) {
	assert.Equal(t, FolderSpam, CanonicalFolder("Junk"))
	assert.Equal(t, FolderArchive, CanonicalFolder("All Mail"))
	assert.Equal(t, FolderFlagged, CanonicalFolder("starred"))
	assert.Equal(t, "receipts", CanonicalFolder(" Receipts "))
}

func TestDetectProvider(t *testing.T) {
	assert.Equal(t, "gmail", DetectProvider("imap.gmail.com", nil))
	assert.Equal(t, "outlook", DetectProvider("outlook.office365.com", nil))
	assert.Equal(t, "yahoo", DetectProvider("imap.mail.yahoo.com", nil))
	assert.Equal(t, "icloud", DetectProvider("imap.mail.me.com", nil))
	assert.Equal(t, "gmail", DetectProvider("mx.example.com", []string{"INBOX", "[Gmail]/Sent Mail"}))
	assert.Equal(t, "", DetectProvider("mx.example.com", []string{"INBOX"}))
}

package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

// Logical folder names.
const (
	FolderInbox     = "inbox"
	FolderSent      = "sent"
	FolderDrafts    = "drafts"
	FolderSpam      = "spam"
	FolderTrash     = "trash"
	FolderArchive   = "archive"
	FolderFlagged   = "flagged"
	FolderImportant = "important"
)

// Folder sources reported by Folders.
const (
	SourceSpecialUse = "special-use"
	SourceProvider   = "provider"
	SourceVerbatim   = "verbatim"
)

// ImportantAttr is the SPECIAL-USE attribute Gmail sets on its Important folder.
const ImportantAttr = `\Important`

var logicalFolders = []string{
	FolderInbox, FolderSent, FolderDrafts, FolderSpam,
	FolderTrash, FolderArchive, FolderFlagged, FolderImportant,
}

var folderAliases = map[string]string{
	"junk":     FolderSpam,
	"all":      FolderArchive,
	"all mail": FolderArchive,
	"starred":  FolderFlagged,
	"deleted":  FolderTrash,
	"draft":    FolderDrafts,
}

// specialUse maps attributes to logical names. \All is only a fallback for
// archive and is handled separately.
var specialUse = map[string]string{
	imap.SentAttr:    FolderSent,
	imap.DraftsAttr:  FolderDrafts,
	imap.JunkAttr:    FolderSpam,
	imap.TrashAttr:   FolderTrash,
	imap.ArchiveAttr: FolderArchive,
	imap.FlaggedAttr: FolderFlagged,
	ImportantAttr:    FolderImportant,
}

var providerFolders = map[string]map[string]string{
	"gmail": {
		FolderSent:      "[Gmail]/Sent Mail",
		FolderDrafts:    "[Gmail]/Drafts",
		FolderSpam:      "[Gmail]/Spam",
		FolderTrash:     "[Gmail]/Trash",
		FolderArchive:   "[Gmail]/All Mail",
		FolderFlagged:   "[Gmail]/Starred",
		FolderImportant: "[Gmail]/Important",
	},
	"outlook": {
		FolderSent:    "Sent Items",
		FolderDrafts:  "Drafts",
		FolderSpam:    "Junk Email",
		FolderTrash:   "Deleted Items",
		FolderArchive: "Archive",
	},
	"yahoo": {
		FolderSent:    "Sent",
		FolderDrafts:  "Draft",
		FolderSpam:    "Bulk Mail",
		FolderTrash:   "Trash",
		FolderArchive: "Archive",
	},
	"icloud": {
		FolderSent:    "Sent Messages",
		FolderDrafts:  "Drafts",
		FolderSpam:    "Junk",
		FolderTrash:   "Deleted Messages",
		FolderArchive: "Archive",
	},
}

// folderTable is what one LIST of a session yielded.
type folderTable struct {
	special map[string]string
	names   []string
}

// CanonicalFolder lower-cases a logical name and resolves aliases.
func CanonicalFolder(logical string) string {
	name := strings.ToLower(strings.TrimSpace(logical))
	if alias, ok := folderAliases[name]; ok {
		return alias
	}
	return name
}

// DetectProvider guesses the provider from the IMAP host or, failing that,
// from Gmail's bracketed folder names.
func DetectProvider(host string, names []string) string {
	h := strings.ToLower(host)
	switch {
	case strings.Contains(h, "gmail") || strings.Contains(h, "googlemail") || strings.Contains(h, "google.com"):
		return "gmail"
	case strings.Contains(h, "outlook") || strings.Contains(h, "office365") || strings.Contains(h, "hotmail") || strings.Contains(h, "live.com"):
		return "outlook"
	case strings.Contains(h, "yahoo"):
		return "yahoo"
	case strings.Contains(h, "icloud") || strings.Contains(h, "me.com") || strings.Contains(h, "mac.com"):
		return "icloud"
	}

	for _, n := range names {
		if strings.HasPrefix(n, "[Gmail]/") || strings.HasPrefix(n, "[Google Mail]/") {
			return "gmail"
		}
	}
	return ""
}

// FolderMapper resolves logical folder names to provider mailbox paths.
type FolderMapper struct {
	log *logrus.Entry
}

func NewFolderMapper(log *logrus.Entry) *FolderMapper {
	return &FolderMapper{log: log}
}

// MapFolder resolves a logical folder name on the session's server. inbox is
// always INBOX. Otherwise the session's special-use attributes win, then the
// provider's static table, then the name itself.
func (m *FolderMapper) MapFolder(logicalName string, s *Session) (string, error) {
	path, _, err := m.resolve(logicalName, s)
	return path, err
}

// Folders returns the resolved table of the known logical folders.
// Folders that only resolve verbatim and do not exist on the server are left out.
func (m *FolderMapper) Folders(s *Session) []models.Folder {
	table := m.table(s)
	existing := make(map[string]struct{}, len(table.names))
	for _, n := range table.names {
		existing[strings.ToLower(n)] = struct{}{}
	}

	folders := make([]models.Folder, 0, len(logicalFolders))
	for _, name := range logicalFolders {
		path, source, err := m.resolve(name, s)
		if err != nil {
			continue
		}
		if source == SourceVerbatim {
			if _, ok := existing[strings.ToLower(path)]; !ok {
				continue
			}
		}
		folders = append(folders, models.Folder{Name: name, Path: path, Source: source})
	}
	return folders
}

func (m *FolderMapper) resolve(logicalName string, s *Session) (path, source string, err error) {
	name := CanonicalFolder(logicalName)
	if name == "" {
		return "", "", mailerr.New(mailerr.KindMailboxNotFound, "folder name is required", nil)
	}
	if name == FolderInbox {
		return "INBOX", SourceSpecialUse, nil
	}

	table := m.table(s)
	if p, ok := table.special[name]; ok {
		return p, SourceSpecialUse, nil
	}

	if provider := DetectProvider(s.Host(), table.names); provider != "" {
		if p, ok := providerFolders[provider][name]; ok {
			return p, SourceProvider, nil
		}
	}

	// Prefer the server's spelling of a case-insensitive match.
	for _, n := range table.names {
		if strings.EqualFold(n, logicalName) {
			return n, SourceVerbatim, nil
		}
	}
	return strings.TrimSpace(logicalName), SourceVerbatim, nil
}

// table lists the session's mailboxes once. A failed LIST yields an empty
// table so the static fallbacks are used.
func (m *FolderMapper) table(s *Session) *folderTable {
	s.mu.Lock()
	cached := s.folders
	s.mu.Unlock()
	if cached != nil {
		return cached
	}

	table, err := listFolders(s.client)
	if err != nil {
		m.log.WithError(err).WithField("host", s.Host()).Warn("folder listing failed, using static mapping")
		table = &folderTable{special: map[string]string{}}
	}

	s.mu.Lock()
	s.folders = table
	s.mu.Unlock()
	return table
}

func listFolders(c Client) (*folderTable, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	table := &folderTable{special: make(map[string]string)}
	allMail := ""
	for mbox := range mailboxes {
		table.names = append(table.names, mbox.Name)
		for _, attr := range mbox.Attributes {
			if strings.EqualFold(attr, imap.AllAttr) {
				if allMail == "" {
					allMail = mbox.Name
				}
				continue
			}
			for special, logical := range specialUse {
				if strings.EqualFold(attr, special) {
					if _, taken := table.special[logical]; !taken {
						table.special[logical] = mbox.Name
					}
				}
			}
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	if _, ok := table.special[FolderArchive]; !ok && allMail != "" {
		table.special[FolderArchive] = allMail
	}
	return table, nil
}

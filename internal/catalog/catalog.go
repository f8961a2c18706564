// Package catalog holds the immutable content the simulation draws from:
// knowledge-base articles and ticket templates. Both are loaded once at
// startup, validated against embedded JSON schemas, and never mutated.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Template is a ticket blueprint the spawner picks from.
type Template struct {
	Title       string `json:"title"`
	Description string `json:"desc"`
}

// Catalog is the loaded content set.
type Catalog struct {
	Articles  []protocol.KBArticle
	Templates []Template

	byID map[string]int
}

// File names looked up under the catalog directory.
const (
	kbFile       = "kb-articles.json"
	templateFile = "ticket-templates.json"
)

// Load reads the catalog from dir. Missing files fall back to the built-in
// defaults; present files must validate against the schemas.
func Load(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		Articles:  defaultArticles(),
		Templates: defaultTemplates(),
	}

	if dir != "" {
		if raw, err := os.ReadFile(filepath.Join(dir, kbFile)); err == nil {
			var arts []protocol.KBArticle
			if err := parseValidated(kbSchema, raw, &arts); err != nil {
				return nil, fmt.Errorf("catalog: %s: %w", kbFile, err)
			}
			c.Articles = arts
			logger.Info("kb articles loaded", "count", len(arts))
		} else {
			logger.Warn("kb articles file missing, using defaults", "dir", dir)
		}

		if raw, err := os.ReadFile(filepath.Join(dir, templateFile)); err == nil {
			var tmpls []Template
			if err := parseValidated(templateSchema, raw, &tmpls); err != nil {
				return nil, fmt.Errorf("catalog: %s: %w", templateFile, err)
			}
			c.Templates = tmpls
			logger.Info("ticket templates loaded", "count", len(tmpls))
		} else {
			logger.Warn("ticket templates file missing, using defaults", "dir", dir)
		}
	}

	if len(c.Templates) == 0 {
		return nil, fmt.Errorf("catalog: no ticket templates")
	}

	c.byID = make(map[string]int, len(c.Articles))
	for i, a := range c.Articles {
		c.byID[a.ID] = i
	}
	return c, nil
}

// Article returns the knowledge-base article with the given ID.
func (c *Catalog) Article(id string) (protocol.KBArticle, bool) {
	i, ok := c.byID[id]
	if !ok {
		return protocol.KBArticle{}, false
	}
	return c.Articles[i], true
}

// Template returns the template at index i of the template list.
func (c *Catalog) Template(i int) Template {
	return c.Templates[i%len(c.Templates)]
}

// MatchArticle finds the first article whose title contains one of the
// ticket title's significant keywords. A miss returns ok=false; that is a
// legal outcome, not an error.
func (c *Catalog) MatchArticle(ticketTitle string) (protocol.KBArticle, bool) {
	words := Normalize(ticketTitle)
	for _, a := range c.Articles {
		title := Normalize(a.Title)
		if overlaps(words, title) {
			return a, true
		}
	}
	return protocol.KBArticle{}, false
}

// SolutionMatches reports whether the linked article's keyword set
// intersects the ticket's title+description keyword set.
func (c *Catalog) SolutionMatches(kbID, ticketTitle, ticketDesc string) bool {
	a, ok := c.Article(kbID)
	if !ok {
		return false
	}
	ticketWords := Normalize(ticketTitle + " " + ticketDesc)
	articleWords := Normalize(a.Title + " " + a.Content)
	return overlaps(ticketWords, articleWords)
}

func overlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, w := range b {
		set[w] = struct{}{}
	}
	for _, w := range a {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func defaultArticles() []protocol.KBArticle {
	return []protocol.KBArticle{
		{ID: "kb_101", Title: "VPN Connection Error (Error 800)", Content: "Check user certificates in the Certs folder. If they have expired, reissue via the portal. Restart Cisco AnyConnect."},
		{ID: "kb_102", Title: "Printer Paper Jam (HP 4000)", Content: "Open tray 2 and check the pickup rollers. If rollers are worn, replacement is required. Temporary solution: clean with alcohol."},
		{ID: "kb_103", Title: "Outlook Not Synchronizing", Content: "Check connection to Exchange. Disable Cached Mode in account settings, restart Outlook, then enable again."},
		{ID: "kb_104", Title: "Blue Screen (BSOD) SYSTEM_THREAD", Content: "Error caused by old video card drivers. Update drivers via Device Manager or manufacturer website."},
		{ID: "kb_105", Title: "SAP Password Reset", Content: "Use transaction SU01. Enter username, go to Logon Data tab and set temporary password."},
	}
}

func defaultTemplates() []Template {
	return []Template{
		{Title: "VPN Not Working From Home", Description: "Employee cannot connect to the network."},
		{Title: "Printer in Accounting Jammed Paper", Description: "Print queue stalled, red light blinking."},
		{Title: "1C Crashed During Report", Description: "Program closes with memory error."},
		{Title: "Access Needed to Network Folder", Description: "Marketing needs access to Z drive."},
		{Title: "Outlook Not Receiving Email", Description: "Last email received 3 hours ago."},
	}
}

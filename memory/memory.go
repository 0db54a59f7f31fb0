// Package memory holds the tiered memory of a memory-augmented agent: editable
// core blocks kept in the prompt, a recall log of every message seen and an
// archival passage store searched on demand.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownBlock is returned when a core memory label does not exist.
	ErrUnknownBlock = errors.New("groupchat: unknown core memory block")
	// ErrBlockLimit is returned when an edit would push a block over its character limit.
	ErrBlockLimit = errors.New("groupchat: core memory block limit exceeded")
	// ErrContentNotFound is returned by Replace when the old content is absent.
	ErrContentNotFound = errors.New("groupchat: content not found in core memory block")
)

// Core memory block labels.
const (
	LabelPersona = "persona"
	LabelHuman   = "human"
)

// DefaultBlockLimit is the per-block character limit.
const DefaultBlockLimit = 2000

// DefaultPageSize is the number of results per search page.
const DefaultPageSize = 5

// Block is one labelled section of core memory.
type Block struct {
	Label string
	Value string
	Limit int
}

// Record is a message in recall memory.
type Record struct {
	ID        string
	Role      string
	Name      string
	Content   string
	CreatedAt time.Time
}

// Passage is an entry in archival memory.
type Passage struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// Query selects one page of keyword search results. Page is zero-based and an
// empty Text matches everything.
type Query struct {
	Text     string
	Page     int
	PageSize int
}

func (q Query) normalized() Query {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	q.Text = strings.TrimSpace(q.Text)
	return q
}

// Store persists memory per agent ID.
type Store interface {
	LoadBlocks(ctx context.Context, agentID string) ([]Block, error)
	SaveBlock(ctx context.Context, agentID string, block Block) error

	AppendRecord(ctx context.Context, agentID string, rec Record) (Record, error)
	SearchRecords(ctx context.Context, agentID string, q Query) ([]Record, int, error)
	CountRecords(ctx context.Context, agentID string) (int, error)

	InsertPassage(ctx context.Context, agentID, text string) (Passage, error)
	SearchPassages(ctx context.Context, agentID string, q Query) ([]Passage, int, error)
	CountPassages(ctx context.Context, agentID string) (int, error)

	Close() error
}

// CoreMemory is the in-prompt memory of an agent. Blocks keep insertion order.
type CoreMemory struct {
	blocks map[string]*Block
	order  []string
}

// NewCoreMemory returns core memory holding persona and human blocks.
func NewCoreMemory(persona, human string, limit int) *CoreMemory {
	if limit <= 0 {
		limit = DefaultBlockLimit
	}
	c := &CoreMemory{blocks: make(map[string]*Block)}
	c.Set(Block{Label: LabelPersona, Value: persona, Limit: limit})
	c.Set(Block{Label: LabelHuman, Value: human, Limit: limit})
	return c
}

// Set adds or overwrites a block without checking its limit.
func (c *CoreMemory) Set(b Block) {
	if b.Limit <= 0 {
		b.Limit = DefaultBlockLimit
	}
	if _, ok := c.blocks[b.Label]; !ok {
		c.order = append(c.order, b.Label)
	}
	c.blocks[b.Label] = &b
}

// Get returns the block with the given label.
func (c *CoreMemory) Get(label string) (Block, bool) {
	b, ok := c.blocks[label]
	if !ok {
		return Block{}, false
	}
	return *b, true
}

// Blocks returns copies of every block in insertion order.
func (c *CoreMemory) Blocks() []Block {
	out := make([]Block, 0, len(c.order))
	for _, label := range c.order {
		out = append(out, *c.blocks[label])
	}
	return out
}

// Append adds content on a new line at the end of a block.
func (c *CoreMemory) Append(label, content string) (Block, error) {
	b, ok := c.blocks[label]
	if !ok {
		return Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, label)
	}
	value := content
	if b.Value != "" {
		value = b.Value + "\n" + content
	}
	return c.update(b, value)
}

// Replace swaps every occurrence of old for replacement inside a block. An
// empty replacement deletes the old content.
func (c *CoreMemory) Replace(label, old, replacement string) (Block, error) {
	b, ok := c.blocks[label]
	if !ok {
		return Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, label)
	}
	if old == "" || !strings.Contains(b.Value, old) {
		return Block{}, fmt.Errorf("%w: %q in %s", ErrContentNotFound, old, label)
	}
	return c.update(b, strings.ReplaceAll(b.Value, old, replacement))
}

func (c *CoreMemory) update(b *Block, value string) (Block, error) {
	if n := len([]rune(value)); n > b.Limit {
		return Block{}, fmt.Errorf("%w: %s would be %d characters, limit %d", ErrBlockLimit, b.Label, n, b.Limit)
	}
	b.Value = value
	return *b, nil
}

// Render formats the blocks as tagged sections for the system prompt.
func (c *CoreMemory) Render() string {
	var sb strings.Builder
	for i, label := range c.order {
		b := c.blocks[label]
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "<%s characters=\"%d/%d\">\n%s\n</%s>", label, len([]rune(b.Value)), b.Limit, b.Value, label)
	}
	return sb.String()
}

func matches(text, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(query))
}

func paginate[T any](items []T, q Query) []T {
	start := q.Page * q.PageSize
	if start >= len(items) {
		return nil
	}
	end := start + q.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

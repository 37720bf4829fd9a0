package fragment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	mrand "github.com/ericlagergren/saferand"

	"otr4/internal/otr4err"
)

const headerPrefix = "?OTR|"

// Status reports the state of an in-progress reassembly context.
type Status int

const (
	Unfragmented Status = iota
	Incomplete
	Complete
)

// Context holds the pieces received so far for one (sender_tag,
// identifier) fragmentation stream.
type Context struct {
	Identifier      uint32
	Total           uint16
	Count           uint16
	TotalBytes      int
	Pieces          map[uint16]string
	Status          Status
	FirstReceivedAt time.Time
}

// Split divides message into `total` frames sharing a freshly chosen 32-bit
// identifier. In each frame the header and payload together take at most
// maxSize bytes; the closing "," separator follows them. It fails
// with InvalidParameter if the header alone would not leave room for any
// payload, or if the message would need more than 65535 fragments.
func Split(message string, maxSize int, ourInstanceTag, theirInstanceTag uint32) ([]string, error) {
	identifier := uint32(mrand.Uint64())

	headerLen := len(fmt.Sprintf("%s%08x|%08x|%08x,%05d,%05d,", headerPrefix, identifier, ourInstanceTag, theirInstanceTag, 1, 1))
	limit := maxSize - headerLen
	if limit <= 0 {
		return nil, otr4err.New(otr4err.InvalidParameter, "fragment.Split", "max_size leaves no room for payload")
	}

	total := (len(message)-1)/limit + 1
	if len(message) == 0 {
		total = 1
	}
	if total < 1 || total > 65535 {
		return nil, otr4err.New(otr4err.InvalidParameter, "fragment.Split", "message requires an out-of-range fragment count")
	}

	pieces := make([]string, 0, total)
	for i := 0; i < total; i++ {
		start := i * limit
		end := start + limit
		if end > len(message) {
			end = len(message)
		}
		pieces = append(pieces, fmt.Sprintf("%s%08x|%08x|%08x,%05d,%05d,%s,",
			headerPrefix, identifier, ourInstanceTag, theirInstanceTag, i+1, total, message[start:end]))
	}
	return pieces, nil
}

// Reassembler tracks in-progress reassembly contexts keyed by
// (sender_tag, identifier), so a fragment-identifier collision between two
// different peers never contaminates the wrong context.
type Reassembler struct {
	ourInstanceTag uint32
	contexts       map[contextKey]*Context
	now            func() time.Time
}

type contextKey struct {
	senderTag  uint32
	identifier uint32
}

// NewReassembler returns a Reassembler scoped to ourInstanceTag.
func NewReassembler(ourInstanceTag uint32) *Reassembler {
	return &Reassembler{
		ourInstanceTag: ourInstanceTag,
		contexts:       make(map[contextKey]*Context),
		now:            time.Now,
	}
}

// IsFragment reports whether s begins with the fragment frame prefix.
func IsFragment(s string) bool { return strings.HasPrefix(s, headerPrefix) }

// Feed processes one incoming frame. If s is not a fragment at all, it
// returns ok=false so the caller passes it through unchanged. Once the
// final piece of a stream arrives, it returns the reassembled message.
func (r *Reassembler) Feed(s string, senderTag uint32) (message string, complete bool, ok bool, err error) {
	if !IsFragment(s) {
		return "", false, false, nil
	}

	identifier, receiverTag, index, total, payload, perr := parseFrame(s)
	if perr != nil {
		return "", false, true, perr
	}
	if index == 0 || total == 0 || index > total || len(payload) == 0 {
		return "", false, true, otr4err.New(otr4err.ProtocolViolation, "fragment.Feed", "malformed fragment indices")
	}

	key := contextKey{senderTag: senderTag, identifier: identifier}

	if receiverTag != 0 && receiverTag != r.ourInstanceTag {
		if ctx, exists := r.contexts[key]; exists {
			ctx.Status = Complete
		}
		return "", false, true, nil
	}

	ctx, exists := r.contexts[key]
	if !exists {
		ctx = &Context{
			Identifier:      identifier,
			Total:           total,
			Pieces:          make(map[uint16]string, total),
			Status:          Incomplete,
			FirstReceivedAt: r.now(),
		}
		r.contexts[key] = ctx
	}

	if _, already := ctx.Pieces[index-1]; !already {
		ctx.Pieces[index-1] = payload
		ctx.Count++
		ctx.TotalBytes += len(payload)
	}

	if ctx.Count < ctx.Total {
		return "", false, true, nil
	}

	var b strings.Builder
	b.Grow(ctx.TotalBytes)
	for i := uint16(0); i < ctx.Total; i++ {
		b.WriteString(ctx.Pieces[i])
	}
	ctx.Status = Complete
	delete(r.contexts, key)
	return b.String(), true, true, nil
}

// Expire discards any in-progress context whose first piece arrived more
// than ttl ago.
func (r *Reassembler) Expire(ttl time.Duration) {
	now := r.now()
	for key, ctx := range r.contexts {
		if ctx.Status != Complete && now.Sub(ctx.FirstReceivedAt) > ttl {
			delete(r.contexts, key)
		}
	}
}

// parseFrame parses "?OTR|<id:8hex>|<sender:8hex>|<receiver:8hex>,<index:dec>,<total:dec>,<payload>,".
// The sender tag is carried in the frame but keyed by the caller (Feed
// receives it out of band from the transport), not returned here.
func parseFrame(s string) (identifier uint32, receiverTag uint32, index, total uint16, payload string, err error) {
	fail := func(msg string) (uint32, uint32, uint16, uint16, string, error) {
		return 0, 0, 0, 0, "", otr4err.New(otr4err.ProtocolViolation, "fragment.parseFrame", msg)
	}

	rest := strings.TrimPrefix(s, headerPrefix)
	parts := strings.SplitN(rest, "|", 3)
	if len(parts) != 3 {
		return fail("malformed frame header")
	}

	idTag, err1 := strconv.ParseUint(parts[0], 16, 32)
	if err1 != nil {
		return fail("malformed identifier field")
	}

	body := strings.SplitN(parts[2], ",", 4)
	if len(body) != 4 {
		return fail("malformed frame body")
	}
	recvTag, err2 := strconv.ParseUint(body[0], 16, 32)
	idx, err3 := strconv.ParseUint(body[1], 10, 16)
	tot, err4 := strconv.ParseUint(body[2], 10, 16)
	if err2 != nil || err3 != nil || err4 != nil {
		return fail("malformed receiver tag / index / total")
	}

	return uint32(idTag), uint32(recvTag), uint16(idx), uint16(tot), strings.TrimSuffix(body[3], ","), nil
}

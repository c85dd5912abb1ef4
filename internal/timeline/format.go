package timeline

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"squadlink/internal/domain/message"
)

// Kind tags an Item.
type Kind int

const (
	KindDateDivider Kind = iota
	KindUnreadDivider
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindDateDivider:
		return "date_divider"
	case KindUnreadDivider:
		return "unread_divider"
	case KindMessage:
		return "message"
	}
	return "unknown"
}

const (
	UnreadKey        = "unread"
	dateLayout       = "2006-01-02"
	defaultClock     = "15:04"
	previewMaxRunes  = 60
	imagePreviewText = "[Image]"
)

// Item is one display entry. Key is stable across passes over the same input
// and identifies the entry to a consumer acknowledging what it has rendered.
type Item struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"key"`

	// KindDateDivider
	Date string `json:"date,omitempty"`

	// KindMessage
	Message          *message.Message `json:"message,omitempty"`
	IsOwn            bool             `json:"is_own,omitempty"`
	IsGroupStart     bool             `json:"is_group_start,omitempty"`
	IsGroupEnd       bool             `json:"is_group_end,omitempty"`
	FormattedTime    string           `json:"formatted_time,omitempty"`
	FormattedContent string           `json:"formatted_content,omitempty"`
}

type Options struct {
	// Location decides calendar dates and clock times. Defaults to UTC.
	Location *time.Location
	// ClockLayout formats FormattedTime. Defaults to "15:04".
	ClockLayout string
}

func DateKey(date string) string {
	return "date:" + date
}

func MessageKey(id int64) string {
	return "msg:" + strconv.FormatInt(id, 10)
}

// Format turns an ascending message set into display items: a date divider
// wherever the calendar date changes, at most one unread divider, and
// messages flagged with their visual group boundaries. It does not modify
// its input and returns identical output for identical input.
func Format(msgs []message.Message, snap message.ReadStateSnapshot, viewerID string, opts Options) []Item {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := opts.ClockLayout
	if clock == "" {
		clock = defaultClock
	}

	items := make([]Item, 0, len(msgs)+2)
	lastMsg := -1
	unreadShown := false

	for i := range msgs {
		cur := msgs[i]
		local := cur.CreatedAt.In(loc)
		var prev *message.Message
		if i > 0 {
			prev = &msgs[i-1]
		}

		divided := false
		if prev != nil && !sameDate(prev.CreatedAt.In(loc), local) {
			date := local.Format(dateLayout)
			items = append(items, Item{Kind: KindDateDivider, Key: DateKey(date), Date: date})
			divided = true
		}
		if !unreadShown && startsUnreadRun(prev, cur, snap, viewerID) {
			items = append(items, Item{Kind: KindUnreadDivider, Key: UnreadKey})
			unreadShown = true
			divided = true
		}

		start := prev == nil || divided || !sameGroup(*prev, cur)
		if start && lastMsg >= 0 {
			items[lastMsg].IsGroupEnd = true
		}

		m := cur
		items = append(items, Item{
			Kind:             KindMessage,
			Key:              MessageKey(cur.ID),
			Message:          &m,
			IsOwn:            cur.SenderID == viewerID,
			IsGroupStart:     start,
			FormattedTime:    local.Format(clock),
			FormattedContent: formatContent(cur),
		})
		lastMsg = len(items) - 1
	}
	if lastMsg >= 0 {
		items[lastMsg].IsGroupEnd = true
	}
	return items
}

// startsUnreadRun reports whether cur is the first of a contiguous run of
// other-authored messages that were unread when the history was loaded.
// Messages that arrived live are not in the snapshot and never qualify.
func startsUnreadRun(prev *message.Message, cur message.Message, snap message.ReadStateSnapshot, viewerID string) bool {
	if cur.SenderID == viewerID {
		return false
	}
	read, ok := snap.Lookup(cur.ID)
	if !ok || read {
		return false
	}
	if prev == nil || prev.SenderID == viewerID {
		return true
	}
	prevRead, _ := snap.Lookup(prev.ID)
	return prevRead
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// sameGroup: same sender within the same clock minute. System messages
// always stand alone.
func sameGroup(a, b message.Message) bool {
	if a.ContentType == message.ContentSystem || b.ContentType == message.ContentSystem {
		return false
	}
	if a.SenderID != b.SenderID {
		return false
	}
	return a.CreatedAt.Truncate(time.Minute).Equal(b.CreatedAt.Truncate(time.Minute))
}

func formatContent(m message.Message) string {
	if m.ContentType == message.ContentText {
		return strings.TrimRight(m.Content, " \t\r\n")
	}
	return strings.TrimSpace(m.Content)
}

// PreviewText renders the one-line preview shown in the conversation list.
func PreviewText(m *message.Message) string {
	if m == nil {
		return ""
	}
	if m.ContentType == message.ContentImage {
		return imagePreviewText
	}
	text := strings.Join(strings.Fields(m.Content), " ")
	if utf8.RuneCountInString(text) <= previewMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewMaxRunes-1]) + "…"
}

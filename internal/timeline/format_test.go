package timeline

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"squadlink/internal/domain/message"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func m(id int64, sender string, at time.Time, read bool) message.Message {
	return message.Message{ID: id, RoomID: 1, SenderID: sender, Content: "x", ContentType: message.ContentText, CreatedAt: at, IsRead: read}
}

func kinds(items []Item) []Kind {
	out := make([]Kind, len(items))
	for i, it := range items {
		out[i] = it.Kind
	}
	return out
}

func keys(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}

func TestEndToEndUnreadDividerSurvivesMarkRead(t *testing.T) {
	history := []message.Message{{ID: 1, RoomID: 1, SenderID: "u1", Content: "hi", ContentType: message.ContentText, CreatedAt: t0, IsRead: false}}
	snap := message.CaptureReadState(history)

	before := Format(history, snap, "u2", Options{})
	if !reflect.DeepEqual(kinds(before), []Kind{KindUnreadDivider, KindMessage}) {
		t.Fatalf("unexpected items %v", kinds(before))
	}
	if before[1].Message.ID != 1 || before[1].IsOwn {
		t.Fatalf("unexpected message item %+v", before[1])
	}

	// read receipt lands: live state flips, snapshot does not
	live := append([]message.Message(nil), history...)
	live[0].IsRead = true
	after := Format(live, snap, "u2", Options{})
	if !reflect.DeepEqual(kinds(after), []Kind{KindUnreadDivider, KindMessage}) {
		t.Fatalf("divider vanished after mark read: %v", kinds(after))
	}
	if !after[1].Message.IsRead {
		t.Fatalf("message item must reflect live read state")
	}
}

func TestUnreadDividerBoundaryCrossing(t *testing.T) {
	msgs := []message.Message{
		m(1, "u1", t0, true),
		m(2, "me", t0.Add(time.Minute), false),
		m(3, "u1", t0.Add(2*time.Minute), false),
		m(4, "u1", t0.Add(3*time.Minute), false),
		m(5, "me", t0.Add(4*time.Minute), false),
		m(6, "u1", t0.Add(5*time.Minute), false),
	}
	items := Format(msgs, message.CaptureReadState(msgs), "me", Options{})

	want := []string{"msg:1", "msg:2", "unread", "msg:3", "msg:4", "msg:5", "msg:6"}
	if !reflect.DeepEqual(keys(items), want) {
		t.Fatalf("got %v, want %v", keys(items), want)
	}
}

func TestUnreadDividerIgnoresLiveMessages(t *testing.T) {
	history := []message.Message{m(1, "u1", t0, true)}
	snap := message.CaptureReadState(history)
	msgs := append(history, m(2, "u1", t0.Add(time.Minute), false))

	for _, it := range Format(msgs, snap, "me", Options{}) {
		if it.Kind == KindUnreadDivider {
			t.Fatalf("live message must not gain an unread divider")
		}
	}
}

func TestUnreadDividerNeverForOwnMessages(t *testing.T) {
	msgs := []message.Message{m(1, "me", t0, false), m(2, "me", t0.Add(time.Minute), false)}
	for _, it := range Format(msgs, message.CaptureReadState(msgs), "me", Options{}) {
		if it.Kind == KindUnreadDivider {
			t.Fatalf("own messages must not produce an unread divider")
		}
	}
}

func TestDateDividersUseLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// 14:30 UTC on May 1 is 23:30 in Tokyo; 15:30 UTC is 00:30 on May 2
	msgs := []message.Message{
		m(1, "u1", time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC), true),
		m(2, "u1", time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC), true),
	}
	snap := message.CaptureReadState(msgs)

	utc := Format(msgs, snap, "me", Options{})
	if len(utc) != 2 {
		t.Fatalf("same UTC day must not divide: %v", keys(utc))
	}
	local := Format(msgs, snap, "me", Options{Location: tokyo})
	if !reflect.DeepEqual(keys(local), []string{"msg:1", "date:2024-05-02", "msg:2"}) {
		t.Fatalf("unexpected Tokyo items %v", keys(local))
	}
	if local[2].FormattedTime != "00:30" {
		t.Fatalf("expected local clock time, got %q", local[2].FormattedTime)
	}
}

func TestGrouping(t *testing.T) {
	sys := m(5, "u1", t0.Add(10*time.Second), true)
	sys.ContentType = message.ContentSystem
	msgs := []message.Message{
		m(1, "u1", t0, true),
		m(2, "u1", t0.Add(20*time.Second), true),
		m(3, "u2", t0.Add(30*time.Second), true),
		m(4, "u2", t0.Add(70*time.Second), true),
	}
	items := Format(msgs, message.CaptureReadState(msgs), "me", Options{})

	type flags struct{ start, end bool }
	got := make([]flags, 0, len(items))
	for _, it := range items {
		got = append(got, flags{it.IsGroupStart, it.IsGroupEnd})
	}
	want := []flags{{true, false}, {false, true}, {true, true}, {true, true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	withSystem := []message.Message{msgs[0], sys, msgs[1]}
	items = Format(withSystem, message.CaptureReadState(withSystem), "me", Options{})
	for _, it := range items {
		if !it.IsGroupStart || !it.IsGroupEnd {
			t.Fatalf("system message must break the group: %+v", it)
		}
	}
}

func TestDividerBreaksGroup(t *testing.T) {
	msgs := []message.Message{
		m(1, "me", t0, true),
		m(2, "u1", t0.Add(time.Second), true),
		m(3, "u1", t0.Add(2*time.Second), false),
	}
	items := Format(msgs, message.CaptureReadState(msgs), "me", Options{})
	if !reflect.DeepEqual(keys(items), []string{"msg:1", "msg:2", "unread", "msg:3"}) {
		t.Fatalf("unexpected items %v", keys(items))
	}
	if !items[1].IsGroupEnd || !items[3].IsGroupStart {
		t.Fatalf("unread divider must split the group: %+v", items)
	}
}

func TestFormatIsDeterministic(t *testing.T) {
	msgs := []message.Message{
		m(1, "u1", t0, false),
		m(2, "me", t0.Add(24*time.Hour), false),
		m(3, "u1", t0.Add(25*time.Hour), false),
	}
	snap := message.CaptureReadState(msgs)
	a, _ := json.Marshal(Format(msgs, snap, "me", Options{}))
	b, _ := json.Marshal(Format(msgs, snap, "me", Options{}))
	if string(a) != string(b) {
		t.Fatalf("output differs between passes")
	}
	if msgs[0].IsRead {
		t.Fatalf("input mutated")
	}
}

func TestPreviewText(t *testing.T) {
	img := m(1, "u1", t0, true)
	img.ContentType = message.ContentImage
	img.Content = "https://cdn.example/a.png"
	if got := PreviewText(&img); got != "[Image]" {
		t.Fatalf("image preview = %q", got)
	}
	long := m(2, "u1", t0, true)
	long.Content = "gg   wp\nthis is a very long message that keeps going well past the preview limit"
	got := PreviewText(&long)
	if len([]rune(got)) != 60 || got[:5] != "gg wp" {
		t.Fatalf("unexpected preview %q", got)
	}
	if PreviewText(nil) != "" {
		t.Fatalf("nil preview must be empty")
	}
}

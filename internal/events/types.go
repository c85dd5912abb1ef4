package events

// Row actions carried by the change feed
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Tables that emit row events
const (
	TableMessages     = "messages"
	TableRoomMembers  = "room_members"
	TableRooms        = "rooms"
	TableMessageReads = "message_reads"
)

// ChannelPrefixFeed namespaces every change feed channel in Redis.
const ChannelPrefixFeed = "feed:"

// filterColumns lists, per table, the columns a subscriber may filter on.
// A row event is published once per column plus once table-wide.
var filterColumns = map[string][]string{
	TableMessages:     {"room_id"},
	TableRoomMembers:  {"user_id", "room_id"},
	TableRooms:        {"id"},
	TableMessageReads: {"user_id", "room_id"},
}

// FilterColumns returns the filterable columns of table.
func FilterColumns(table string) []string {
	return filterColumns[table]
}

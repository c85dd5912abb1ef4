package events

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Channel names one change feed stream. An empty column names the table-wide
// stream; an empty value with a column names every row of that column and is
// only meaningful as a subscription pattern.
func Channel(action, table, column, value string) string {
	if column == "" {
		return fmt.Sprintf("%s%s:%s", ChannelPrefixFeed, action, table)
	}
	if value == "" {
		value = "*"
	}
	return fmt.Sprintf("%s%s:%s:%s:%s", ChannelPrefixFeed, action, table, column, value)
}

// IsPattern reports whether a channel name must be subscribed with PSUBSCRIBE.
func IsPattern(channel string) bool {
	return strings.HasSuffix(channel, ":*")
}

// ChannelResolver determines which channels a row event is published to
type ChannelResolver interface {
	ResolveChannels(env Envelope) ([]string, error)
}

// ColumnChannelResolver fans a row event out to the table-wide channel and to
// one channel per filterable column value found in the record.
type ColumnChannelResolver struct{}

func NewColumnChannelResolver() *ColumnChannelResolver {
	return &ColumnChannelResolver{}
}

func (r *ColumnChannelResolver) ResolveChannels(env Envelope) ([]string, error) {
	channels := []string{Channel(env.Action, env.Table, "", "")}

	columns := FilterColumns(env.Table)
	if len(columns) == 0 {
		return channels, nil
	}

	if !gjson.ValidBytes(env.Record) {
		return nil, fmt.Errorf("decode %s record: invalid json", env.Table)
	}
	record := gjson.ParseBytes(env.Record)
	if !record.IsObject() {
		return nil, fmt.Errorf("decode %s record: not an object", env.Table)
	}
	for _, col := range columns {
		value := columnValue(record.Get(col))
		if value == "" {
			continue
		}
		channels = append(channels, Channel(env.Action, env.Table, col, value))
	}
	return channels, nil
}

// columnValue renders a JSON scalar as the channel suffix: strings unquoted,
// numbers verbatim.
func columnValue(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	}
	return ""
}

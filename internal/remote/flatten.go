package remote

import (
	"bytes"
	"encoding/json"
)

const (
	playlistTypePlaylist = "playlistTypePlaylist"
	playlistTypeGroup    = "playlistTypeGroup"
)

type playlistNode struct {
	Type    string            `json:"playlistType"`
	Members []json.RawMessage `json:"playlist"`
}

// Flatten turns a playlist catalog tree into its leaf playlists, depth
// first and left to right. A leaf returns its members untouched, a group
// is flattened child by child and a bare array is treated as a group.
// Nodes of any other type contribute nothing. The result is never nil.
func Flatten(raw json.RawMessage) []json.RawMessage {
	out := []json.RawMessage{}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var children []json.RawMessage
		if err := json.Unmarshal(trimmed, &children); err != nil {
			return out
		}
		return flattenChildren(out, children)
	}

	var node playlistNode
	if err := json.Unmarshal(trimmed, &node); err != nil {
		return out
	}
	switch node.Type {
	case playlistTypePlaylist:
		return append(out, node.Members...)
	case playlistTypeGroup:
		return flattenChildren(out, node.Members)
	}
	return out
}

func flattenChildren(out, children []json.RawMessage) []json.RawMessage {
	for _, child := range children {
		out = append(out, Flatten(child)...)
	}
	return out
}

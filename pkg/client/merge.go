package client

import (
	"cmp"
	"slices"
)

// MergeMessages combines two copies of a message list. Entries are grouped
// by id; the copy with the later editedAt wins, and on a tie the copy with
// more populated fields wins (incoming on a full tie). The result is sorted
// by createdAt then id. Neither input is modified.
func MergeMessages(local, incoming []Message) []Message {
	byID := make(map[string]Message, len(local)+len(incoming))
	order := make([]string, 0, len(local)+len(incoming))

	add := func(m Message) {
		cur, ok := byID[m.ID]
		if !ok {
			order = append(order, m.ID)
			byID[m.ID] = m
			return
		}
		byID[m.ID] = pick(cur, m)
	}
	for _, m := range local {
		add(m)
	}
	for _, m := range incoming {
		add(m)
	}

	out := make([]Message, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	slices.SortStableFunc(out, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// pick chooses between two copies of the same message, preferring b on a tie.
func pick(a, b Message) Message {
	switch {
	case a.EditedAt != nil && b.EditedAt == nil:
		return a
	case a.EditedAt == nil && b.EditedAt != nil:
		return b
	case a.EditedAt != nil && b.EditedAt != nil && !a.EditedAt.Equal(*b.EditedAt):
		if a.EditedAt.After(*b.EditedAt) {
			return a
		}
		return b
	}
	if populated(a) > populated(b) {
		return a
	}
	return b
}

func populated(m Message) int {
	n := 0
	for _, set := range []bool{
		m.Content != "",
		m.Type != "",
		len(m.Attachments) > 0,
		m.ReplyTo != nil,
		len(m.Reactions) > 0,
		m.EditedAt != nil,
		m.DeletedAt != nil,
		len(m.ReadBy) > 0,
		len(m.DeliveredTo) > 0,
		!m.UpdatedAt.IsZero(),
		m.Sender != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

package store

// Reconcile folds an incoming message into a conversation log without
// duplication. The incoming message may be a provisional local send (only a
// correlation id), a send ack (server id + correlation id), or a push
// delivery (server id, plus the correlation id when it originated here).
//
// Matching is by server id first, then by correlation id. A match replaces
// the entry in place; no match appends. Reconcile is idempotent and never
// reorders existing entries. The input slice is not mutated.
func Reconcile(log []Message, incoming Message) []Message {
	i := matchIndex(log, incoming)
	if i < 0 {
		out := make([]Message, len(log), len(log)+1)
		copy(out, log)
		return append(out, incoming)
	}
	out := make([]Message, len(log))
	copy(out, log)
	out[i] = merge(out[i], incoming)

	// A server-id match can hand the incoming correlation id to an entry
	// while a provisional entry still carries it (the push landed before the
	// ack, without a correlation echo). Those two slots are the same logical
	// message; collapse them into the earlier one so neither id is ever
	// duplicated.
	if incoming.ID != "" && incoming.CorrelationID != "" {
		for j := range out {
			if j == i || out[j].CorrelationID == "" || out[j].CorrelationID != incoming.CorrelationID {
				continue
			}
			keep, drop := i, j
			if j < i {
				keep, drop = j, i
			}
			out[keep] = merge(out[j], out[i])
			out = append(out[:drop], out[drop+1:]...)
			break
		}
	}
	return out
}

func matchIndex(log []Message, incoming Message) int {
	if incoming.ID != "" {
		for i := range log {
			if log[i].ID != "" && log[i].ID == incoming.ID {
				return i
			}
		}
	}
	if incoming.CorrelationID != "" {
		for i := range log {
			if log[i].CorrelationID != "" && log[i].CorrelationID == incoming.CorrelationID {
				return i
			}
		}
	}
	return -1
}

// merge combines a matched pair into one logical message, preferring the
// incoming server id, status (unless it would regress), metadata, and
// server timestamp. Position and conversation id stay with the existing entry.
func merge(existing, incoming Message) Message {
	out := existing

	if incoming.ID != "" {
		out.ID = incoming.ID
	}
	if out.CorrelationID == "" {
		out.CorrelationID = incoming.CorrelationID
	}
	if incoming.Status != "" && statusRank[incoming.Status] >= statusRank[out.Status] {
		out.Status = incoming.Status
	}
	if incoming.Body != "" {
		out.Body = incoming.Body
	}
	if incoming.Type != "" {
		out.Type = incoming.Type
	}
	if incoming.Meta != nil {
		out.Meta = incoming.Meta
	}
	if incoming.SenderID != "" {
		out.SenderID = incoming.SenderID
	}
	if incoming.SenderName != "" {
		out.SenderName = incoming.SenderName
	}
	if incoming.Timestamp > 0 {
		out.Timestamp = incoming.Timestamp
	}
	return out
}

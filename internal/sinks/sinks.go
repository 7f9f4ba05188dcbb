// Package sinks delivers observations to the configured downstream
// receivers.  Each sink owns its schedule and failure state; a worker
// per sink keeps slow receivers from blocking the normaliser.
package sinks

import (
	"context"
	"strings"

	"github.com/foshk/gateway/internal/types"
)

// Sink serialises and delivers observations for one forward.  Build and
// Send are split so the external exec hook can rewrite the payload in
// between.
type Sink interface {
	// Build renders the observation into the sink's wire payload.
	Build(obs *types.Observation) (string, error)
	// Send delivers one payload.
	Send(ctx context.Context, payload string) error
}

type pair struct {
	key, val string
}

// payloadPairs flattens the requested view into ordered pairs, dropping
// ignored keys and appending extras and status fields.
func payloadPairs(obs *types.Observation, metric bool, ignore []string, extra map[string]string, status []pair) []pair {
	skip := make(map[string]bool, len(ignore))
	for _, k := range ignore {
		if k = strings.TrimSpace(k); k != "" {
			skip[k] = true
		}
	}
	view := obs.View(metric)
	keys := obs.SortedKeys(metric)
	out := make([]pair, 0, len(keys)+len(extra)+len(status))
	for _, k := range keys {
		if skip[k] {
			continue
		}
		out = append(out, pair{k, view[k].Text})
	}
	for _, k := range sortedMapKeys(extra) {
		out = append(out, pair{k, extra[k]})
	}
	out = append(out, status...)
	return out
}

func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// renderKV renders pairs as the space-separated k=v text used on UDP
// and as the dispatcher's neutral payload form.  Values containing
// spaces are quoted.
func renderKV(pairs []pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		if strings.ContainsAny(p.val, " \t") {
			b.WriteByte('"')
			b.WriteString(p.val)
			b.WriteByte('"')
		} else {
			b.WriteString(p.val)
		}
	}
	return b.String()
}

// parseKV is the inverse of renderKV, tolerant of exec-hook output.
func parseKV(s string) []pair {
	var out []pair
	for _, tok := range splitTokens(s) {
		if k, v, ok := strings.Cut(tok, "="); ok {
			out = append(out, pair{k, strings.Trim(v, `"`)})
		}
	}
	return out
}

// splitTokens splits on whitespace without breaking a quoted value.
func splitTokens(s string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case (r == ' ' || r == '\t') && !quoted:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// Fragment splits a SID-prefixed datagram at maxLen bytes, breaking
// only between tokens and repeating the SID token in every fragment.
func Fragment(sid string, body string, maxLen int) []string {
	prefix := "SID=" + sid
	full := prefix
	if body != "" {
		full += " " + body
	}
	if maxLen <= 0 || len(full) <= maxLen {
		return []string{full}
	}

	var (
		frags []string
		cur   = prefix
	)
	for _, tok := range splitTokens(body) {
		if len(cur)+1+len(tok) > maxLen && cur != prefix {
			frags = append(frags, cur)
			cur = prefix
		}
		cur += " " + tok
	}
	if cur != prefix {
		frags = append(frags, cur)
	}
	if len(frags) == 0 {
		frags = []string{prefix}
	}
	return frags
}

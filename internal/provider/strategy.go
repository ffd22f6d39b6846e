// Package provider encapsulates per-provider CalDAV quirks as data. A
// Strategy is selected once per sync run from the configured server address
// and passed down; behavioral divergence between providers lives in strategy
// fields, never in duplicated control flow.
package provider

import (
	"errors"
	"strings"
	"time"

	"github.com/stevetools/calsync/internal/caldav"
)

// ConflictPolicy decides what happens to a push candidate after the server
// reports "already exists" on create. Providers genuinely disagree here, so
// this is an explicit per-strategy switch.
type ConflictPolicy int

const (
	// ConflictAccept marks the event synced (clears needsPush), accepting
	// that the true remote identity cannot be recovered. Avoids repeated
	// conflicts on every run.
	ConflictAccept ConflictPolicy = iota

	// ConflictRetry leaves needsPush set so the event is retried on every
	// subsequent run.
	ConflictRetry
)

// PushFailure classifies a failed push operation.
type PushFailure int

const (
	// FailureAlreadyExists: the server reports a resource already at this
	// name. Resolution depends on the strategy's ConflictPolicy.
	FailureAlreadyExists PushFailure = iota

	// FailureTransient: server error or connection failure; the candidate
	// stays eligible for retry on the next run.
	FailureTransient

	// FailureRejected: the server refused the payload (bad request,
	// forbidden). Retrying the same payload will not help.
	FailureRejected
)

// Strategy holds one provider's policy. The three concrete strategies are
// Strict (QQ), Lenient (Feishu), and Generic (every other server).
type Strategy struct {
	// Name identifies the strategy ("qq", "feishu", "generic").
	Name string

	// SourceTag marks events mirrored from this provider and scopes the
	// deletion sweep and push eligibility.
	SourceTag string

	// OnConflict is the AlreadyExists policy, see ConflictPolicy.
	OnConflict ConflictPolicy

	// BackfillWindow, when non-zero, makes the push phase mark local
	// non-sync events created within the window and lacking remote linkage
	// as needing a push.
	BackfillWindow time.Duration

	// MaxSummaryLen / MaxDescriptionLen truncate outgoing text; zero means
	// unlimited. Strict servers reject overlong fields.
	MaxSummaryLen     int
	MaxDescriptionLen int

	// preferredCalendars are display names tried in order by
	// SelectCalendar before falling back to the first collection.
	preferredCalendars []string

	// extraHeaders are sent with every request to this provider.
	extraHeaders map[string]string

	// stripProps are top-level property prefixes removed from encoder
	// output; insertEmptyMethod adds a bare "METHOD:" line after PRODID
	// (observed requirement of the lenient provider).
	stripProps        []string
	insertEmptyMethod bool
}

// ForServer picks the strategy for the configured server address.
// calendarName, when non-empty, is preferred during collection selection.
func ForServer(serverURL, calendarName string) *Strategy {
	addr := strings.ToLower(serverURL)

	var s *Strategy

	switch {
	case strings.Contains(addr, "dav.qq.com"):
		s = strict()
	case strings.Contains(addr, "caldav.feishu.cn"):
		s = lenient()
	default:
		s = generic()
	}

	if calendarName != "" {
		s.preferredCalendars = append([]string{calendarName}, s.preferredCalendars...)
	}

	return s
}

// ScopeToAccount rebinds the source tag to the account. Two accounts of the
// same provider type would otherwise share a tag, and one account's deletion
// sweep would remove events the other just mirrored into the shared store.
func (s *Strategy) ScopeToAccount(name string) {
	if name != "" {
		s.SourceTag = name + "-sync"
	}
}

// strict is the QQ-shaped provider: a picky server that rejects overlong
// fields and only ever saw minimal payloads. Accepts conflicts as synced and
// backfills recent unlinked local events into the push set.
func strict() *Strategy {
	return &Strategy{
		Name:              "qq",
		SourceTag:         "qq-sync",
		OnConflict:        ConflictAccept,
		BackfillWindow:    183 * 24 * time.Hour,
		MaxSummaryLen:     200,
		MaxDescriptionLen: 500,
		preferredCalendars: []string{
			"Calendar", "日历",
		},
	}
}

// lenient is the Feishu-shaped provider: accepts rich payloads but only when
// the client presents a mobile CalDAV identity, wants an empty METHOD line,
// and answers create conflicts in a way that is safe to retry forever.
func lenient() *Strategy {
	return &Strategy{
		Name:       "feishu",
		SourceTag:  "feishu-sync",
		OnConflict: ConflictRetry,
		extraHeaders: map[string]string{
			"User-Agent": "iOS/17.4.1 (21E236) dataaccessd/1.0",
		},
		stripProps:        []string{"METHOD:", "X-PUBLISHED-TTL:"},
		insertEmptyMethod: true,
	}
}

// generic is the standards-compliant default: plain payloads without the
// publish-method marker, conflicts accepted as already-synced.
func generic() *Strategy {
	return &Strategy{
		Name:       "generic",
		SourceTag:  "generic-sync",
		OnConflict: ConflictAccept,
		stripProps: []string{"METHOD:", "X-PUBLISHED-TTL:"},
	}
}

// SelectCalendar picks the collection to sync: the first preferred display
// name found, else the first collection the server returned.
func (s *Strategy) SelectCalendar(cals []caldav.Calendar) caldav.Calendar {
	for _, name := range s.preferredCalendars {
		for _, cal := range cals {
			if cal.DisplayName == name {
				return cal
			}
		}
	}

	return cals[0]
}

// TransportHeaders returns provider-specific request headers, nil when none.
func (s *Strategy) TransportHeaders() map[string]string {
	return s.extraHeaders
}

// ClassifyPushFailure maps a push error to its failure class. Deterministic
// for a fixed strategy and error.
func (s *Strategy) ClassifyPushFailure(err error) PushFailure {
	switch {
	case errors.Is(err, caldav.ErrConflict):
		return FailureAlreadyExists
	case errors.Is(err, caldav.ErrServerError), errors.Is(err, caldav.ErrConnection):
		return FailureTransient
	default:
		return FailureRejected
	}
}

// PostProcessPayload adjusts encoder output for this provider: strips the
// configured property lines and optionally inserts a bare METHOD line after
// PRODID. Divergence is data (which lines to strip or add), not control flow.
func (s *Strategy) PostProcessPayload(payload string) string {
	if len(s.stripProps) == 0 && !s.insertEmptyMethod {
		return payload
	}

	lines := strings.Split(payload, "\r\n")
	out := make([]string, 0, len(lines)+1)

	for _, line := range lines {
		if s.stripLine(line) {
			continue
		}

		out = append(out, line)

		if s.insertEmptyMethod && strings.HasPrefix(line, "PRODID:") {
			out = append(out, "METHOD:")
		}
	}

	return strings.Join(out, "\r\n")
}

func (s *Strategy) stripLine(line string) bool {
	for _, prefix := range s.stripProps {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}

	return false
}

// TruncateSummary applies the provider's summary length cap.
func (s *Strategy) TruncateSummary(title string) string {
	return truncate(title, s.MaxSummaryLen)
}

// TruncateDescription applies the provider's description length cap.
func (s *Strategy) TruncateDescription(desc string) string {
	return truncate(desc, s.MaxDescriptionLen)
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit-3]) + "..."
}

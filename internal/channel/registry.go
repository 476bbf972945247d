package channel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

const (
	listSeparator = ","
	pairSeparator = ":"
)

// Descriptor is one immutable registry row.
type Descriptor struct {
	ID         domain.Channel
	Name       string
	RawContent bool
	TTL        time.Duration
}

// Source holds the delimited configuration strings the registry is parsed from.
//
//	IDs:        "10,20,30"
//	Names:      "email,sms,dingDingRobot"
//	RawContent: "20"
//	TTLs:       "10:300000,20:60000,30:120000" (milliseconds)
type Source struct {
	IDs        string
	Names      string
	RawContent string
	TTLs       string
}

// Registry is a read-only lookup table. It is never mutated after Parse
// returns, so concurrent reads need no locking.
type Registry struct {
	byID  map[domain.Channel]Descriptor
	order []domain.Channel
}

func Parse(src Source) (*Registry, error) {
	ids, err := parseIDList(src.IDs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one channel id is required", domain.ErrValidation)
	}

	names := splitList(src.Names)
	if len(names) != len(ids) {
		return nil, fmt.Errorf("%w: %d channel ids but %d names", domain.ErrValidation, len(ids), len(names))
	}

	raw, err := parseIDList(src.RawContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw content channels: %w", err)
	}

	ttls, err := parseTTLTable(src.TTLs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel ttls: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(ids))
	for i, id := range ids {
		descriptors = append(descriptors, Descriptor{ID: id, Name: names[i], TTL: ttls[id]})
	}

	for _, id := range raw {
		if !containsID(ids, id) {
			return nil, fmt.Errorf("%w: raw content channel %d is not registered", domain.ErrValidation, id)
		}
	}
	for i := range descriptors {
		descriptors[i].RawContent = containsID(raw, descriptors[i].ID)
	}
	for id := range ttls {
		if !containsID(ids, id) {
			return nil, fmt.Errorf("%w: ttl configured for unregistered channel %d", domain.ErrValidation, id)
		}
	}

	return New(descriptors)
}

// New builds a registry from explicit descriptors.
func New(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[domain.Channel]Descriptor, len(descriptors))}

	for _, d := range descriptors {
		if d.ID <= 0 {
			return nil, fmt.Errorf("%w: invalid channel id %d", domain.ErrValidation, d.ID)
		}
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("%w: channel %d has no name", domain.ErrValidation, d.ID)
		}
		if d.TTL <= 0 {
			return nil, fmt.Errorf("%w: channel %d has no delivery ttl", domain.ErrValidation, d.ID)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate channel id %d", domain.ErrValidation, d.ID)
		}
		d.Name = strings.TrimSpace(d.Name)
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}

	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r, nil
}

// ChannelsOf returns every registered channel id in ascending order.
func (r *Registry) ChannelsOf() []domain.Channel {
	if r == nil {
		return nil
	}
	return append([]domain.Channel(nil), r.order...)
}

func (r *Registry) Contains(ch domain.Channel) bool {
	_, ok := r.Descriptor(ch)
	return ok
}

func (r *Registry) Descriptor(ch domain.Channel) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.byID[ch]
	return d, ok
}

// NameOf returns the configured display name, or the numeric id for unknown channels.
func (r *Registry) NameOf(ch domain.Channel) string {
	if d, ok := r.Descriptor(ch); ok {
		return d.Name
	}
	return strconv.Itoa(int(ch))
}

// NeedsRawContent reports whether placeholder rewriting is forbidden for ch.
func (r *Registry) NeedsRawContent(ch domain.Channel) bool {
	d, ok := r.Descriptor(ch)
	return ok && d.RawContent
}

// TTLOf returns the delayed-delivery expiry for ch, or zero when unregistered.
func (r *Registry) TTLOf(ch domain.Channel) time.Duration {
	d, ok := r.Descriptor(ch)
	if !ok {
		return 0
	}
	return d.TTL
}

func splitList(s string) []string {
	parts := strings.Split(s, listSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseIDList(s string) ([]domain.Channel, error) {
	items := splitList(s)
	out := make([]domain.Channel, 0, len(items))
	for _, item := range items {
		id, err := strconv.Atoi(item)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid channel id %q", domain.ErrValidation, item)
		}
		out = append(out, domain.Channel(id))
	}
	return out, nil
}

func parseTTLTable(s string) (map[domain.Channel]time.Duration, error) {
	out := make(map[domain.Channel]time.Duration)
	for _, item := range splitList(s) {
		key, value, ok := strings.Cut(item, pairSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: ttl entry %q must be id:milliseconds", domain.ErrValidation, item)
		}

		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid channel id in ttl entry %q", domain.ErrValidation, item)
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("%w: invalid ttl in entry %q", domain.ErrValidation, item)
		}

		out[domain.Channel(id)] = time.Duration(ms) * time.Millisecond
	}
	return out, nil
}

func containsID(ids []domain.Channel, id domain.Channel) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

package workerpool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"go.uber.org/zap"
)

var ErrNoPool = errors.New("no worker pool for channel")

// ChannelSource lists the channels that get a pool.
type ChannelSource interface {
	ChannelsOf() []domain.Channel
	NameOf(ch domain.Channel) string
}

// Set is the fixed channel-to-pool mapping. It is built once and never
// resized, so lookups need no locking.
type Set struct {
	pools map[domain.Channel]*Pool
}

// NewSet builds one pool per registered channel. Channels missing from
// sizing use fallback.
func NewSet(channels ChannelSource, sizing map[domain.Channel]Options, fallback Options, logger *zap.Logger) (*Set, error) {
	if channels == nil {
		return nil, fmt.Errorf("channel source is required")
	}

	s := &Set{pools: make(map[domain.Channel]*Pool)}
	for _, ch := range channels.ChannelsOf() {
		opts, ok := sizing[ch]
		if !ok {
			opts = fallback
		}

		pool, err := New(channels.NameOf(ch), opts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool for channel %d: %w", ch, err)
		}
		s.pools[ch] = pool
	}

	for ch := range sizing {
		if _, ok := s.pools[ch]; !ok {
			return nil, fmt.Errorf("%w: pool sizing for unregistered channel %d", domain.ErrValidation, ch)
		}
	}

	return s, nil
}

func (s *Set) Pool(ch domain.Channel) (*Pool, bool) {
	pool, ok := s.pools[ch]
	return pool, ok
}

// Submit routes job to the pool owned by ch.
func (s *Set) Submit(ch domain.Channel, job Job) error {
	pool, ok := s.pools[ch]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoPool, ch)
	}
	return pool.Submit(job)
}

func (s *Set) Start(ctx context.Context) {
	for _, pool := range s.pools {
		pool.Start(ctx)
	}
}

func (s *Set) Close() {
	for _, pool := range s.pools {
		pool.Close()
	}
}

// ParseOptionsTable parses "id:workers:queue[:ratePerSec]" entries separated by commas.
func ParseOptionsTable(s string) (map[domain.Channel]Options, error) {
	out := make(map[domain.Channel]Options)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		fields := strings.Split(item, ":")
		if len(fields) != 3 && len(fields) != 4 {
			return nil, fmt.Errorf("%w: pool entry %q must be id:workers:queue[:rate]", domain.ErrValidation, item)
		}

		values := make([]int, len(fields))
		for i, f := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w: invalid number in pool entry %q", domain.ErrValidation, item)
			}
			values[i] = v
		}
		if values[0] == 0 || values[1] == 0 || values[2] == 0 {
			return nil, fmt.Errorf("%w: pool entry %q needs positive id, workers and queue", domain.ErrValidation, item)
		}

		opts := Options{Workers: values[1], QueueDepth: values[2]}
		if len(values) == 4 {
			opts.RatePerSec = values[3]
		}
		out[domain.Channel(values[0])] = opts
	}
	return out, nil
}

package flag

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	id "trustdesk/pkg/domain"
)

const flagSet = "trustdesk:intake:flagged"

// RedisFlagStore keeps flagged ids in one set. The set has no TTL.
type RedisFlagStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisFlagStore {
	return &RedisFlagStore{client: client}
}

func (s *RedisFlagStore) Flag(ctx context.Context, submitterID id.SubmitterID) (bool, error) {
	added, err := s.client.SAdd(ctx, flagSet, submitterID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("flag submitter: %w", err)
	}
	return added == 1, nil
}

func (s *RedisFlagStore) IsFlagged(ctx context.Context, submitterID id.SubmitterID) (bool, error) {
	ok, err := s.client.SIsMember(ctx, flagSet, submitterID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check flag: %w", err)
	}
	return ok, nil
}

func (s *RedisFlagStore) Unflag(ctx context.Context, submitterID id.SubmitterID) (bool, error) {
	removed, err := s.client.SRem(ctx, flagSet, submitterID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("unflag submitter: %w", err)
	}
	return removed == 1, nil
}

func (s *RedisFlagStore) List(ctx context.Context) ([]id.SubmitterID, error) {
	members, err := s.client.SMembers(ctx, flagSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	out := make([]id.SubmitterID, 0, len(members))
	for _, m := range members {
		v, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id.SubmitterID(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

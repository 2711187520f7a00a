package giftcode

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// SuggestRewards returns up to limit known reward names matching query, best first.
// An empty query lists names alphabetically.
func (r *Registry) SuggestRewards(query string, limit int) ([]string, error) {
	names, err := r.store.ListRewardNames()
	if err != nil {
		return nil, err
	}
	return rankNames(query, names, limit), nil
}

// MatchReward resolves query against known reward names. A case-insensitive exact
// match wins; otherwise the best fuzzy match is used.
func (r *Registry) MatchReward(query string) (string, bool, error) {
	names, err := r.store.ListRewardNames()
	if err != nil {
		return "", false, err
	}
	name, ok := matchName(query, names)
	return name, ok, nil
}

// AddReward sets qty of reward on code. A reward name differing from a known one only
// by case is stored under the known spelling. Returns the stored name.
func (r *Registry) AddReward(code, reward string, qty int64) (string, error) {
	reward = strings.TrimSpace(reward)
	if reward == "" {
		return "", fmt.Errorf("giftcode: empty reward name")
	}
	c, err := r.Get(code)
	if err != nil {
		return "", err
	}
	names, err := r.store.ListRewardNames()
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if strings.EqualFold(n, reward) {
			reward = n
			break
		}
	}
	defer r.invalidate(c.Code)
	if err := r.store.UpsertCodeReward(c.Code, reward, qty); err != nil {
		return "", err
	}
	return reward, nil
}

// RemoveReward removes the reward of code that best matches query. Returns the
// removed name.
func (r *Registry) RemoveReward(code, query string) (string, error) {
	c, err := r.Get(code)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(c.Rewards))
	for _, rw := range c.Rewards {
		names = append(names, rw.Name)
	}
	name, ok := matchName(query, names)
	if !ok {
		return "", fmt.Errorf("giftcode: %s has no reward matching %q", c.Code, query)
	}
	defer r.invalidate(c.Code)
	if _, err := r.store.DeleteCodeReward(c.Code, name); err != nil {
		return "", err
	}
	return name, nil
}

func matchName(query string, names []string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false
	}
	for _, n := range names {
		if strings.EqualFold(n, query) {
			return n, true
		}
	}
	ranked := rankNames(query, names, 1)
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0], true
}

func rankNames(query string, names []string, limit int) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		if limit > 0 && len(names) > limit {
			names = names[:limit]
		}
		return append([]string(nil), names...)
	}
	// Fold both sides so ranking ignores case.
	folded := make([]string, len(names))
	for i, n := range names {
		folded[i] = strings.ToLower(n)
	}
	matches := fuzzy.Find(strings.ToLower(query), folded)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, names[m.Index])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

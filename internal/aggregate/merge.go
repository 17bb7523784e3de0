package aggregate

import (
	"encoding/json"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"apidirectory/internal/core"
)

// popularProviders are ranked ahead of everything else, in this order
var popularProviders = []string{
	"googleapis.com",
	"github.com",
	"stripe.com",
	"amazonaws.com",
	"azure.com",
	"twilio.com",
	"slack.com",
	"spotify.com",
	"atlassian.com",
	"salesforce.com",
}

// unionStrings merges sets into one sorted, duplicate-free list
func unionStrings(sets ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, set := range sets {
		for _, s := range set {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// mergeRecords unions layers given in precedence order, highest first.
// A key present in several layers keeps the whole record of the first one.
func mergeRecords(layers ...map[string]core.APIRecord) map[string]core.APIRecord {
	out := make(map[string]core.APIRecord)
	for _, layer := range layers {
		for id, rec := range layer {
			if _, ok := out[id]; !ok {
				out[id] = rec
			}
		}
	}
	return out
}

// filterList returns the entries of list matching query, ordered by id
func filterList(list core.APIList, query string) []core.SearchResult {
	var hits []core.SearchResult
	for _, id := range list.SortedIDs() {
		if hit := core.NewSearchResult(id, list[id]); hit.Matches(query) {
			hits = append(hits, hit)
		}
	}
	return hits
}

// dedupResults concatenates groups given in precedence order and keeps the first hit per id
func dedupResults(groups ...[]core.SearchResult) []core.SearchResult {
	seen := make(map[string]struct{})
	out := []core.SearchResult{}
	for _, group := range groups {
		for _, hit := range group {
			if _, ok := seen[hit.ID]; ok {
				continue
			}
			seen[hit.ID] = struct{}{}
			out = append(out, hit)
		}
	}
	return out
}

// sumMetrics adds the counters of every document. Missing, negative or
// non-numeric fields count as zero.
func sumMetrics(docs ...json.RawMessage) *core.Metrics {
	total := &core.Metrics{}
	for _, doc := range docs {
		if !gjson.ValidBytes(doc) {
			continue
		}
		for _, name := range core.MetricFields {
			*total.Field(name) += metricValue(gjson.GetBytes(doc, name))
		}
	}
	return total
}

func metricValue(r gjson.Result) int64 {
	if r.Type != gjson.Number {
		return 0
	}
	if math.IsNaN(r.Num) || math.IsInf(r.Num, 0) || r.Num < 0 || r.Num > math.MaxInt64/4 {
		return 0
	}
	return int64(r.Num)
}

// rankPopular orders list by the curated providers, then by number of versions, then by id
func rankPopular(list core.APIList, limit int) []core.SearchResult {
	ids := list.SortedIDs()
	rank := func(id string) int {
		if i := slices.Index(popularProviders, core.ProviderOf(id)); i >= 0 {
			return i
		}
		return len(popularProviders)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		ri, rj := rank(ids[i]), rank(ids[j])
		if ri != rj {
			return ri < rj
		}
		vi, vj := len(list[ids[i]].Versions), len(list[ids[j]].Versions)
		if vi != vj {
			return vi > vj
		}
		return ids[i] < ids[j]
	})
	return results(list, ids, limit)
}

// rankRecent orders list by the preferred version's update time, newest first
func rankRecent(list core.APIList, limit int) []core.SearchResult {
	ids := list.SortedIDs()
	updated := make(map[string]time.Time, len(ids))
	for _, id := range ids {
		rec := list[id]
		_, info, _ := rec.PreferredVersion()
		updated[id] = parseTime(info.Updated)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return updated[ids[i]].After(updated[ids[j]])
	})
	return results(list, ids, limit)
}

func results(list core.APIList, ids []string, limit int) []core.SearchResult {
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]core.SearchResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.NewSearchResult(id, list[id]))
	}
	return out
}

// parseTime accepts RFC 3339 timestamps and plain dates; anything else is the zero time
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

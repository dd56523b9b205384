package parse

import (
	"slices"
	"strings"
)

// groupStations merges top-level stations related by a transfer whose strategy
// is GROUP_STATIONS into synthetic grouped stations. It returns the stops with
// updated parent references followed by the new stations, and the set of
// transfer pairs that were absorbed by a grouping.
func groupStations(stops []Stop, rows []transferRow, config TransfersConfig) ([]Stop, map[[2]string]bool) {
	byID := make(map[string]int, len(stops))
	for i, stop := range stops {
		byID[stop.ID] = i
	}

	parent := map[string]string{}
	var find func(string) string
	find = func(id string) string {
		p, ok := parent[id]
		if !ok || p == id {
			return id
		}
		root := find(p)
		parent[id] = root
		return root
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra > rb {
			ra, rb = rb, ra
		}
		parent[rb] = ra
		parent[ra] = ra
	}

	for _, row := range rows {
		if row.fromStopID == row.toStopID {
			continue
		}
		if config.StrategyFor(row.fromStopID, row.toStopID) != TransfersGroupStations {
			continue
		}
		fromIdx, fromOK := byID[row.fromStopID]
		toIdx, toOK := byID[row.toStopID]
		if !fromOK || !toOK || !isTopLevelStation(stops[fromIdx]) || !isTopLevelStation(stops[toIdx]) {
			continue
		}
		union(row.fromStopID, row.toStopID)
	}

	components := map[string][]string{}
	for id := range parent {
		root := find(id)
		components[root] = append(components[root], id)
	}

	out := slices.Clone(stops)
	var stations []Stop
	grouped := map[[2]string]bool{}
	for _, members := range components {
		if len(members) < 2 {
			continue
		}
		slices.Sort(members)
		children := make([]Stop, 0, len(members))
		for _, id := range members {
			children = append(children, stops[byID[id]])
		}
		station := createStationFromChildStops(children)
		for _, id := range members {
			out[byID[id]].ParentID = ptr(station.ID)
		}
		stations = append(stations, station)
	}
	slices.SortFunc(stations, func(a, b Stop) int { return strings.Compare(a.ID, b.ID) })

	for _, row := range rows {
		if _, ok := parent[row.fromStopID]; !ok {
			continue
		}
		if _, ok := parent[row.toStopID]; !ok {
			continue
		}
		if find(row.fromStopID) == find(row.toStopID) {
			grouped[[2]string{row.fromStopID, row.toStopID}] = true
		}
	}
	return append(out, stations...), grouped
}

func isTopLevelStation(stop Stop) bool {
	return stop.ParentID == nil && stop.Type == StopTypeStation
}

// createStationFromChildStops builds the synthetic parent for a group of
// stops. Its name is the most common child name when one such name contains
// all the other most common names, otherwise those names joined by " / ".
func createStationFromChildStops(children []Stop) Stop {
	ids := make([]string, 0, len(children))
	counts := map[string]int{}
	var latSum, lonSum float64
	for _, child := range children {
		ids = append(ids, child.ID)
		counts[child.Name]++
		latSum += child.Latitude
		lonSum += child.Longitude
	}
	slices.Sort(ids)

	maxCount := 0
	for _, n := range counts {
		maxCount = max(maxCount, n)
	}
	var candidates []string
	for name, n := range counts {
		if n == maxCount {
			candidates = append(candidates, name)
		}
	}
	slices.Sort(candidates)

	name := strings.Join(candidates, " / ")
	for _, candidate := range candidates {
		containsAll := true
		for _, other := range candidates {
			if !strings.Contains(candidate, other) {
				containsAll = false
				break
			}
		}
		if containsAll {
			name = candidate
			break
		}
	}

	n := float64(len(children))
	return Stop{
		ID:        strings.Join(ids, "-"),
		Name:      name,
		Latitude:  latSum / n,
		Longitude: lonSum / n,
		Type:      StopTypeGroupedStation,
	}
}

package peripheral

import (
	"sort"
)

// subscriptions is the characteristic × central side table
type subscriptions struct {
	byChar map[CharacteristicHandle]map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byChar: make(map[CharacteristicHandle]map[string]struct{})}
}

func (s *subscriptions) add(h CharacteristicHandle, central string) bool {
	set, ok := s.byChar[h]
	if !ok {
		set = make(map[string]struct{})
		s.byChar[h] = set
	}
	if _, exists := set[central]; exists {
		return false
	}
	set[central] = struct{}{}
	return true
}

func (s *subscriptions) remove(h CharacteristicHandle, central string) bool {
	set, ok := s.byChar[h]
	if !ok {
		return false
	}
	if _, exists := set[central]; !exists {
		return false
	}
	delete(set, central)
	if len(set) == 0 {
		delete(s.byChar, h)
	}
	return true
}

// removeCentral drops a central from every characteristic and returns how many entries went away
func (s *subscriptions) removeCentral(central string) int {
	n := 0
	for h := range s.byChar {
		if s.remove(h, central) {
			n++
		}
	}
	return n
}

// centrals returns the subscribers of h in a stable order
func (s *subscriptions) centrals(h CharacteristicHandle) []string {
	set := s.byChar[h]
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *subscriptions) clear() {
	s.byChar = make(map[CharacteristicHandle]map[string]struct{})
}

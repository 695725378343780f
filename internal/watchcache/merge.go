package watchcache

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kconsole/pkg/resources"
)

// Outcome describes what Apply did to a list.
type Outcome int

const (
	// Unchanged means the event was a no-op.
	Unchanged Outcome = iota
	// Updated means an element's payload was replaced in place. The
	// returned list is the input list.
	Updated
	// Inserted means a new list with one more element was returned.
	Inserted
	// Removed means a new list with one element less was returned.
	Removed
	// Unknown means the event type is not recognized.
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "Unchanged"
	case Updated:
		return "Updated"
	case Inserted:
		return "Inserted"
	case Removed:
		return "Removed"
	case Unknown:
		return "Unknown"
	}
	return "Invalid"
}

// Apply folds ev into list. Additions and removals return a new slice and
// never write to the backing array of list. Modifications, and additions of
// a name that is already present, replace the element's payload in place
// and return list itself. A nil event, an event without a name, a
// modification or deletion of an absent name leave list unchanged.
func Apply(kind resources.Kind, list resources.List, ev *resources.Event) (resources.List, Outcome) {
	if ev == nil {
		return list, Unchanged
	}
	if !ev.Type.Known() {
		return list, Unknown
	}
	if ev.Object == nil {
		return list, Unchanged
	}
	name := resources.NameOf(ev.Object.Object)
	if name == "" {
		return list, Unchanged
	}
	i := list.Index(name)

	switch ev.Type {
	case resources.Added:
		if i >= 0 {
			list[i].SetObject(ev.Object)
			return list, Updated
		}
		r, err := resources.New(kind, ev.Object)
		if err != nil {
			return list, Unchanged
		}
		next := make(resources.List, len(list), len(list)+1)
		copy(next, list)
		return append(next, r), Inserted
	case resources.Modified:
		if i < 0 {
			return list, Unchanged
		}
		list[i].SetObject(ev.Object)
		return list, Updated
	case resources.Deleted:
		if i < 0 {
			return list, Unchanged
		}
		next := make(resources.List, 0, len(list)-1)
		next = append(next, list[:i]...)
		return append(next, list[i+1:]...), Removed
	}
	return list, Unknown
}

// FromObjects wraps a list snapshot. When a name occurs more than once the
// first position is kept with the last payload.
func FromObjects(kind resources.Kind, objs []*unstructured.Unstructured) resources.List {
	list := make(resources.List, 0, len(objs))
	seen := make(map[string]int, len(objs))
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		name := resources.NameOf(obj.Object)
		if i, ok := seen[name]; ok && name != "" {
			list[i].SetObject(obj)
			continue
		}
		r, err := resources.New(kind, obj)
		if err != nil {
			continue
		}
		seen[name] = len(list)
		list = append(list, r)
	}
	return list
}
